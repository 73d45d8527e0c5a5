package observerproto

import "voxelmind.ai/internal/protocol"

// Version is the monitor protocol version (separate from the session WS protocol).
const Version = "0.1"

const (
	TypeSubscribe  = "SUBSCRIBE"
	TypeSubscribed = "SUBSCRIBED"
)

// Client -> Server. First message on the monitor WS connection, and can be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Empty means every session.
	SessionIDs []string `json:"session_ids,omitempty"`
	// Drop RESULT frames and forward only SUMMARY.
	SummariesOnly bool `json:"summaries_only,omitempty"`
}

// Server -> Client acknowledgement of a SUBSCRIBE.
type SubscribedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ObserverID      string `json:"observer_id"`
	Sessions        int    `json:"sessions"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion     string                 `json:"protocol_version"`
	GameProtocolVersion string                 `json:"game_protocol_version"`
	Params              protocol.SessionParams `json:"params"`
	SessionsActive      int64                  `json:"sessions_active"`
	Observers           int                    `json:"observers"`
}
