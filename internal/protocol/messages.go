package protocol

import "voxelmind.ai/internal/sim/encoding"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// ParticipantHint is an opaque label; the server never interprets it.
	ParticipantHint string  `json:"participant_hint,omitempty"`
	Seed            *uint64 `json:"seed,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	Params          SessionParams `json:"params"`
}

type SessionParams struct {
	MaxLevel       int     `json:"max_level"`
	TimeLimitMs    int64   `json:"time_limit_ms"`
	TickIntervalMs int     `json:"tick_interval_ms"`
	SameProb       float64 `json:"same_prob"`
	ScoreCorrect   int     `json:"score_correct"`
	ScoreIncorrect int     `json:"score_incorrect"`
	Seed           uint64  `json:"seed"`
}

// CMD (client -> server). Choice is required for ANSWER and ignored
// otherwise.
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	Cmd             string `json:"cmd"`
	Choice          *bool  `json:"choice,omitempty"`
}

// STATE (server -> client)
type StateMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	Phase           string       `json:"phase"`
	Round           int          `json:"round"`
	Level           int          `json:"level"`
	Score           int          `json:"score"`
	TimeLeftMs      int64        `json:"time_left_ms"`
	AwaitingStart   bool         `json:"awaiting_start"`
	GameOver        bool         `json:"game_over"`
	TrialID         string       `json:"trial_id,omitempty"`
	Log             []OutcomeMsg `json:"log"`
}

// Shape is a polycube as centered float blocks for renderers, integer voxels
// at the origin, and an occupancy grid.
type Shape struct {
	Blocks [][3]float64  `json:"blocks"`
	Voxels [][3]int      `json:"voxels"`
	Grid   encoding.Grid `json:"grid"`
}

// TRIAL (server -> client)
type TrialMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id,omitempty"`
	TrialID         string `json:"trial_id"`
	Round           int    `json:"round"`
	Level           int    `json:"level"`
	CubeCount       int    `json:"cube_count"`
	TimeLimitMs     int64  `json:"time_limit_ms"`
	Target          Shape  `json:"target"`
	Probe           Shape  `json:"probe"`
	// Reveal is only set on the preview endpoint, never during a session.
	Reveal *TrialReveal `json:"reveal,omitempty"`
}

type TrialReveal struct {
	Truth      bool   `json:"truth"`
	Kind       string `json:"kind"`
	IsNearMiss bool   `json:"is_near_miss"`
	ProbeSteps [3]int `json:"probe_steps"`
}

type OutcomeMsg struct {
	TrialID        string `json:"trial_id"`
	Round          int    `json:"round"`
	Level          int    `json:"level"`
	CubeCount      int    `json:"cube_count"`
	IsNearMiss     bool   `json:"is_near_miss"`
	Truth          bool   `json:"truth"`
	Choice         *bool  `json:"choice,omitempty"`
	Correct        bool   `json:"correct"`
	ReactionTimeMs int64  `json:"reaction_time_ms"`
	IsTimeout      bool   `json:"is_timeout"`
}

// Cue values carried on RESULT.
const (
	CueSuccess = "SUCCESS"
	CueFailure = "FAILURE"
)

// RESULT (server -> client)
type ResultMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	Outcome         OutcomeMsg `json:"outcome"`
	Cue             string     `json:"cue"`
}

type BucketMsg struct {
	Count       int   `json:"count"`
	Correct     int   `json:"correct"`
	Timeouts    int   `json:"timeouts"`
	AccuracyPct int   `json:"accuracy_pct"`
	MeanRTMs    int64 `json:"mean_rt_ms"`
}

// SUMMARY (server -> client)
type SummaryMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	Score           int       `json:"score"`
	Rounds          int       `json:"rounds"`
	Overall         BucketMsg `json:"overall"`
	NearMiss        BucketMsg `json:"near_miss"`
	Normal          BucketMsg `json:"normal"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
