package observer

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"voxelmind.ai/internal/protocol"
	"voxelmind.ai/internal/sim/session"
)

const subscriberQueue = 256

type frame struct {
	sessionID string
	summary   bool
	b         []byte
}

type subscriber struct {
	out chan []byte

	mu            sync.Mutex
	sessions      map[string]bool
	summariesOnly bool
}

func (s *subscriber) wants(f frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summariesOnly && !f.summary {
		return false
	}
	return len(s.sessions) == 0 || s.sessions[f.sessionID]
}

func (s *subscriber) set(ids []string, summariesOnly bool) {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			m[id] = true
		}
	}
	s.mu.Lock()
	s.sessions = m
	s.summariesOnly = summariesOnly
	s.mu.Unlock()
}

// Hub fans finished trials and session summaries out to monitor connections.
// It is a session sink: publishing never blocks the session runner, a
// subscriber whose queue is full misses the frame.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*subscriber

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[string]*subscriber{}}
}

func (h *Hub) WriteOutcome(o session.Outcome) {
	h.publish(o.SessionID, false, protocol.ResultFrom(o))
}

func (h *Hub) RecordSummary(r session.Report) {
	h.publish(r.SessionID, true, protocol.SummaryFrom(r))
}

func (h *Hub) publish(sessionID string, summary bool, v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.subs) == 0 {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	f := frame{sessionID: sessionID, summary: summary, b: b}
	h.published.Add(1)
	for _, s := range h.subs {
		if !s.wants(f) {
			continue
		}
		select {
		case s.out <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) join(id string) *subscriber {
	s := &subscriber{out: make(chan []byte, subscriberQueue)}
	h.mu.Lock()
	h.subs[id] = s
	h.mu.Unlock()
	return s
}

func (h *Hub) leave(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

type Stats struct {
	Observers      int    `json:"observers"`
	PublishedTotal uint64 `json:"published_total"`
	DroppedTotal   uint64 `json:"dropped_total"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return Stats{
		Observers:      n,
		PublishedTotal: h.published.Load(),
		DroppedTotal:   h.dropped.Load(),
	}
}
