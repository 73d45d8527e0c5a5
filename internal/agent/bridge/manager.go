package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"voxelmind.ai/internal/protocol"
)

type Config struct {
	ServerWSURL string
	StateFile   string
	MaxSessions int
	Seed        uint64
	Logger      *zap.Logger
}

// Manager keys one Session per agent and evicts the least recently used one
// past MaxSessions.
type Manager struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	state    map[string]persistedSession

	closed bool
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.ServerWSURL == "" {
		return nil, fmt.Errorf("empty server ws url")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	st, err := loadStateFile(cfg.StateFile)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger.Named("bridge"),
		sessions: map[string]*Session{},
		state:    st,
	}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return nil
}

func (m *Manager) GetStatus(ctx context.Context, sessionKey string) (Status, error) {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return Status{}, err
	}
	_ = ctx
	return s.Status(), nil
}

func (m *Manager) Begin(ctx context.Context, sessionKey string) (Status, error) {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return Status{}, err
	}
	s.ResumeReconnect()
	return s.Begin(ctx)
}

func (m *Manager) NextTrial(ctx context.Context, sessionKey string, opts NextTrialOpts) (TrialResult, error) {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return TrialResult{}, err
	}
	s.ResumeReconnect()
	return s.NextTrial(ctx, opts)
}

func (m *Manager) Answer(ctx context.Context, sessionKey string, args AnswerArgs) (AnswerResult, error) {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return AnswerResult{}, err
	}
	s.ResumeReconnect()
	return s.Answer(ctx, args)
}

func (m *Manager) Summary(ctx context.Context, sessionKey string, opts SummaryOpts) (protocol.SummaryMsg, error) {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return protocol.SummaryMsg{}, err
	}
	s.ResumeReconnect()
	return s.Summary(ctx, opts)
}

func (m *Manager) ResetGame(ctx context.Context, sessionKey string) (Status, error) {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return Status{}, err
	}
	s.ResumeReconnect()
	return s.ResetGame(ctx)
}

func (m *Manager) Disconnect(ctx context.Context, sessionKey string) error {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return err
	}
	_ = ctx
	s.DisconnectAndPause()
	return nil
}

func (m *Manager) getOrCreateSession(key string) (*Session, error) {
	if key == "" {
		key = "default"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("bridge manager closed")
	}

	if s := m.sessions[key]; s != nil {
		return s, nil
	}

	// Enforce max sessions (simple LRU by lastUsedAt).
	if len(m.sessions) >= m.cfg.MaxSessions {
		var oldestKey string
		var oldest time.Time
		for k, s := range m.sessions {
			t := s.LastUsedAt()
			if oldestKey == "" || t.Before(oldest) {
				oldestKey = k
				oldest = t
			}
		}
		if oldestKey != "" {
			m.log.Info("evicting idle agent", zap.String("agent", oldestKey))
			// Close waits for the read loop, which may be blocked on m.mu.
			go m.sessions[oldestKey].Close()
			delete(m.sessions, oldestKey)
		}
	}

	ps := m.state[key]
	s := NewSession(SessionConfig{
		Key:            key,
		ServerWSURL:    m.cfg.ServerWSURL,
		Seed:           m.cfg.Seed,
		Logger:         m.log,
		GamesCompleted: ps.GamesCompleted,
		BestScore:      ps.BestScore,
	}, m.onSessionUpdate)
	m.sessions[key] = s
	s.Start()
	return s, nil
}

func (m *Manager) onSessionUpdate(key string, upd sessionUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	ps := m.state[key]
	if upd.SessionID != "" {
		ps.LastSessionID = upd.SessionID
	}
	if !upd.LastConnectedAt.IsZero() {
		ps.LastConnectedAt = upd.LastConnectedAt.UTC().Format(time.RFC3339Nano)
	}
	if upd.FinalScore != nil {
		ps.GamesCompleted++
		ps.LastScore = *upd.FinalScore
		if ps.GamesCompleted == 1 || *upd.FinalScore > ps.BestScore {
			ps.BestScore = *upd.FinalScore
		}
	}
	m.state[key] = ps

	// Persist whole file; updates happen a few times per game.
	b, _ := json.MarshalIndent(m.state, "", "  ")
	if err := writeFileAtomic(m.cfg.StateFile, append(b, '\n')); err != nil {
		m.log.Warn("persist bridge state", zap.Error(err))
	}
}
