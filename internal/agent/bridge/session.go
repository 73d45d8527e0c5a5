package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelmind.ai/internal/protocol"
	"voxelmind.ai/internal/sim/session"
)

const (
	pingEvery = 20 * time.Second
	readIdle  = 60 * time.Second
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrTimeout      = errors.New("timeout waiting for server")
)

type SessionConfig struct {
	Key         string
	ServerWSURL string
	// Seed is sent in HELLO when non-zero.
	Seed   uint64
	Logger *zap.Logger

	GamesCompleted int
	BestScore      int
}

type sessionUpdate struct {
	SessionID       string
	LastConnectedAt time.Time
	FinalScore      *int
}

type onUpdateFn func(key string, upd sessionUpdate)

// Session owns one websocket game session on behalf of one agent. A dropped
// connection is redialled with backoff; the server starts a fresh game on
// every connection.
type Session struct {
	cfg      SessionConfig
	onUpdate onUpdateFn
	log      *zap.Logger

	mu sync.RWMutex

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	paused       bool
	resumeNotify chan struct{}

	connected       bool
	lastConnectedAt time.Time
	lastErr         string

	conn    *websocket.Conn
	writeMu sync.Mutex

	welcome protocol.WelcomeMsg
	state   protocol.StateMsg
	trial   *protocol.TrialMsg
	result  *protocol.ResultMsg
	summary *protocol.SummaryMsg

	errSeq     uint64
	lastSrvErr protocol.ErrorMsg

	games int
	best  int

	// changed is closed and replaced whenever any frame lands.
	changed chan struct{}

	lastUsedAt time.Time
}

func NewSession(cfg SessionConfig, onUpdate onUpdateFn) *Session {
	if cfg.Key == "" {
		cfg.Key = "default"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Session{
		cfg:          cfg,
		onUpdate:     onUpdate,
		log:          cfg.Logger.With(zap.String("agent", cfg.Key)),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		resumeNotify: make(chan struct{}, 1),
		games:        cfg.GamesCompleted,
		best:         cfg.BestScore,
		changed:      make(chan struct{}),
		lastUsedAt:   time.Now(),
	}
}

func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		// Wake a blocking ReadMessage.
		s.Disconnect()
		s.startOnce.Do(func() { close(s.done) })
		<-s.done
	})
}

func (s *Session) Disconnect() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.connected = false
	s.broadcastLocked()
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// DisconnectAndPause drops the connection and keeps it down until the next
// ResumeReconnect.
func (s *Session) DisconnectAndPause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.Disconnect()
}

func (s *Session) ResumeReconnect() {
	s.mu.Lock()
	wasPaused := s.paused
	s.paused = false
	s.mu.Unlock()
	if !wasPaused {
		return
	}
	select {
	case s.resumeNotify <- struct{}{}:
	default:
	}
}

func (s *Session) isPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *Session) LastUsedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsedAt
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) Status() Status {
	s.touch()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	return Status{
		Connected:      s.connected,
		Paused:         s.paused,
		SessionID:      s.state.SessionID,
		ServerWSURL:    s.cfg.ServerWSURL,
		Phase:          s.state.Phase,
		Round:          s.state.Round,
		Level:          s.state.Level,
		Score:          s.state.Score,
		MaxLevel:       s.welcome.Params.MaxLevel,
		TimeLeftMs:     s.state.TimeLeftMs,
		GamesCompleted: s.games,
		BestScore:      s.best,
		LastError:      s.lastErr,
	}
}

// waitFor re-evaluates cond under the read lock after every frame until it
// reports done or fails.
func (s *Session) waitFor(ctx context.Context, timeout time.Duration, cond func() (bool, error)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.RLock()
		ok, err := cond()
		ch := s.changed
		s.mu.RUnlock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrTimeout
		case <-ch:
		}
	}
}

func (s *Session) waitConnected(ctx context.Context, timeout time.Duration) error {
	err := s.waitFor(ctx, timeout, func() (bool, error) {
		return s.connected && s.state.SessionID != "", nil
	})
	if errors.Is(err, ErrTimeout) {
		s.mu.RLock()
		last := s.lastErr
		s.mu.RUnlock()
		if last != "" {
			return fmt.Errorf("%w: %s", ErrNotConnected, last)
		}
		return ErrNotConnected
	}
	return err
}

// serverErrAfter fails a wait once the server reports an ERROR newer than seq.
func (s *Session) serverErrAfter(seq uint64) error {
	if s.errSeq > seq {
		return &protocol.CodeError{Code: s.lastSrvErr.Code, Message: s.lastSrvErr.Message}
	}
	return nil
}

// Begin moves the game to AWAITING_START, resetting a finished game first.
func (s *Session) Begin(ctx context.Context) (Status, error) {
	s.touch()
	if err := s.waitConnected(ctx, 5*time.Second); err != nil {
		return Status{}, err
	}

	s.mu.RLock()
	phase, oldID, seq := s.state.Phase, s.state.SessionID, s.errSeq
	s.mu.RUnlock()

	switch session.Phase(phase) {
	case session.PhaseAwaitingStart, session.PhaseLive:
		return s.Status(), nil
	case session.PhaseGameOver:
		if err := s.sendCmd(protocol.CmdReset, nil); err != nil {
			return Status{}, err
		}
		if err := s.waitFor(ctx, 2*time.Second, func() (bool, error) {
			return s.state.SessionID != oldID, s.serverErrAfter(seq)
		}); err != nil {
			return Status{}, err
		}
	}

	if err := s.sendCmd(protocol.CmdStart, nil); err != nil {
		return Status{}, err
	}
	err := s.waitFor(ctx, 2*time.Second, func() (bool, error) {
		return s.state.Phase == string(session.PhaseAwaitingStart), s.serverErrAfter(seq)
	})
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

// NextTrial starts the next round and returns its shapes. While a round is
// live it returns the current trial instead.
func (s *Session) NextTrial(ctx context.Context, opts NextTrialOpts) (TrialResult, error) {
	s.touch()
	if opts.Mode == "" {
		opts.Mode = TrialModeVoxels
	}
	if opts.Mode != TrialModeFull && opts.Mode != TrialModeVoxels {
		return TrialResult{}, fmt.Errorf("unknown mode: %s", opts.Mode)
	}
	timeout := time.Duration(opts.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if err := s.waitConnected(ctx, 5*time.Second); err != nil {
		return TrialResult{}, err
	}

	s.mu.RLock()
	phase, seq := session.Phase(s.state.Phase), s.errSeq
	var cur *protocol.TrialMsg
	if s.trial != nil && s.trial.Round == s.state.Round {
		cur = s.trial
	}
	prev := 0
	if s.trial != nil {
		prev = s.trial.Round
	}
	s.mu.RUnlock()

	switch phase {
	case session.PhaseLive:
		if cur != nil {
			return trialResult(*cur, opts.Mode), nil
		}
	case session.PhaseAwaitingStart:
	case session.PhaseGameOver:
		return TrialResult{}, errors.New("game over; call voxelmind.start for a new game")
	default:
		return TrialResult{}, errors.New("game not started; call voxelmind.start")
	}

	if phase != session.PhaseLive {
		if err := s.sendCmd(protocol.CmdRound, nil); err != nil {
			return TrialResult{}, err
		}
	}
	var got protocol.TrialMsg
	err := s.waitFor(ctx, timeout, func() (bool, error) {
		if s.trial != nil && s.trial.Round > prev {
			got = *s.trial
			return true, nil
		}
		return false, s.serverErrAfter(seq)
	})
	if err != nil {
		return TrialResult{}, err
	}
	return trialResult(got, opts.Mode), nil
}

func trialResult(m protocol.TrialMsg, mode TrialMode) TrialResult {
	out := TrialResult{
		SessionID:   m.SessionID,
		TrialID:     m.TrialID,
		Round:       m.Round,
		Level:       m.Level,
		CubeCount:   m.CubeCount,
		TimeLimitMs: m.TimeLimitMs,
		Target:      m.Target,
		Probe:       m.Probe,
	}
	if mode == TrialModeVoxels {
		out.Target = protocol.Shape{Voxels: m.Target.Voxels}
		out.Probe = protocol.Shape{Voxels: m.Probe.Voxels}
	}
	return out
}

// Answer submits a same/different judgement for the current trial and waits
// for its result.
func (s *Session) Answer(ctx context.Context, args AnswerArgs) (AnswerResult, error) {
	s.touch()
	if args.Same == nil {
		return AnswerResult{}, errors.New("missing same")
	}
	timeout := time.Duration(args.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	s.mu.RLock()
	if s.trial == nil {
		s.mu.RUnlock()
		return AnswerResult{}, errors.New("no trial; call voxelmind.next_trial")
	}
	round, seq := s.trial.Round, s.errSeq
	var done *protocol.ResultMsg
	if s.result != nil && s.result.Outcome.Round == round {
		done = s.result
	}
	s.mu.RUnlock()

	if done != nil {
		res := s.answerResult(*done)
		res.Finished = true
		return res, nil
	}

	if err := s.sendCmd(protocol.CmdAnswer, args.Same); err != nil {
		return AnswerResult{}, err
	}
	var got protocol.ResultMsg
	err := s.waitFor(ctx, timeout, func() (bool, error) {
		if s.result != nil && s.result.Outcome.Round == round {
			got = *s.result
			return true, nil
		}
		return false, s.serverErrAfter(seq)
	})
	if err != nil {
		return AnswerResult{}, err
	}
	// The STATE carrying the new score follows the RESULT.
	_ = s.waitFor(ctx, 500*time.Millisecond, func() (bool, error) {
		return s.state.Round == round && s.state.Phase != string(session.PhaseLive), nil
	})
	return s.answerResult(got), nil
}

func (s *Session) answerResult(m protocol.ResultMsg) AnswerResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return AnswerResult{
		Outcome:  m.Outcome,
		Cue:      m.Cue,
		Score:    s.state.Score,
		GameOver: s.welcome.Params.MaxLevel > 0 && m.Outcome.Level >= s.welcome.Params.MaxLevel,
	}
}

// Summary returns the summary of the game played on the current connection.
func (s *Session) Summary(ctx context.Context, opts SummaryOpts) (protocol.SummaryMsg, error) {
	s.touch()
	timeout := time.Duration(opts.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	var got protocol.SummaryMsg
	cond := func() (bool, error) {
		if s.summary != nil {
			got = *s.summary
			return true, nil
		}
		return false, nil
	}
	if !opts.Wait {
		s.mu.RLock()
		ok, _ := cond()
		s.mu.RUnlock()
		if !ok {
			return got, errors.New("no summary yet")
		}
		return got, nil
	}
	if err := s.waitFor(ctx, timeout, cond); err != nil {
		return got, err
	}
	return got, nil
}

// ResetGame abandons the current game and waits for the new session id.
func (s *Session) ResetGame(ctx context.Context) (Status, error) {
	s.touch()
	if err := s.waitConnected(ctx, 5*time.Second); err != nil {
		return Status{}, err
	}
	s.mu.RLock()
	oldID, seq := s.state.SessionID, s.errSeq
	s.mu.RUnlock()
	if err := s.sendCmd(protocol.CmdReset, nil); err != nil {
		return Status{}, err
	}
	err := s.waitFor(ctx, 2*time.Second, func() (bool, error) {
		return s.state.SessionID != oldID, s.serverErrAfter(seq)
	})
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

func (s *Session) sendCmd(cmd string, choice *bool) error {
	b, _ := json.Marshal(protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		Cmd:             cmd,
		Choice:          choice,
	})

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) run() {
	defer close(s.done)

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-s.stop:
			s.Disconnect()
			return
		default:
		}

		if s.isPaused() {
			select {
			case <-s.stop:
				return
			case <-s.resumeNotify:
			}
			backoff = 200 * time.Millisecond
			continue
		}

		err := s.connectAndReadLoop()
		if err == nil {
			// Clean exit.
			return
		}
		if s.isPaused() {
			continue
		}
		s.mu.Lock()
		s.connected = false
		s.lastErr = err.Error()
		s.broadcastLocked()
		s.mu.Unlock()
		s.log.Debug("bridge connection lost", zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-s.stop:
			s.Disconnect()
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
		}
	}
}

func (s *Session) connectAndReadLoop() error {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(s.cfg.ServerWSURL, http.Header{})
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ParticipantHint: s.cfg.Key,
	}
	if s.cfg.Seed != 0 {
		seed := s.cfg.Seed
		hello.Seed = &seed
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.lastErr = ""
	s.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdle))
	})
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-s.stop:
			_ = conn.Close()
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readIdle))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			select {
			case <-s.stop:
				return nil
			default:
			}
			return err
		}
		s.handleFrame(msg)
	}
}

func (s *Session) handleFrame(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.ProtocolVersion != protocol.Version {
		return
	}
	var upd *sessionUpdate

	s.mu.Lock()
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			break
		}
		now := time.Now()
		s.welcome = w
		s.state = protocol.StateMsg{SessionID: w.SessionID, Phase: string(session.PhaseNotStarted)}
		s.trial, s.result, s.summary = nil, nil, nil
		s.connected = true
		s.lastConnectedAt = now
		upd = &sessionUpdate{SessionID: w.SessionID, LastConnectedAt: now}

	case protocol.TypeState:
		var st protocol.StateMsg
		if err := json.Unmarshal(msg, &st); err != nil {
			break
		}
		if st.SessionID != s.state.SessionID {
			// RESET hands out a new session id and clears the game.
			s.trial, s.result, s.summary = nil, nil, nil
			upd = &sessionUpdate{SessionID: st.SessionID}
		}
		st.Log = nil
		s.state = st

	case protocol.TypeTrial:
		var t protocol.TrialMsg
		if err := json.Unmarshal(msg, &t); err == nil {
			s.trial = &t
		}

	case protocol.TypeResult:
		var r protocol.ResultMsg
		if err := json.Unmarshal(msg, &r); err == nil {
			s.result = &r
		}

	case protocol.TypeSummary:
		var sum protocol.SummaryMsg
		if err := json.Unmarshal(msg, &sum); err != nil {
			break
		}
		s.summary = &sum
		s.games++
		if s.games == 1 || sum.Score > s.best {
			s.best = sum.Score
		}
		score := sum.Score
		upd = &sessionUpdate{SessionID: sum.SessionID, FinalScore: &score}

	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err == nil {
			s.errSeq++
			s.lastSrvErr = e
		}
	}
	s.broadcastLocked()
	s.mu.Unlock()

	if upd != nil && s.onUpdate != nil {
		s.onUpdate(s.cfg.Key, *upd)
	}
}
