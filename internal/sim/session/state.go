package session

import (
	"time"

	"voxelmind.ai/internal/sim/geom"
	"voxelmind.ai/internal/sim/trial"
	"voxelmind.ai/internal/sim/tuning"
)

type Phase string

const (
	PhaseNotStarted    Phase = "NOT_STARTED"
	PhaseAwaitingStart Phase = "AWAITING_START"
	PhaseLive          Phase = "LIVE"
	PhaseGameOver      Phase = "GAME_OVER"
)

// Outcome is one log row. Choice is nil for timeouts.
type Outcome struct {
	SessionID      string    `json:"session_id"`
	TrialID        string    `json:"trial_id"`
	Round          int       `json:"round"`
	Level          int       `json:"level"`
	CubeCount      int       `json:"cube_count"`
	IsNearMiss     bool      `json:"is_near_miss"`
	Kind           string    `json:"kind"`
	Truth          bool      `json:"truth"`
	Choice         *bool     `json:"choice,omitempty"`
	Correct        bool      `json:"correct"`
	ReactionTimeMs int64     `json:"reaction_time_ms"`
	IsTimeout      bool      `json:"is_timeout"`
	At             time.Time `json:"at"`
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	SessionID     string
	Phase         Phase
	Round         int
	Level         int
	Score         int
	TimeLeft      time.Duration
	AwaitingStart bool
	GameOver      bool
	Log           []Outcome
	Trial         trial.Trial
	Target        geom.Polycube
	Probe         geom.Polycube
}

// Session holds the state of one participant's run and its pure transitions.
// It has no clock and no goroutines: callers pass the current time in. A
// Session is not safe for concurrent use; Runner serializes access to it.
type Session struct {
	id     string
	tuning tuning.Tuning

	phase Phase
	round int
	level int
	score int
	log   []Outcome

	cur       trial.Trial
	answered  bool
	startedAt time.Time
	timeLeft  time.Duration
}

func New(id string, t tuning.Tuning) *Session {
	s := &Session{id: id, tuning: t}
	s.Reset("")
	return s
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Phase() Phase          { return s.phase }
func (s *Session) Round() int            { return s.round }
func (s *Session) Level() int            { return s.level }
func (s *Session) Score() int            { return s.score }
func (s *Session) Live() bool            { return s.phase == PhaseLive }
func (s *Session) Tuning() tuning.Tuning { return s.tuning }

// Start moves a fresh or waiting session to AwaitingStart, clears the shapes
// and resets the displayed countdown. It reports false when the session is
// live or over.
func (s *Session) Start() bool {
	switch s.phase {
	case PhaseNotStarted, PhaseAwaitingStart:
	default:
		return false
	}
	s.phase = PhaseAwaitingStart
	s.cur = trial.Trial{}
	s.answered = false
	s.timeLeft = s.tuning.TimeLimit()
	return true
}

// NextLevel is the level the next AdvanceRound will run at.
func (s *Session) NextLevel() int {
	if s.round == 0 {
		return 1
	}
	return min(s.tuning.MaxLevel, s.level+1)
}

// AdvanceRound starts the next round with t, which should have been composed
// at NextLevel. It reports false unless the session is awaiting a round.
func (s *Session) AdvanceRound(t trial.Trial, now time.Time) bool {
	if s.phase != PhaseAwaitingStart {
		return false
	}
	s.level = s.NextLevel()
	s.round++
	s.cur = t
	s.answered = false
	s.startedAt = now
	s.timeLeft = s.tuning.TimeLimit()
	s.phase = PhaseLive
	return true
}

// ApplyAnswer scores choice against the live trial. It is a no-op returning
// false when there is no live, unanswered trial. An answer arriving at or
// after the deadline is recorded as a timeout.
func (s *Session) ApplyAnswer(choice bool, now time.Time) (Outcome, bool) {
	if s.phase != PhaseLive || s.answered {
		return Outcome{}, false
	}
	elapsed := now.Sub(s.startedAt)
	if elapsed >= s.tuning.TimeLimit() {
		return s.Expire(now)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	c := choice
	return s.finish(Outcome{
		Choice:         &c,
		Correct:        choice == s.cur.Truth(),
		ReactionTimeMs: elapsed.Round(time.Millisecond).Milliseconds(),
		At:             now,
	}), true
}

// Expire records the live trial as timed out: incorrect, with the reaction
// time pinned to the time limit.
func (s *Session) Expire(now time.Time) (Outcome, bool) {
	if s.phase != PhaseLive || s.answered {
		return Outcome{}, false
	}
	return s.finish(Outcome{
		Correct:        false,
		ReactionTimeMs: s.tuning.TimeLimit().Milliseconds(),
		IsTimeout:      true,
		At:             now,
	}), true
}

// Timeout is Expire stamped at the round's deadline.
func (s *Session) Timeout() (Outcome, bool) {
	return s.Expire(s.startedAt.Add(s.tuning.TimeLimit()))
}

// Tick updates the countdown and expires the trial once it reaches zero.
func (s *Session) Tick(now time.Time) (Outcome, bool) {
	if s.phase != PhaseLive || s.answered {
		return Outcome{}, false
	}
	left := s.tuning.TimeLimit() - now.Sub(s.startedAt)
	if left > 0 {
		s.timeLeft = left
		return Outcome{}, false
	}
	s.timeLeft = 0
	return s.Expire(now)
}

func (s *Session) finish(o Outcome) Outcome {
	o.SessionID = s.id
	o.TrialID = s.cur.ID()
	o.Round = s.round
	o.Level = s.level
	o.CubeCount = s.cur.CubeCount()
	o.IsNearMiss = s.cur.IsNearMiss()
	o.Kind = string(s.cur.Kind())
	o.Truth = s.cur.Truth()

	s.answered = true
	s.log = append(s.log, o)
	if o.Correct {
		s.score += s.tuning.Scoring.Correct
	} else {
		s.score += s.tuning.Scoring.Incorrect
	}
	if s.level >= s.tuning.MaxLevel {
		s.phase = PhaseGameOver
	} else {
		s.phase = PhaseAwaitingStart
		s.timeLeft = s.tuning.TimeLimit()
	}
	return o
}

// Reset clears round, level, score and log and returns to NotStarted. A
// non-empty id starts the next run under that session ID.
func (s *Session) Reset(id string) {
	if id != "" {
		s.id = id
	}
	s.phase = PhaseNotStarted
	s.round = 0
	s.level = 1
	s.score = 0
	s.log = nil
	s.cur = trial.Trial{}
	s.answered = false
	s.startedAt = time.Time{}
	s.timeLeft = s.tuning.TimeLimit()
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:     s.id,
		Phase:         s.phase,
		Round:         s.round,
		Level:         s.level,
		Score:         s.score,
		TimeLeft:      s.timeLeft,
		AwaitingStart: s.phase == PhaseAwaitingStart,
		GameOver:      s.phase == PhaseGameOver,
		Log:           append([]Outcome(nil), s.log...),
	}
	if s.phase == PhaseLive && !s.cur.IsZero() {
		snap.Trial = s.cur
		snap.Target = s.cur.Target()
		snap.Probe = s.cur.Probe()
	}
	return snap
}

func (s *Session) Log() []Outcome { return append([]Outcome(nil), s.log...) }

func (s *Session) Summary() Summary { return Summarize(s.log) }
