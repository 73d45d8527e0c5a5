package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxelmind.ai/internal/sim/trial"
)

var ErrRunnerStopped = errors.New("session runner stopped")

type RunnerConfig struct {
	// SessionID defaults to a random UUID.
	SessionID string
	Composer  *trial.Composer
	Clock     Clock

	Observer  Observer
	Outcomes  OutcomeSink
	Summaries SummarySink
	Cue       Cue

	Logger *zap.Logger
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdRound
	cmdAnswer
	cmdReset
)

type command struct {
	kind   cmdKind
	choice bool
}

// Runner owns one Session and drives it from a single goroutine: commands,
// snapshot requests and countdown ticks are all handled in Run. At most one
// countdown ticker exists at a time and it is stopped on every transition out
// of Live.
type Runner struct {
	session  *Session
	composer *trial.Composer
	clock    Clock

	obs       Observer
	outcomes  OutcomeSink
	summaries SummarySink
	cue       Cue
	log       *zap.Logger

	cmds    chan command
	snapReq chan chan Snapshot

	ticker Ticker

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Runner{
		session:   New(cfg.SessionID, cfg.Composer.Tuning()),
		composer:  cfg.Composer,
		clock:     cfg.Clock,
		obs:       cfg.Observer,
		outcomes:  cfg.Outcomes,
		summaries: cfg.Summaries,
		cue:       cfg.Cue,
		log:       cfg.Logger.Named("session"),
		cmds:      make(chan command),
		snapReq:   make(chan chan Snapshot),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SessionID is fixed at construction and changes only on Reset, so it is
// only meaningful before Run starts.
func (r *Runner) SessionID() string { return r.session.ID() }

func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.stopTicker()

	for {
		var tickC <-chan time.Time
		if r.ticker != nil {
			tickC = r.ticker.C()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case c := <-r.cmds:
			r.handle(c)
		case resp := <-r.snapReq:
			resp <- r.session.Snapshot()
		case <-tickC:
			r.tick()
		}
	}
}

func (r *Runner) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

// Done is closed once Run has returned.
func (r *Runner) Done() <-chan struct{} { return r.done }

func (r *Runner) Start(ctx context.Context) error      { return r.send(ctx, command{kind: cmdStart}) }
func (r *Runner) StartRound(ctx context.Context) error { return r.send(ctx, command{kind: cmdRound}) }
func (r *Runner) Reset(ctx context.Context) error      { return r.send(ctx, command{kind: cmdReset}) }

func (r *Runner) Answer(ctx context.Context, choice bool) error {
	return r.send(ctx, command{kind: cmdAnswer, choice: choice})
}

func (r *Runner) send(ctx context.Context, c command) error {
	select {
	case r.cmds <- c:
		return nil
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot asks the runner goroutine for a copy of the session state. It is
// safe to call from other goroutines.
func (r *Runner) Snapshot(ctx context.Context) (Snapshot, error) {
	resp := make(chan Snapshot, 1)
	select {
	case r.snapReq <- resp:
	case <-r.done:
		return Snapshot{}, ErrRunnerStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-resp:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (r *Runner) handle(c command) {
	switch c.kind {
	case cmdStart:
		if !r.session.Start() {
			r.log.Debug("start ignored", zap.String("session", r.session.ID()), zap.String("phase", string(r.session.Phase())))
			return
		}
		r.stopTicker()
		r.obs.OnState(r.session.Snapshot())

	case cmdRound:
		if r.session.Phase() != PhaseAwaitingStart {
			r.log.Debug("round ignored", zap.String("session", r.session.ID()), zap.String("phase", string(r.session.Phase())))
			return
		}
		r.stopTicker()
		tr := r.composer.Compose(r.session.NextLevel())
		r.session.AdvanceRound(tr, r.clock.Now())
		r.ticker = r.clock.NewTicker(r.session.Tuning().TickEvery())
		r.log.Debug("round started",
			zap.String("session", r.session.ID()),
			zap.Int("round", r.session.Round()),
			zap.Int("level", r.session.Level()),
			zap.String("kind", string(tr.Kind())),
			zap.Int("cubes", tr.CubeCount()),
		)
		r.obs.OnTrial(tr, r.session.Round())
		r.obs.OnState(r.session.Snapshot())

	case cmdAnswer:
		out, ok := r.session.ApplyAnswer(c.choice, r.clock.Now())
		if !ok {
			return
		}
		r.finishRound(out)

	case cmdReset:
		r.stopTicker()
		r.session.Reset(uuid.NewString())
		r.log.Debug("session reset", zap.String("session", r.session.ID()))
		r.obs.OnState(r.session.Snapshot())
	}
}

func (r *Runner) tick() {
	out, timedOut := r.session.Tick(r.clock.Now())
	if timedOut {
		r.finishRound(out)
		return
	}
	r.obs.OnState(r.session.Snapshot())
}

func (r *Runner) finishRound(out Outcome) {
	r.stopTicker()
	if r.cue != nil {
		r.cue.Play(out.Correct)
	}
	if r.outcomes != nil {
		r.outcomes.WriteOutcome(out)
	}
	r.log.Debug("round finished",
		zap.String("session", out.SessionID),
		zap.Int("round", out.Round),
		zap.Bool("correct", out.Correct),
		zap.Bool("timeout", out.IsTimeout),
		zap.Int64("rt_ms", out.ReactionTimeMs),
	)
	r.obs.OnOutcome(out)

	if r.session.Phase() == PhaseGameOver {
		rep := r.session.Report(r.clock.Now())
		if r.summaries != nil {
			r.summaries.RecordSummary(rep)
		}
		r.log.Info("session over",
			zap.String("session", rep.SessionID),
			zap.Int("score", rep.Score),
			zap.Int("rounds", rep.Rounds),
			zap.Int("accuracy_pct", rep.Summary.Overall.Accuracy),
		)
		r.obs.OnGameOver(rep)
	}
	r.obs.OnState(r.session.Snapshot())
}

func (r *Runner) stopTicker() {
	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	r.ticker = nil
}
