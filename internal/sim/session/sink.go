package session

import "voxelmind.ai/internal/sim/trial"

// Observer receives runner events on the runner goroutine. Implementations
// must not block.
type Observer interface {
	OnState(Snapshot)
	OnTrial(t trial.Trial, round int)
	OnOutcome(Outcome)
	OnGameOver(Report)
}

// Cue plays the success/failure feedback for an answer.
type Cue interface {
	Play(success bool)
}

type OutcomeSink interface {
	WriteOutcome(Outcome)
}

type SummarySink interface {
	RecordSummary(Report)
}

type nopObserver struct{}

func (nopObserver) OnState(Snapshot) {}
func (nopObserver) OnTrial(trial.Trial, int) {}
func (nopObserver) OnOutcome(Outcome) {}
func (nopObserver) OnGameOver(Report) {}

// MultiSink fans outcomes and reports out to every non-nil sink, in order.
type MultiSink struct {
	Outcomes  []OutcomeSink
	Summaries []SummarySink
}

func (m MultiSink) WriteOutcome(o Outcome) {
	for _, s := range m.Outcomes {
		if s != nil {
			s.WriteOutcome(o)
		}
	}
}

func (m MultiSink) RecordSummary(r Report) {
	for _, s := range m.Summaries {
		if s != nil {
			s.RecordSummary(r)
		}
	}
}
