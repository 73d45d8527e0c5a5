package ws

import (
	"fmt"
	"io"
	"sync/atomic"

	"voxelmind.ai/internal/sim/session"
	"voxelmind.ai/internal/sim/trial"
)

// Metrics are process-wide counters for the websocket endpoint.
type Metrics struct {
	sessionsActive atomic.Int64
	sessionsTotal  atomic.Uint64
	gameOvers      atomic.Uint64

	trialsMatch            atomic.Uint64
	trialsNearMiss         atomic.Uint64
	trialsNearMissFallback atomic.Uint64
	trialsUnrelated        atomic.Uint64

	answersCorrect   atomic.Uint64
	answersIncorrect atomic.Uint64
	timeouts         atomic.Uint64

	slowClients atomic.Uint64
}

func (m *Metrics) SessionsActive() int64 { return m.sessionsActive.Load() }

func (m *Metrics) observeTrial(t trial.Trial) {
	switch t.Kind() {
	case trial.KindMatch:
		m.trialsMatch.Add(1)
	case trial.KindNearMiss:
		m.trialsNearMiss.Add(1)
	case trial.KindNearMissFallback:
		m.trialsNearMissFallback.Add(1)
	default:
		m.trialsUnrelated.Add(1)
	}
}

func (m *Metrics) observeOutcome(o session.Outcome) {
	switch {
	case o.IsTimeout:
		m.timeouts.Add(1)
	case o.Correct:
		m.answersCorrect.Add(1)
	default:
		m.answersIncorrect.Add(1)
	}
}

// WritePrometheus writes the counters in the Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	fmt.Fprintf(w, "# HELP voxelmind_sessions_active Sessions with an open websocket.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_sessions_active gauge\n")
	fmt.Fprintf(w, "voxelmind_sessions_active %d\n", m.sessionsActive.Load())

	fmt.Fprintf(w, "# HELP voxelmind_sessions_total Sessions accepted since start.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_sessions_total counter\n")
	fmt.Fprintf(w, "voxelmind_sessions_total %d\n", m.sessionsTotal.Load())

	fmt.Fprintf(w, "# HELP voxelmind_game_over_total Sessions that reached the final level.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_game_over_total counter\n")
	fmt.Fprintf(w, "voxelmind_game_over_total %d\n", m.gameOvers.Load())

	fmt.Fprintf(w, "# HELP voxelmind_trials_total Trials composed, by probe kind.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_trials_total counter\n")
	fmt.Fprintf(w, "voxelmind_trials_total{kind=%q} %d\n", trial.KindMatch, m.trialsMatch.Load())
	fmt.Fprintf(w, "voxelmind_trials_total{kind=%q} %d\n", trial.KindNearMiss, m.trialsNearMiss.Load())
	fmt.Fprintf(w, "voxelmind_trials_total{kind=%q} %d\n", trial.KindNearMissFallback, m.trialsNearMissFallback.Load())
	fmt.Fprintf(w, "voxelmind_trials_total{kind=%q} %d\n", trial.KindUnrelated, m.trialsUnrelated.Load())

	fmt.Fprintf(w, "# HELP voxelmind_answers_total Finished trials, by result.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_answers_total counter\n")
	fmt.Fprintf(w, "voxelmind_answers_total{result=%q} %d\n", "correct", m.answersCorrect.Load())
	fmt.Fprintf(w, "voxelmind_answers_total{result=%q} %d\n", "incorrect", m.answersIncorrect.Load())
	fmt.Fprintf(w, "voxelmind_answers_total{result=%q} %d\n", "timeout", m.timeouts.Load())

	fmt.Fprintf(w, "# HELP voxelmind_slow_clients_total Connections closed because their queue overflowed.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_slow_clients_total counter\n")
	fmt.Fprintf(w, "voxelmind_slow_clients_total %d\n", m.slowClients.Load())
}
