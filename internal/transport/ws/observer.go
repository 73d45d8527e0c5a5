package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"voxelmind.ai/internal/protocol"
	"voxelmind.ai/internal/sim/session"
	"voxelmind.ai/internal/sim/trial"
	"voxelmind.ai/internal/sim/tuning"
)

const eventQueue = 32

// connObserver turns runner events into wire messages. It runs on the runner
// goroutine and never blocks: STATE goes through a one-slot queue that keeps
// only the latest, everything else through a bounded queue whose overflow
// drops the connection.
type connObserver struct {
	tuning  tuning.Tuning
	metrics *Metrics
	kill    context.CancelFunc

	// Follows RESET through OnState; only touched on the runner goroutine.
	sessionID string

	events chan []byte
	states chan []byte
}

func newConnObserver(t tuning.Tuning, m *Metrics, kill context.CancelFunc) *connObserver {
	return &connObserver{
		tuning:  t,
		metrics: m,
		kill:    kill,
		events:  make(chan []byte, eventQueue),
		states:  make(chan []byte, 1),
	}
}

func (c *connObserver) OnState(s session.Snapshot) {
	c.sessionID = s.SessionID
	if b, err := json.Marshal(protocol.StateFrom(s)); err == nil {
		sendLatest(c.states, b)
	}
}

func (c *connObserver) OnTrial(t trial.Trial, round int) {
	c.metrics.observeTrial(t)
	c.send(protocol.TrialFrom(c.sessionID, t, round, c.tuning.TimeLimit()))
}

func (c *connObserver) OnOutcome(o session.Outcome) {
	c.metrics.observeOutcome(o)
	c.send(protocol.ResultFrom(o))
}

func (c *connObserver) OnGameOver(r session.Report) {
	c.metrics.gameOvers.Add(1)
	c.send(protocol.SummaryFrom(r))
}

func (c *connObserver) sendError(code, msg string) {
	c.send(protocol.NewError(code, msg))
}

func (c *connObserver) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.events <- b:
	default:
		c.metrics.slowClients.Add(1)
		c.kill()
	}
}

// writeLoop drains queued events before the latest state so that a client
// always sees TRIAL and RESULT ahead of the STATE that follows them.
// Closing the conn on exit unblocks the reader.
func (c *connObserver) writeLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	write := func(b []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			c.kill()
			return false
		}
		return true
	}
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.events:
			if !write(b) {
				return
			}
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return
		case b := <-c.events:
			if !write(b) {
				return
			}
		case b := <-c.states:
			if !write(b) {
				return
			}
		}
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
