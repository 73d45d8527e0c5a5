package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"voxelmind.ai/internal/protocol"
	"voxelmind.ai/internal/sim/rotation"
	"voxelmind.ai/internal/sim/session"
	"voxelmind.ai/internal/sim/shapegen"
	"voxelmind.ai/internal/sim/trial"
	"voxelmind.ai/internal/sim/tuning"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memSink struct {
	mu       sync.Mutex
	outcomes []session.Outcome
	reports  []session.Report
}

func (s *memSink) WriteOutcome(o session.Outcome) {
	s.mu.Lock()
	s.outcomes = append(s.outcomes, o)
	s.mu.Unlock()
}

func (s *memSink) RecordSummary(r session.Report) {
	s.mu.Lock()
	s.reports = append(s.reports, r)
	s.mu.Unlock()
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, hello string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(hello)))
	return &client{t: t, conn: conn}
}

func (c *client) send(raw string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

// next reads until a message of type typ arrives.
func (c *client) next(typ string) []byte {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, msg, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		base, err := protocol.DecodeBase(msg)
		require.NoError(c.t, err)
		if base.Type == typ {
			return msg
		}
	}
}

func newTestServer(t *testing.T, tu tuning.Tuning, sink *memSink) (*httptest.Server, *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(Config{
		Tuning:      tu,
		Outcomes:    sink,
		Summaries:   sink,
		BaseContext: ctx,
		Seed:        func() uint64 { return 7 },
	})
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		hs.Close()
	})
	return hs, s
}

func TestServer_PlaysFullSession(t *testing.T) {
	tu := tuning.Defaults()
	tu.MaxLevel = 3
	sink := &memSink{}
	hs, s := newTestServer(t, tu, sink)

	c := dial(t, hs, `{"type":"HELLO","protocol_version":"1.0","seed":42}`)
	defer c.conn.Close()

	var welcome protocol.WelcomeMsg
	require.NoError(t, json.Unmarshal(c.next(protocol.TypeWelcome), &welcome))
	require.NotEmpty(t, welcome.SessionID)
	require.Equal(t, uint64(42), welcome.Params.Seed)
	require.Equal(t, 3, welcome.Params.MaxLevel)

	c.send(`{"type":"CMD","cmd":"START"}`)
	for round := 1; round <= 3; round++ {
		c.send(`{"type":"CMD","cmd":"ROUND"}`)
		var tr protocol.TrialMsg
		require.NoError(t, json.Unmarshal(c.next(protocol.TypeTrial), &tr))
		require.Equal(t, round, tr.Round)
		require.Equal(t, welcome.SessionID, tr.SessionID)
		require.Nil(t, tr.Reveal)

		same := rotation.EqualUnderAnyRotation(tr.Target.Polycube(), tr.Probe.Polycube())
		c.send(`{"type":"CMD","cmd":"ANSWER","choice":` + boolString(same) + `}`)

		var res protocol.ResultMsg
		require.NoError(t, json.Unmarshal(c.next(protocol.TypeResult), &res))
		require.True(t, res.Outcome.Correct)
		require.Equal(t, protocol.CueSuccess, res.Cue)
	}

	var sum protocol.SummaryMsg
	require.NoError(t, json.Unmarshal(c.next(protocol.TypeSummary), &sum))
	require.Equal(t, welcome.SessionID, sum.SessionID)
	require.Equal(t, 3, sum.Overall.Count)
	require.Equal(t, 100, sum.Overall.AccuracyPct)
	require.Equal(t, 30, sum.Score)

	sink.mu.Lock()
	require.Len(t, sink.outcomes, 3)
	require.Len(t, sink.reports, 1)
	sink.mu.Unlock()

	require.Equal(t, int64(1), s.Metrics().SessionsActive())
	var prom strings.Builder
	s.Metrics().WritePrometheus(&prom)
	require.Contains(t, prom.String(), `voxelmind_answers_total{result="correct"} 3`)
}

func TestServer_RejectsBadCommands(t *testing.T) {
	hs, _ := newTestServer(t, tuning.Defaults(), &memSink{})
	c := dial(t, hs, `{"type":"HELLO","protocol_version":"1.0"}`)
	defer c.conn.Close()
	c.next(protocol.TypeWelcome)

	c.send(`{"type":"CMD","cmd":"ANSWER"}`)
	var e protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(c.next(protocol.TypeError), &e))
	require.Equal(t, protocol.ErrBadRequest, e.Code)

	c.send(`{"type":"CMD","cmd":"FLY"}`)
	require.NoError(t, json.Unmarshal(c.next(protocol.TypeError), &e))
	require.Equal(t, protocol.ErrUnknownCmd, e.Code)

	c.send(`{"type":"HELLO","protocol_version":"1.0"}`)
	require.NoError(t, json.Unmarshal(c.next(protocol.TypeError), &e))
	require.Equal(t, protocol.ErrProtoBadRequest, e.Code)
}

func TestServer_RejectsWrongVersion(t *testing.T) {
	hs, _ := newTestServer(t, tuning.Defaults(), &memSink{})
	c := dial(t, hs, `{"type":"HELLO","protocol_version":"0.1"}`)
	defer c.conn.Close()

	var e protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(c.next(protocol.TypeError), &e))
	require.Equal(t, protocol.ErrProtoVersion, e.Code)

	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := c.conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "err=%v", err)
}

func TestConnObserver_TrialCarriesCurrentSession(t *testing.T) {
	tu := tuning.Defaults()
	c := newConnObserver(tu, &Metrics{}, func() {})
	c.sessionID = "s1"
	tr := trial.NewComposer(tu, shapegen.NewRand(3)).Compose(1)

	c.OnTrial(tr, 1)
	var msg protocol.TrialMsg
	require.NoError(t, json.Unmarshal(<-c.events, &msg))
	require.Equal(t, "s1", msg.SessionID)

	// RESET hands out a new id through the next STATE.
	c.OnState(session.Snapshot{SessionID: "s2"})
	c.OnTrial(tr, 1)
	require.NoError(t, json.Unmarshal(<-c.events, &msg))
	require.Equal(t, "s2", msg.SessionID)
}

func TestSendLatest_KeepsNewest(t *testing.T) {
	ch := make(chan []byte, 1)
	sendLatest(ch, []byte("a"))
	sendLatest(ch, []byte("b"))
	require.Equal(t, "b", string(<-ch))
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
