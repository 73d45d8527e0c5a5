package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voxelmind.ai/internal/config"
	"voxelmind.ai/internal/protocol"
	"voxelmind.ai/internal/sim/rotation"
	"voxelmind.ai/internal/sim/session"
	"voxelmind.ai/internal/sim/tuning"
	"voxelmind.ai/internal/transport/observer"
	"voxelmind.ai/internal/transport/ws"
)

func newTestMux(t *testing.T, be *backends) *http.ServeMux {
	t.Helper()
	tu := tuning.Defaults()
	return newMux(muxDeps{
		tuning:   tu,
		ws:       ws.NewServer(ws.Config{Tuning: tu}),
		observer: observer.NewServer(observer.Config{Tuning: tu}),
		backends: be,
		logger:   zap.NewNop(),
		admin:    true,
	})
}

func get(t *testing.T, mux http.Handler, target, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestTrialHandler_SeedIsDeterministic(t *testing.T) {
	mux := newTestMux(t, nil)

	var a, b previewResponse
	rec := get(t, mux, "/v1/trial?level=12&seed=99&truth=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	rec = get(t, mux, "/v1/trial?level=12&seed=99&truth=true", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))

	require.Equal(t, uint64(99), a.Seed)
	require.Equal(t, a.Target.Voxels, b.Target.Voxels)
	require.Equal(t, a.Probe.Voxels, b.Probe.Voxels)
	require.NotNil(t, a.Reveal)
	require.True(t, a.Reveal.Truth)
	require.Equal(t, 12, a.Level)
	require.True(t, rotation.EqualUnderAnyRotation(a.Target.Polycube(), a.Probe.Polycube()))
}

func TestTrialHandler_FalseTruthIsNotARotation(t *testing.T) {
	mux := newTestMux(t, nil)
	for seed := 1; seed <= 20; seed++ {
		var p previewResponse
		rec := get(t, mux, "/v1/trial?level=20&truth=false&seed="+strconv.Itoa(seed), "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		require.False(t, p.Reveal.Truth)
		require.False(t, rotation.EqualUnderAnyRotation(p.Target.Polycube(), p.Probe.Polycube()))
	}
}

func TestTrialHandler_BadQuery(t *testing.T) {
	mux := newTestMux(t, nil)
	for _, q := range []string{"level=x", "seed=-1", "truth=maybe"} {
		rec := get(t, mux, "/v1/trial?"+q, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
		var e protocol.ErrorMsg
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
		require.Equal(t, protocol.ErrBadRequest, e.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	mux := newTestMux(t, nil)
	rec := get(t, mux, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = get(t, mux, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "voxelmind_sessions_active 0")
}

func TestAdmin_LoopbackOnly(t *testing.T) {
	mux := newTestMux(t, nil)
	rec := get(t, mux, "/admin/v1/state", "203.0.113.5:4000")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = get(t, mux, "/admin/v1/state", "127.0.0.1:4000")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Contains(t, rec.Body.String(), `"observer":{"observers":0`)

	rec = get(t, mux, "/admin/v1/sessions", "[::1]:4000")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = get(t, mux, "/admin/v1/observer/bootstrap", "203.0.113.5:4000")
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = get(t, mux, "/admin/v1/observer/bootstrap", "127.0.0.1:4000")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"protocol_version":"0.1"`)
}

func TestAdmin_SessionsFromIndex(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{DataDir: dir, DBPath: filepath.Join(dir, "index.db")}
	be, err := openBackends(context.Background(), cfg, tuning.Defaults(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = be.Close() })

	yes := true
	o := session.Outcome{SessionID: "s1", TrialID: "t1", Round: 1, Level: 1, CubeCount: 3, Kind: "match", Truth: true, Choice: &yes, Correct: true, ReactionTimeMs: 800, At: time.Now()}
	sink := be.sink()
	sink.WriteOutcome(o)
	sink.RecordSummary(session.Report{SessionID: "s1", Rounds: 1, MaxLevel: 1, Score: 10, Summary: session.Summarize([]session.Outcome{o}), EndedAt: time.Now()})

	mux := newTestMux(t, be)
	require.Eventually(t, func() bool {
		rec := get(t, mux, "/admin/v1/trials?session=s1", "127.0.0.1:1")
		var body struct {
			Trials []session.Outcome `json:"trials"`
		}
		return rec.Code == http.StatusOK && json.Unmarshal(rec.Body.Bytes(), &body) == nil && len(body.Trials) == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		rec := get(t, mux, "/admin/v1/sessions", "127.0.0.1:1")
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), `"session_id":"s1"`)
	}, 3*time.Second, 20*time.Millisecond)

	rec := get(t, mux, "/admin/v1/trials", "127.0.0.1:1")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, mux, "/metrics", "")
	require.Contains(t, rec.Body.String(), "voxelmind_index_queue_depth")
}

func TestSeedFunc(t *testing.T) {
	require.Nil(t, seedFunc(0))
	require.Equal(t, uint64(5), seedFunc(5)())
}
