package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"voxelmind.ai/internal/sim/tuning"
	"voxelmind.ai/internal/transport/ws"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startServer(t *testing.T, tu tuning.Tuning) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := ws.NewServer(ws.Config{Tuning: tu, BaseContext: ctx})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		hs.Close()
		srv.Wait()
	})
	return "ws" + strings.TrimPrefix(hs.URL, "http")
}

func playOnce(t *testing.T, url string, cfg playerConfig) (*player, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close()
	p := newPlayer(conn, cfg, zap.NewNop())
	sum, err := p.play(ctx)
	if err == nil {
		require.Equal(t, p.welcome.SessionID, sum.SessionID)
	}
	return p, err
}

func TestPlayer_PerfectRun(t *testing.T) {
	tu := tuning.Defaults()
	tu.MaxLevel = 4
	url := startServer(t, tu)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close()

	sum, err := newPlayer(conn, playerConfig{Seed: 11, RNGSeed: 1}, zap.NewNop()).play(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, sum.Rounds)
	require.Equal(t, 100, sum.Overall.AccuracyPct)
	require.Equal(t, 40, sum.Score)
}

func TestPlayer_AlwaysWrong(t *testing.T) {
	tu := tuning.Defaults()
	tu.MaxLevel = 3
	url := startServer(t, tu)

	p, err := playOnce(t, url, playerConfig{ErrorRate: 1, RNGSeed: 2})
	require.NoError(t, err)
	require.Equal(t, 3, p.welcome.Params.MaxLevel)
}

func TestPlayer_Timeouts(t *testing.T) {
	tu := tuning.Defaults()
	tu.MaxLevel = 2
	tu.TimeLimitS = 0.2
	tu.TickInterval = 20
	url := startServer(t, tu)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close()

	sum, err := newPlayer(conn, playerConfig{TimeoutRate: 1, RNGSeed: 3}, zap.NewNop()).play(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Overall.Timeouts)
	require.Equal(t, 0, sum.Overall.AccuracyPct)
	require.Equal(t, -4, sum.Score)
}
