package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	persistlog "voxelmind.ai/internal/persistence/log"
	"voxelmind.ai/internal/sim/session"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seedLogs(t *testing.T, dir string) {
	t.Helper()
	yes := true
	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	log := []session.Outcome{
		{SessionID: "abc", TrialID: "t1", Round: 1, Level: 1, CubeCount: 8, Kind: "match", Truth: true, Choice: &yes, Correct: true, ReactionTimeMs: 1100, At: at},
		{SessionID: "abc", TrialID: "t2", Round: 2, Level: 2, CubeCount: 9, Kind: "unrelated", ReactionTimeMs: 5000, IsTimeout: true, At: at.Add(time.Minute)},
	}
	ol := persistlog.NewOutcomeLogger(dir, nil)
	for _, o := range log {
		ol.WriteOutcome(o)
	}
	require.NoError(t, ol.Close())

	sl := persistlog.NewSummaryLogger(dir, nil)
	sl.RecordSummary(session.Report{SessionID: "abc", Rounds: 2, MaxLevel: 2, Score: 8, Summary: session.Summarize(log), EndedAt: at.Add(2 * time.Minute)})
	require.NoError(t, sl.Close())
}

func TestReindexThenQuery(t *testing.T) {
	dir := t.TempDir()
	seedLogs(t, dir)

	out, err := run(t, "reindex", "--data", dir)
	require.NoError(t, err, out)
	require.Contains(t, out, "reindexed outcomes=2 summaries=1")

	out, err = run(t, "sessions", "--data", dir)
	require.NoError(t, err, out)
	require.Contains(t, out, "abc")
	require.Contains(t, out, "SESSION")

	out, err = run(t, "trials", "--data", dir, "--session", "abc")
	require.NoError(t, err, out)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[2], "timeout")

	out, err = run(t, "trials", "--data", dir, "--session", "abc", "--json")
	require.NoError(t, err, out)
	require.Contains(t, out, `"trial_id": "t1"`)

	// Reindexing twice replaces rows rather than duplicating them.
	_, err = run(t, "reindex", "--data", dir)
	require.NoError(t, err)
	out, err = run(t, "trials", "--data", dir, "--session", "abc")
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	seedLogs(t, dir)
	out, err := run(t, "files", "--data", dir)
	require.NoError(t, err)
	require.Contains(t, out, "trials-")
	require.Contains(t, out, "summaries-")
}

func TestSessions_MissingIndex(t *testing.T) {
	_, err := run(t, "sessions", "--data", t.TempDir())
	require.Error(t, err)
}

func TestTrials_RequiresSession(t *testing.T) {
	_, err := run(t, "trials", "--data", t.TempDir())
	require.ErrorContains(t, err, "missing --session")
}

func TestState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/v1/state", r.URL.Path)
		_, _ = w.Write([]byte(`{"sessions_active":2}`))
	}))
	defer srv.Close()

	out, err := run(t, "state", "--url", srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, `{"sessions_active":2}`, strings.TrimSpace(out))
}
