package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	persistlog "voxelmind.ai/internal/persistence/log"
	"voxelmind.ai/internal/sim/rotation"
	"voxelmind.ai/internal/sim/session"
	"voxelmind.ai/internal/sim/shapegen"
	"voxelmind.ai/internal/sim/trial"
	"voxelmind.ai/internal/sim/tuning"
)

// recordSession plays a whole session, answering wrong every third round and
// letting every fifth time out, and logs it the way the server does.
func recordSession(t *testing.T, dataDir string, tu tuning.Tuning, seed uint64) string {
	t.Helper()
	comp := trial.NewComposer(tu, shapegen.NewRand(seed))
	s := session.New(fmt.Sprintf("sess-%d", seed), tu)
	outcomes := persistlog.NewOutcomeLogger(dataDir, nil)
	summaries := persistlog.NewSummaryLogger(dataDir, nil)

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.True(t, s.Start())
	for !s.Live() && s.Phase() != session.PhaseGameOver {
		tr := comp.Compose(s.NextLevel())
		require.True(t, s.AdvanceRound(tr, now))
		var o session.Outcome
		var ok bool
		if s.Round()%5 == 0 {
			o, ok = s.Tick(now.Add(tu.TimeLimit()))
		} else {
			same := rotation.EqualUnderAnyRotation(tr.Target(), tr.Probe())
			if s.Round()%3 == 0 {
				same = !same
			}
			o, ok = s.ApplyAnswer(same, now.Add(700*time.Millisecond))
		}
		require.True(t, ok)
		outcomes.WriteOutcome(o)
		now = now.Add(10 * time.Second)
	}
	summaries.RecordSummary(s.Report(now))
	require.NoError(t, outcomes.Close())
	require.NoError(t, summaries.Close())
	return s.ID()
}

func TestVerifyDir_RecordedSessionsPass(t *testing.T) {
	dir := t.TempDir()
	tu := tuning.Defaults()
	tu.MaxLevel = 7

	a := recordSession(t, dir, tu, 1)
	b := recordSession(t, dir, tu, 2)

	res, err := verifyDir(dir, tu)
	require.NoError(t, err)
	require.Empty(t, res.violations)
	require.Equal(t, 14, res.outcomes)
	require.Equal(t, 2, res.reports)
	require.Len(t, res.sessions, 2)
	require.Equal(t, a, res.sessions[0].ID)
	require.Equal(t, b, res.sessions[1].ID)
}

func TestVerifyDir_WrongTuningIsReported(t *testing.T) {
	dir := t.TempDir()
	tu := tuning.Defaults()
	tu.MaxLevel = 4
	recordSession(t, dir, tu, 3)

	other := tu
	other.Scoring.Correct = 5
	res, err := verifyDir(dir, other)
	require.NoError(t, err)
	require.Len(t, res.violations, 1)
	require.Contains(t, res.violations[0].Msg, "report score")
}

func TestVerifyDir_Empty(t *testing.T) {
	res, err := verifyDir(t.TempDir(), tuning.Defaults())
	require.NoError(t, err)
	require.Empty(t, res.sessions)
	require.Empty(t, res.violations)
}

func TestCheckSession_Violations(t *testing.T) {
	tu := tuning.Defaults()
	yes, no := true, false
	s := sessionLog{ID: "s", Outcomes: []session.Outcome{
		{SessionID: "s", Round: 1, Level: 1, CubeCount: 3, Kind: "match", Truth: true, Choice: &yes, Correct: true, ReactionTimeMs: 100},
		{SessionID: "s", Round: 2, Level: 3, CubeCount: 3, Kind: "match", Truth: true, Choice: &no, Correct: true, ReactionTimeMs: 100},
		{SessionID: "s", Round: 4, Level: 3, CubeCount: 3, Kind: "unrelated", IsTimeout: true, Choice: &yes, ReactionTimeMs: 10},
		{SessionID: "s", Round: 4, Level: 4, CubeCount: 3, Kind: "near_miss", Truth: true, Choice: &yes, Correct: true, ReactionTimeMs: 100},
	}}
	var msgs []string
	for _, v := range checkSession(s, tu) {
		msgs = append(msgs, v.String())
	}
	joined := strings.Join(msgs, "\n")
	require.Contains(t, joined, "round=2: level=3 want=2")
	require.Contains(t, joined, "round=2: correct=true but choice=false truth=true")
	require.Contains(t, joined, "round=4: round out of sequence, want 3")
	require.Contains(t, joined, "timeout carries a choice")
	require.Contains(t, joined, "timeout rt=10 want=5000")
	require.Contains(t, joined, "near_miss trial with truth=true")
	require.Contains(t, joined, "is_near_miss=false disagrees with kind near_miss")
}

func TestGroupBySession_SortsRounds(t *testing.T) {
	got := groupBySession([]session.Outcome{
		{SessionID: "b", Round: 2},
		{SessionID: "a", Round: 1},
		{SessionID: "b", Round: 1},
	})
	require.Len(t, got, 2)
	require.Equal(t, "b", got[0].ID)
	require.Equal(t, 1, got[0].Outcomes[0].Round)
	require.Equal(t, 2, got[0].Outcomes[1].Round)
}

func TestRootCmd_ReportsOK(t *testing.T) {
	dir := t.TempDir()
	tu := tuning.Defaults()
	tu.MaxLevel = 3
	recordSession(t, dir, tu, 4)

	// Defaults are enough except for max_level, which the tuning file sets.
	path := dir + "/tuning.yaml"
	require.NoError(t, writeFile(path, "max_level: 3\n"))

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--data", dir, "--tuning", path})
	require.NoError(t, cmd.Execute(), errOut.String())
	require.Contains(t, out.String(), "replay ok: sessions=1 outcomes=3 reports=1")
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o644)
}
