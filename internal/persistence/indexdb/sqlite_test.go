package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"voxelmind.ai/internal/sim/session"
	"voxelmind.ai/internal/sim/tuning"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqOutcome}

	s.WriteOutcome(session.Outcome{Round: 2})
	s.RecordSummary(session.Report{SessionID: "x"})

	st := s.Stats()
	if st.DropOutcomeTotal != 1 {
		t.Fatalf("DropOutcomeTotal=%d want=1", st.DropOutcomeTotal)
	}
	if st.DropSummaryTotal != 1 {
		t.Fatalf("DropSummaryTotal=%d want=1", st.DropSummaryTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func sampleLog(id string) []session.Outcome {
	yes, no := true, false
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	return []session.Outcome{
		{SessionID: id, TrialID: "t1", Round: 1, Level: 1, CubeCount: 3, Kind: "match", Truth: true, Choice: &yes, Correct: true, ReactionTimeMs: 900, At: at},
		{SessionID: id, TrialID: "t2", Round: 2, Level: 2, CubeCount: 4, Kind: "near_miss", IsNearMiss: true, Choice: &no, Correct: true, ReactionTimeMs: 1500, At: at.Add(time.Second)},
		{SessionID: id, TrialID: "t3", Round: 3, Level: 3, CubeCount: 5, Kind: "unrelated", ReactionTimeMs: 5000, IsTimeout: true, At: at.Add(2 * time.Second)},
	}
}

func TestSQLiteIndex_OutcomesAndSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	log := sampleLog("s1")
	for _, o := range log {
		idx.WriteOutcome(o)
	}
	idx.RecordSummary(session.Report{
		SessionID: "s1",
		Rounds:    3,
		MaxLevel:  3,
		Score:     20,
		Summary:   session.Summarize(log),
		EndedAt:   time.Date(2026, 4, 2, 9, 1, 0, 0, time.UTC),
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Writes after close are ignored.
	idx.WriteOutcome(log[0])

	idx, err = OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	trials, err := idx.ListTrials(ctx, "s1")
	if err != nil {
		t.Fatalf("ListTrials: %v", err)
	}
	if len(trials) != 3 {
		t.Fatalf("trials=%d want=3", len(trials))
	}
	if trials[1].Choice == nil || *trials[1].Choice || !trials[1].IsNearMiss || !trials[1].Correct {
		t.Fatalf("round 2 mismatch: %+v", trials[1])
	}
	if trials[2].Choice != nil || !trials[2].IsTimeout {
		t.Fatalf("timeout row mismatch: %+v", trials[2])
	}
	if !trials[0].At.Equal(log[0].At) {
		t.Fatalf("at=%v want=%v", trials[0].At, log[0].At)
	}

	sessions, err := idx.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions=%d want=1", len(sessions))
	}
	got := sessions[0]
	if got.Score != 20 || got.Summary.Overall.Count != 3 || got.Summary.Overall.Accuracy != 66 {
		t.Fatalf("session mismatch: %+v", got)
	}
	if got.Summary.NearMiss.Accuracy != 100 {
		t.Fatalf("near-miss accuracy=%d want=100", got.Summary.NearMiss.Accuracy)
	}
}

func TestSQLiteIndex_UpsertTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	tu := tuning.Defaults()
	d1, err := idx.UpsertTuning(ctx, tu)
	if err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	tu.MaxLevel = 5
	d2, err := idx.UpsertTuning(ctx, tu)
	if err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	if d1 == d2 || len(d2) != 64 {
		t.Fatalf("digests d1=%s d2=%s", d1, d2)
	}
	v, ok, err := idx.Meta(ctx, "tuning_digest")
	if err != nil || !ok || v != d2 {
		t.Fatalf("meta tuning_digest=%q ok=%v err=%v", v, ok, err)
	}
	if _, ok, err := idx.Meta(ctx, "missing"); ok || err != nil {
		t.Fatalf("missing key ok=%v err=%v", ok, err)
	}
}

func TestSQLiteIndex_RawSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.WriteOutcome(sampleLog("s2")[2])
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		kind   string
		choice sql.NullInt64
		rt     int64
	)
	row := db.QueryRow(`SELECT kind,choice,reaction_time_ms FROM trials WHERE session_id='s2' AND round=3`)
	if err := row.Scan(&kind, &choice, &rt); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if kind != "unrelated" || choice.Valid || rt != 5000 {
		t.Fatalf("row mismatch: kind=%s choice=%v rt=%d", kind, choice, rt)
	}
}
