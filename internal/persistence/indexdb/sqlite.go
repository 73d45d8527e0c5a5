package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"voxelmind.ai/internal/sim/session"
	"voxelmind.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable copy of the outcome and summary logs. Writes are
// queued and applied by one goroutine; the JSONL logs stay authoritative, so
// a full queue drops instead of stalling a session.
type SQLiteIndex struct {
	db  *sql.DB
	log *zap.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropOutcome atomic.Uint64
	dropSummary atomic.Uint64
	writeErrors atomic.Uint64
}

type reqKind int

const (
	reqOutcome reqKind = iota + 1
	reqSummary
)

type req struct {
	kind reqKind

	outcome session.Outcome
	report  session.Report
}

type Stats struct {
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
	DropOutcomeTotal uint64 `json:"drop_outcome_total"`
	DropSummaryTotal uint64 `json:"drop_summary_total"`
	WriteErrorTotal  uint64 `json:"write_error_total"`
}

const queueSize = 16384

func OpenSQLite(path string, logger *zap.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	s := &SQLiteIndex{
		db:  db,
		log: logger.Named("indexdb"),
		ch:  make(chan req, queueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trials (
			session_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			trial_id TEXT NOT NULL,
			level INTEGER NOT NULL,
			cube_count INTEGER NOT NULL,
			kind TEXT NOT NULL,
			is_near_miss INTEGER NOT NULL,
			truth INTEGER NOT NULL,
			choice INTEGER,
			correct INTEGER NOT NULL,
			reaction_time_ms INTEGER NOT NULL,
			is_timeout INTEGER NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (session_id, round)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trials_at ON trials(at);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			rounds INTEGER NOT NULL,
			max_level INTEGER NOT NULL,
			score INTEGER NOT NULL,
			accuracy_pct INTEGER NOT NULL,
			near_miss_accuracy_pct INTEGER NOT NULL,
			normal_accuracy_pct INTEGER NOT NULL,
			mean_rt_ms INTEGER NOT NULL,
			ended_at TEXT NOT NULL,
			summary_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, then closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		if s.db != nil {
			err = s.db.Close()
		}
	})
	return err
}

func (s *SQLiteIndex) WriteOutcome(o session.Outcome) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqOutcome, outcome: o}:
	default:
		s.dropOutcome.Add(1)
	}
}

func (s *SQLiteIndex) RecordSummary(r session.Report) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSummary, report: r}:
	default:
		s.dropSummary.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropOutcomeTotal: s.dropOutcome.Load(),
		DropSummaryTotal: s.dropSummary.Load(),
		WriteErrorTotal:  s.writeErrors.Load(),
	}
}

// UpsertTuning records the active tuning and its digest so rows can be tied
// back to the parameters that produced them.
func (s *SQLiteIndex) UpsertTuning(ctx context.Context, t tuning.Tuning) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()
	const q = `INSERT INTO meta(key,value,updated_at) VALUES(?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`
	if _, err := tx.ExecContext(ctx, q, "tuning", string(b), now); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, q, "tuning_digest", digest, now); err != nil {
		return "", err
	}
	return digest, tx.Commit()
}

// Meta returns a value written by UpsertTuning; ok is false when unset.
func (s *SQLiteIndex) Meta(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return value, err == nil, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTrial, err := s.db.Prepare(`INSERT OR REPLACE INTO trials(session_id,round,trial_id,level,cube_count,kind,is_near_miss,truth,choice,correct,reaction_time_ms,is_timeout,at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Error("prepare trials insert", zap.Error(err))
	}
	insertSession, err := s.db.Prepare(`INSERT OR REPLACE INTO sessions(session_id,rounds,max_level,score,accuracy_pct,near_miss_accuracy_pct,normal_accuracy_pct,mean_rt_ms,ended_at,summary_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Error("prepare sessions insert", zap.Error(err))
	}
	defer func() {
		if insertTrial != nil {
			_ = insertTrial.Close()
		}
		if insertSession != nil {
			_ = insertSession.Close()
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 512
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
			s.log.Warn("commit", zap.Error(err))
		}
		tx = nil
		opCount = 0
	}
	fail := func(err error) {
		s.writeErrors.Add(1)
		s.log.Warn("index write", zap.Error(err))
		if tx != nil {
			_ = tx.Rollback()
			tx = nil
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqOutcome:
			if insertTrial == nil {
				break
			}
			o := r.outcome
			var choice any
			if o.Choice != nil {
				choice = boolInt(*o.Choice)
			}
			if _, err := tx.Stmt(insertTrial).Exec(
				o.SessionID, o.Round, o.TrialID, o.Level, o.CubeCount, o.Kind,
				boolInt(o.IsNearMiss), boolInt(o.Truth), choice, boolInt(o.Correct),
				o.ReactionTimeMs, boolInt(o.IsTimeout), o.At.UTC().Format(time.RFC3339Nano),
			); err != nil {
				fail(err)
				continue
			}
			opCount++
		case reqSummary:
			if insertSession == nil {
				break
			}
			rep := r.report
			b, _ := json.Marshal(rep.Summary)
			if _, err := tx.Stmt(insertSession).Exec(
				rep.SessionID, rep.Rounds, rep.MaxLevel, rep.Score,
				rep.Summary.Overall.Accuracy, rep.Summary.NearMiss.Accuracy, rep.Summary.Normal.Accuracy,
				rep.Summary.Overall.MeanRTMs, rep.EndedAt.UTC().Format(time.RFC3339Nano), string(b),
			); err != nil {
				fail(err)
				continue
			}
			opCount++
		}
		// Commit once the burst is drained so readers never wait long.
		if opCount >= commitEvery || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
