package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"voxelmind.ai/internal/sim/session"
)

type SessionRow struct {
	SessionID string          `json:"session_id"`
	Rounds    int             `json:"rounds"`
	MaxLevel  int             `json:"max_level"`
	Score     int             `json:"score"`
	Summary   session.Summary `json:"summary"`
	EndedAt   time.Time       `json:"ended_at"`
}

// ListSessions returns completed sessions, newest first.
func (s *SQLiteIndex) ListSessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id,rounds,max_level,score,ended_at,summary_json FROM sessions ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var (
			r       SessionRow
			endedAt string
			raw     string
		)
		if err := rows.Scan(&r.SessionID, &r.Rounds, &r.MaxLevel, &r.Score, &endedAt, &raw); err != nil {
			return nil, err
		}
		r.EndedAt, _ = time.Parse(time.RFC3339Nano, endedAt)
		if err := json.Unmarshal([]byte(raw), &r.Summary); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListTrials returns the outcomes of one session in round order.
func (s *SQLiteIndex) ListTrials(ctx context.Context, sessionID string) ([]session.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id,trial_id,round,level,cube_count,kind,is_near_miss,truth,choice,correct,reaction_time_ms,is_timeout,at
		 FROM trials WHERE session_id=? ORDER BY round`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Outcome
	for rows.Next() {
		var (
			o                                 session.Outcome
			nearMiss, truth, correct, timeout int
			choice                            sql.NullInt64
			at                                string
		)
		if err := rows.Scan(&o.SessionID, &o.TrialID, &o.Round, &o.Level, &o.CubeCount, &o.Kind,
			&nearMiss, &truth, &choice, &correct, &o.ReactionTimeMs, &timeout, &at); err != nil {
			return nil, err
		}
		o.IsNearMiss = nearMiss != 0
		o.Truth = truth != 0
		o.Correct = correct != 0
		o.IsTimeout = timeout != 0
		if choice.Valid {
			c := choice.Int64 != 0
			o.Choice = &c
		}
		o.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, o)
	}
	return out, rows.Err()
}
