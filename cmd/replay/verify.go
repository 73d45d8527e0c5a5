package main

import (
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"voxelmind.ai/internal/sim/session"
	"voxelmind.ai/internal/sim/trial"
	"voxelmind.ai/internal/sim/tuning"
)

type sessionLog struct {
	ID       string
	Outcomes []session.Outcome
}

type violation struct {
	SessionID string
	Round     int
	Msg       string
}

func (v violation) String() string {
	if v.Round == 0 {
		return fmt.Sprintf("session=%s: %s", v.SessionID, v.Msg)
	}
	return fmt.Sprintf("session=%s round=%d: %s", v.SessionID, v.Round, v.Msg)
}

// groupBySession keeps sessions in order of first appearance and sorts each
// session's outcomes by round.
func groupBySession(all []session.Outcome) []sessionLog {
	idx := map[string]int{}
	var out []sessionLog
	for _, o := range all {
		i, ok := idx[o.SessionID]
		if !ok {
			i = len(out)
			idx[o.SessionID] = i
			out = append(out, sessionLog{ID: o.SessionID})
		}
		out[i].Outcomes = append(out[i].Outcomes, o)
	}
	for i := range out {
		sort.SliceStable(out[i].Outcomes, func(a, b int) bool {
			return out[i].Outcomes[a].Round < out[i].Outcomes[b].Round
		})
	}
	return out
}

func checkSession(s sessionLog, t tuning.Tuning) []violation {
	var vs []violation
	bad := func(round int, format string, args ...any) {
		vs = append(vs, violation{SessionID: s.ID, Round: round, Msg: fmt.Sprintf(format, args...)})
	}
	limitMs := t.TimeLimit().Milliseconds()

	for i, o := range s.Outcomes {
		if o.Round != i+1 {
			bad(o.Round, "round out of sequence, want %d", i+1)
		}
		if want := min(o.Round, t.MaxLevel); o.Level != want {
			bad(o.Round, "level=%d want=%d", o.Level, want)
		}
		if o.CubeCount < 1 {
			bad(o.Round, "empty target")
		}
		switch trial.Kind(o.Kind) {
		case trial.KindMatch:
			if !o.Truth {
				bad(o.Round, "match trial with truth=false")
			}
		case trial.KindNearMiss, trial.KindNearMissFallback, trial.KindUnrelated:
			if o.Truth {
				bad(o.Round, "%s trial with truth=true", o.Kind)
			}
		default:
			bad(o.Round, "unknown kind %q", o.Kind)
		}
		if o.IsNearMiss != (trial.Kind(o.Kind) == trial.KindNearMiss || trial.Kind(o.Kind) == trial.KindNearMissFallback) {
			bad(o.Round, "is_near_miss=%v disagrees with kind %s", o.IsNearMiss, o.Kind)
		}

		if o.IsTimeout {
			if o.Choice != nil || o.Correct {
				bad(o.Round, "timeout carries a choice or is marked correct")
			}
			if o.ReactionTimeMs != limitMs {
				bad(o.Round, "timeout rt=%d want=%d", o.ReactionTimeMs, limitMs)
			}
			continue
		}
		if o.Choice == nil {
			bad(o.Round, "answer without choice")
			continue
		}
		if o.Correct != (*o.Choice == o.Truth) {
			bad(o.Round, "correct=%v but choice=%v truth=%v", o.Correct, *o.Choice, o.Truth)
		}
		if o.ReactionTimeMs < 0 || o.ReactionTimeMs > limitMs {
			bad(o.Round, "rt=%d outside [0,%d]", o.ReactionTimeMs, limitMs)
		}
	}
	return vs
}

func scoreOf(log []session.Outcome, t tuning.Tuning) int {
	score := 0
	for _, o := range log {
		if o.Correct {
			score += t.Scoring.Correct
		} else {
			score += t.Scoring.Incorrect
		}
	}
	return score
}

// checkReport compares a recorded summary with one rebuilt from the outcomes.
func checkReport(r session.Report, s sessionLog, t tuning.Tuning) []violation {
	var vs []violation
	bad := func(format string, args ...any) {
		vs = append(vs, violation{SessionID: r.SessionID, Msg: fmt.Sprintf(format, args...)})
	}
	if r.Rounds != len(s.Outcomes) {
		bad("report rounds=%d, log has %d", r.Rounds, len(s.Outcomes))
	}
	if want := scoreOf(s.Outcomes, t); r.Score != want {
		bad("report score=%d, log scores %d", r.Score, want)
	}
	if diff := cmp.Diff(session.Summarize(s.Outcomes), r.Summary, cmpopts.IgnoreUnexported(session.Bucket{})); diff != "" {
		bad("summary mismatch (-log +report):\n%s", diff)
	}
	return vs
}
