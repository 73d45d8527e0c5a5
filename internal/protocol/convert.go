package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"voxelmind.ai/internal/sim/encoding"
	"voxelmind.ai/internal/sim/geom"
	"voxelmind.ai/internal/sim/session"
	"voxelmind.ai/internal/sim/trial"
	"voxelmind.ai/internal/sim/tuning"
)

// DecodeCmd parses and validates a CMD message.
func DecodeCmd(b []byte) (CmdMsg, error) {
	var m CmdMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return m, &CodeError{Code: ErrProtoBadRequest, Message: err.Error()}
	}
	if m.Type != TypeCmd {
		return m, &CodeError{Code: ErrProtoBadRequest, Message: fmt.Sprintf("expected %s, got %q", TypeCmd, m.Type)}
	}
	switch m.Cmd {
	case CmdStart, CmdRound, CmdReset:
	case CmdAnswer:
		if m.Choice == nil {
			return m, &CodeError{Code: ErrBadRequest, Message: "ANSWER requires choice"}
		}
	default:
		return m, &CodeError{Code: ErrUnknownCmd, Message: fmt.Sprintf("unknown cmd %q", m.Cmd)}
	}
	return m, nil
}

func ShapeOf(blocks []geom.Vec3i) Shape {
	p := geom.ShiftToOrigin(blocks)
	s := Shape{
		Blocks: make([][3]float64, 0, len(p)),
		Voxels: make([][3]int, 0, len(p)),
		Grid:   encoding.EncodeGrid(p),
	}
	for _, v := range geom.Normalize(p) {
		s.Blocks = append(s.Blocks, v.ToArray())
	}
	for _, v := range p {
		s.Voxels = append(s.Voxels, v.ToArray())
	}
	return s
}

// Polycube returns the integer voxels of s.
func (s Shape) Polycube() geom.Polycube {
	out := make(geom.Polycube, 0, len(s.Voxels))
	for _, v := range s.Voxels {
		out = append(out, geom.FromArray(v))
	}
	return out
}

func ParamsFrom(t tuning.Tuning, seed uint64) SessionParams {
	return SessionParams{
		MaxLevel:       t.MaxLevel,
		TimeLimitMs:    t.TimeLimit().Milliseconds(),
		TickIntervalMs: t.TickInterval,
		SameProb:       t.SameProb,
		ScoreCorrect:   t.Scoring.Correct,
		ScoreIncorrect: t.Scoring.Incorrect,
		Seed:           seed,
	}
}

func TrialFrom(sessionID string, t trial.Trial, round int, limit time.Duration) TrialMsg {
	return TrialMsg{
		Type:            TypeTrial,
		ProtocolVersion: Version,
		SessionID:       sessionID,
		TrialID:         t.ID(),
		Round:           round,
		Level:           t.Level(),
		CubeCount:       t.CubeCount(),
		TimeLimitMs:     limit.Milliseconds(),
		Target:          ShapeOf(t.Target()),
		Probe:           ShapeOf(t.Probe()),
	}
}

func RevealOf(t trial.Trial) *TrialReveal {
	return &TrialReveal{
		Truth:      t.Truth(),
		Kind:       string(t.Kind()),
		IsNearMiss: t.IsNearMiss(),
		ProbeSteps: t.ProbeSteps(),
	}
}

func OutcomeFrom(o session.Outcome) OutcomeMsg {
	return OutcomeMsg{
		TrialID:        o.TrialID,
		Round:          o.Round,
		Level:          o.Level,
		CubeCount:      o.CubeCount,
		IsNearMiss:     o.IsNearMiss,
		Truth:          o.Truth,
		Choice:         o.Choice,
		Correct:        o.Correct,
		ReactionTimeMs: o.ReactionTimeMs,
		IsTimeout:      o.IsTimeout,
	}
}

func ResultFrom(o session.Outcome) ResultMsg {
	cue := CueFailure
	if o.Correct {
		cue = CueSuccess
	}
	return ResultMsg{
		Type:            TypeResult,
		ProtocolVersion: Version,
		SessionID:       o.SessionID,
		Outcome:         OutcomeFrom(o),
		Cue:             cue,
	}
}

func StateFrom(s session.Snapshot) StateMsg {
	m := StateMsg{
		Type:            TypeState,
		ProtocolVersion: Version,
		SessionID:       s.SessionID,
		Phase:           string(s.Phase),
		Round:           s.Round,
		Level:           s.Level,
		Score:           s.Score,
		TimeLeftMs:      s.TimeLeft.Milliseconds(),
		AwaitingStart:   s.AwaitingStart,
		GameOver:        s.GameOver,
		TrialID:         s.Trial.ID(),
		Log:             make([]OutcomeMsg, 0, len(s.Log)),
	}
	for _, o := range s.Log {
		m.Log = append(m.Log, OutcomeFrom(o))
	}
	return m
}

func bucketFrom(b session.Bucket) BucketMsg {
	return BucketMsg{
		Count:       b.Count,
		Correct:     b.Correct,
		Timeouts:    b.Timeouts,
		AccuracyPct: b.Accuracy,
		MeanRTMs:    b.MeanRTMs,
	}
}

func SummaryFrom(r session.Report) SummaryMsg {
	return SummaryMsg{
		Type:            TypeSummary,
		ProtocolVersion: Version,
		SessionID:       r.SessionID,
		Score:           r.Score,
		Rounds:          r.Rounds,
		Overall:         bucketFrom(r.Summary.Overall),
		NearMiss:        bucketFrom(r.Summary.NearMiss),
		Normal:          bucketFrom(r.Summary.Normal),
	}
}
