package session

import "time"

// Bucket aggregates a group of outcomes. Accuracy is a whole percentage,
// truncated. Empty buckets report zeroes.
type Bucket struct {
	Count     int   `json:"count"`
	Correct   int   `json:"correct"`
	Timeouts  int   `json:"timeouts"`
	Accuracy  int   `json:"accuracy_pct"`
	MeanRTMs  int64 `json:"mean_rt_ms"`
	totalRTMs int64
}

func (b *Bucket) add(o Outcome) {
	b.Count++
	if o.Correct {
		b.Correct++
	}
	if o.IsTimeout {
		b.Timeouts++
	}
	b.totalRTMs += o.ReactionTimeMs
}

func (b *Bucket) finish() {
	if b.Count == 0 {
		return
	}
	b.Accuracy = b.Correct * 100 / b.Count
	n := int64(b.Count)
	b.MeanRTMs = (b.totalRTMs + n/2) / n
}

type Summary struct {
	Overall  Bucket `json:"overall"`
	NearMiss Bucket `json:"near_miss"`
	Normal   Bucket `json:"normal"`
}

// Summarize aggregates a log, overall and split by IsNearMiss.
func Summarize(log []Outcome) Summary {
	var s Summary
	for _, o := range log {
		s.Overall.add(o)
		if o.IsNearMiss {
			s.NearMiss.add(o)
		} else {
			s.Normal.add(o)
		}
	}
	s.Overall.finish()
	s.NearMiss.finish()
	s.Normal.finish()
	return s
}

// Report is the end-of-session record handed to SummarySinks.
type Report struct {
	SessionID string    `json:"session_id"`
	Rounds    int       `json:"rounds"`
	MaxLevel  int       `json:"max_level"`
	Score     int       `json:"score"`
	Summary   Summary   `json:"summary"`
	EndedAt   time.Time `json:"ended_at"`
}

func (s *Session) Report(now time.Time) Report {
	return Report{
		SessionID: s.id,
		Rounds:    s.round,
		MaxLevel:  s.level,
		Score:     s.score,
		Summary:   s.Summary(),
		EndedAt:   now,
	}
}
