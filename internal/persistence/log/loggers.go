package log

import (
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"voxelmind.ai/internal/sim/session"
)

const (
	OutcomesDir    = "trials"
	OutcomesPrefix = "trials"

	SummariesDir    = "summaries"
	SummariesPrefix = "summaries"
)

// OutcomeLogger writes one line per finished trial under <dataDir>/trials.
type OutcomeLogger struct {
	w      *JSONLZstdWriter
	log    *zap.Logger
	errors atomic.Uint64
}

func NewOutcomeLogger(dataDir string, logger *zap.Logger) *OutcomeLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutcomeLogger{
		w:   NewJSONLZstdWriter(filepath.Join(dataDir, OutcomesDir), OutcomesPrefix),
		log: logger.Named("outcomes"),
	}
}

// WriteOutcome runs on the session goroutine; a failed write is logged and
// counted, never returned.
func (l *OutcomeLogger) WriteOutcome(o session.Outcome) {
	if err := l.w.Write(o); err != nil {
		l.errors.Add(1)
		l.log.Warn("write outcome", zap.String("session", o.SessionID), zap.Error(err))
	}
}

func (l *OutcomeLogger) Errors() uint64           { return l.errors.Load() }
func (l *OutcomeLogger) Writer() *JSONLZstdWriter { return l.w }
func (l *OutcomeLogger) Close() error             { return l.w.Close() }

// SummaryLogger writes one line per completed session under <dataDir>/summaries.
type SummaryLogger struct {
	w      *JSONLZstdWriter
	log    *zap.Logger
	errors atomic.Uint64
}

func NewSummaryLogger(dataDir string, logger *zap.Logger) *SummaryLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryLogger{
		w:   NewJSONLZstdWriter(filepath.Join(dataDir, SummariesDir), SummariesPrefix),
		log: logger.Named("summaries"),
	}
}

func (l *SummaryLogger) RecordSummary(r session.Report) {
	if err := l.w.Write(r); err != nil {
		l.errors.Add(1)
		l.log.Warn("write summary", zap.String("session", r.SessionID), zap.Error(err))
	}
}

func (l *SummaryLogger) Errors() uint64           { return l.errors.Load() }
func (l *SummaryLogger) Writer() *JSONLZstdWriter { return l.w }
func (l *SummaryLogger) Close() error             { return l.w.Close() }
