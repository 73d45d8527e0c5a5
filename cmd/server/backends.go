package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"voxelmind.ai/internal/config"
	"voxelmind.ai/internal/persistence/archive"
	"voxelmind.ai/internal/persistence/indexdb"
	persistlog "voxelmind.ai/internal/persistence/log"
	"voxelmind.ai/internal/sim/session"
	"voxelmind.ai/internal/sim/tuning"
)

// backends owns every place a finished trial or session is written to.
type backends struct {
	outcomes  *persistlog.OutcomeLogger
	summaries *persistlog.SummaryLogger
	index     *indexdb.SQLiteIndex // nil when disabled
	remote    *indexdb.RemoteIndex // nil unless an ingest URL is set
	archiver  *archive.Archiver    // nil unless an archive endpoint is set
}

func openBackends(ctx context.Context, cfg config.Config, tune tuning.Tuning, logger *zap.Logger) (*backends, error) {
	b := &backends{
		outcomes:  persistlog.NewOutcomeLogger(cfg.DataDir, logger),
		summaries: persistlog.NewSummaryLogger(cfg.DataDir, logger),
	}
	if strings.TrimSpace(cfg.Archive.Endpoint) != "" {
		store, err := archive.NewStore(archive.StoreConfig{
			Endpoint:  cfg.Archive.Endpoint,
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("archive store: %w", err)
		}
		b.archiver = archive.New(store, archive.Config{
			DataDir: cfg.DataDir,
			Prefix:  cfg.Archive.Prefix,
			Logger:  logger,
		})
		b.outcomes.Writer().OnClosed(b.archiver.Enqueue)
		b.summaries.Writer().OnClosed(b.archiver.Enqueue)
	}
	if !cfg.DisableDB {
		idx, err := indexdb.OpenSQLite(cfg.IndexPath(), logger)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("open index: %w", err)
		}
		b.index = idx
		digest, err := idx.UpsertTuning(ctx, tune)
		if err != nil {
			logger.Warn("index: upsert tuning", zap.Error(err))
		} else {
			logger.Info("index ready", zap.String("path", cfg.IndexPath()), zap.String("tuning_digest", digest))
		}
	}
	if u := strings.TrimSpace(cfg.IngestURL); u != "" {
		r, err := indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint: u,
			Token:    cfg.IngestToken,
			Logger:   logger,
		})
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("open ingest mirror: %w", err)
		}
		b.remote = r
	}
	return b, nil
}

func (b *backends) sink() session.MultiSink {
	var m session.MultiSink
	m.Outcomes = append(m.Outcomes, b.outcomes)
	m.Summaries = append(m.Summaries, b.summaries)
	if b.index != nil {
		m.Outcomes = append(m.Outcomes, b.index)
		m.Summaries = append(m.Summaries, b.index)
	}
	if b.remote != nil {
		m.Outcomes = append(m.Outcomes, b.remote)
		m.Summaries = append(m.Summaries, b.remote)
	}
	return m
}

func (b *backends) Close() error {
	var errs []error
	if b.remote != nil {
		errs = append(errs, b.remote.Close())
	}
	if b.index != nil {
		errs = append(errs, b.index.Close())
	}
	// Closing the logs hands their last files to the archiver.
	errs = append(errs, b.outcomes.Close(), b.summaries.Close())
	b.archiver.Close()
	return errors.Join(errs...)
}

func (b *backends) writeMetrics(w io.Writer) {
	fmt.Fprintf(w, "# HELP voxelmind_log_write_errors_total Failed JSONL writes.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_log_write_errors_total counter\n")
	fmt.Fprintf(w, "voxelmind_log_write_errors_total{log=%q} %d\n", "trials", b.outcomes.Errors())
	fmt.Fprintf(w, "voxelmind_log_write_errors_total{log=%q} %d\n", "summaries", b.summaries.Errors())

	if b.index != nil {
		s := b.index.Stats()
		fmt.Fprintf(w, "# HELP voxelmind_index_queue_depth SQLite index queue depth.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_index_queue_depth gauge\n")
		fmt.Fprintf(w, "voxelmind_index_queue_depth %d\n", s.QueueDepth)

		fmt.Fprintf(w, "# HELP voxelmind_index_dropped_total Index writes dropped because the queue was full.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_index_dropped_total counter\n")
		fmt.Fprintf(w, "voxelmind_index_dropped_total{kind=%q} %d\n", "outcome", s.DropOutcomeTotal)
		fmt.Fprintf(w, "voxelmind_index_dropped_total{kind=%q} %d\n", "summary", s.DropSummaryTotal)

		fmt.Fprintf(w, "# HELP voxelmind_index_write_errors_total Failed index writes.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_index_write_errors_total counter\n")
		fmt.Fprintf(w, "voxelmind_index_write_errors_total %d\n", s.WriteErrorTotal)
	}
	if b.archiver != nil {
		s := b.archiver.Stats()
		fmt.Fprintf(w, "# HELP voxelmind_archive_files_total Closed log files by archive result.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_archive_files_total counter\n")
		fmt.Fprintf(w, "voxelmind_archive_files_total{result=%q} %d\n", "uploaded", s.UploadedTotal)
		fmt.Fprintf(w, "voxelmind_archive_files_total{result=%q} %d\n", "failed", s.FailedTotal)
		fmt.Fprintf(w, "voxelmind_archive_files_total{result=%q} %d\n", "dropped", s.DroppedTotal)

		fmt.Fprintf(w, "# HELP voxelmind_archive_last_success_unix Time of the last upload.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_archive_last_success_unix gauge\n")
		fmt.Fprintf(w, "voxelmind_archive_last_success_unix %d\n", s.LastSuccessAt)
	}
	if b.remote != nil {
		s := b.remote.Stats()
		fmt.Fprintf(w, "# HELP voxelmind_ingest_sent_total Events accepted by the ingest endpoint.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_ingest_sent_total counter\n")
		fmt.Fprintf(w, "voxelmind_ingest_sent_total %d\n", s.SentTotal)

		fmt.Fprintf(w, "# HELP voxelmind_ingest_flush_fail_total Failed ingest batches.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_ingest_flush_fail_total counter\n")
		fmt.Fprintf(w, "voxelmind_ingest_flush_fail_total %d\n", s.FlushFailTotal)

		fmt.Fprintf(w, "# HELP voxelmind_ingest_dropped_total Events dropped before reaching the ingest endpoint.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_ingest_dropped_total counter\n")
		fmt.Fprintf(w, "voxelmind_ingest_dropped_total %d\n", s.QueueDroppedTotal+s.RetainDropTotal)
	}
}
