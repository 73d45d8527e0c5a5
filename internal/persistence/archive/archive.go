// Package archive copies closed hourly log files to object storage.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Uploader is satisfied by *Store.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Config struct {
	DataDir string
	// Prefix is prepended to the path of each file relative to DataDir.
	Prefix      string
	Workers     int
	Queue       int
	EnqueueWait time.Duration
	Attempts    int
	Backoff     time.Duration
	Logger      *zap.Logger
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	EnqueuedTotal uint64 `json:"enqueued_total"`
	DroppedTotal  uint64 `json:"dropped_total"`
	UploadedTotal uint64 `json:"uploaded_total"`
	FailedTotal   uint64 `json:"failed_total"`
	LastSuccessAt int64  `json:"last_success_unix"`
	LastErrorAt   int64  `json:"last_error_unix"`
}

// Archiver uploads files handed to Enqueue on a small worker pool.
type Archiver struct {
	up  Uploader
	cfg Config
	log *zap.Logger

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueued    atomic.Uint64
	dropped     atomic.Uint64
	uploaded    atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
	lastError   atomic.Int64
}

func New(up Uploader, cfg Config) *Archiver {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 4
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Prefix = strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/")

	a := &Archiver{
		up:   up,
		cfg:  cfg,
		log:  cfg.Logger.Named("archive"),
		jobs: make(chan string, cfg.Queue),
	}
	for i := 0; i < cfg.Workers; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for p := range a.jobs {
				a.upload(p)
			}
		}()
	}
	return a
}

// Enqueue schedules localPath for upload. It waits at most EnqueueWait for
// room in the queue, then drops the file.
func (a *Archiver) Enqueue(localPath string) {
	if a == nil {
		return
	}
	a.enqueued.Add(1)
	select {
	case a.jobs <- localPath:
		return
	default:
	}
	timer := time.NewTimer(a.cfg.EnqueueWait)
	defer timer.Stop()
	select {
	case a.jobs <- localPath:
	case <-timer.C:
		a.dropped.Add(1)
		a.log.Warn("queue full; file not archived", zap.String("path", localPath))
	}
}

// Close uploads what is queued, then returns.
func (a *Archiver) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		close(a.jobs)
		a.wg.Wait()
	})
}

func (a *Archiver) Stats() Stats {
	return Stats{
		QueueDepth:    len(a.jobs),
		EnqueuedTotal: a.enqueued.Load(),
		DroppedTotal:  a.dropped.Load(),
		UploadedTotal: a.uploaded.Load(),
		FailedTotal:   a.failed.Load(),
		LastSuccessAt: a.lastSuccess.Load(),
		LastErrorAt:   a.lastError.Load(),
	}
}

func (a *Archiver) upload(localPath string) {
	key, err := a.objectKey(localPath)
	if err != nil {
		a.failed.Add(1)
		a.log.Warn("skip", zap.String("path", localPath), zap.Error(err))
		return
	}
	var lastErr error
	for attempt := 1; attempt <= a.cfg.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = a.up.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			a.uploaded.Add(1)
			a.lastSuccess.Store(time.Now().Unix())
			a.log.Debug("uploaded", zap.String("key", key))
			return
		}
		if attempt < a.cfg.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * a.cfg.Backoff)
		}
	}
	a.failed.Add(1)
	a.lastError.Store(time.Now().Unix())
	a.log.Warn("upload failed", zap.String("key", key), zap.Int("attempts", a.cfg.Attempts), zap.Error(lastErr))
}

func (a *Archiver) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	base, err := filepath.Abs(a.cfg.DataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if a.cfg.Prefix != "" {
		rel = path.Join(a.cfg.Prefix, rel)
	}
	return rel, nil
}
