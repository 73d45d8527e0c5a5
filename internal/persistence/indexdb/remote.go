package indexdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"voxelmind.ai/internal/sim/session"
)

// RemoteConfig configures the HTTP ingest mirror.
type RemoteConfig struct {
	Endpoint      string
	Token         string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxRetained caps events kept across failed flushes; the oldest go first.
	MaxRetained int
	Logger      *zap.Logger
}

// RemoteIndex posts outcomes and summaries in batches to an ingest endpoint.
// A failed batch is kept and retried on the next flush.
type RemoteIndex struct {
	cfg        RemoteConfig
	httpClient *http.Client
	log        *zap.Logger

	ch   chan remoteEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	queueDropped atomic.Uint64
	retainDrop   atomic.Uint64
	flushFail    atomic.Uint64
	sent         atomic.Uint64
}

type remoteEvent struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	Payload   any    `json:"payload"`
}

type RemoteStats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	RetainDropTotal   uint64 `json:"retain_drop_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
	SentTotal         uint64 `json:"sent_total"`
}

func OpenRemote(cfg RemoteConfig) (*RemoteIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 8192
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	d := &RemoteIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		log:        cfg.Logger.Named("remote_index"),
		ch:         make(chan remoteEvent, 4096),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *RemoteIndex) Close() error {
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *RemoteIndex) WriteOutcome(o session.Outcome) {
	d.enqueue(remoteEvent{Kind: "outcome", SessionID: o.SessionID, Payload: o})
}

func (d *RemoteIndex) RecordSummary(r session.Report) {
	d.enqueue(remoteEvent{Kind: "summary", SessionID: r.SessionID, Payload: r})
}

func (d *RemoteIndex) Stats() RemoteStats {
	return RemoteStats{
		QueueDepth:        len(d.ch),
		QueueDroppedTotal: d.queueDropped.Load(),
		RetainDropTotal:   d.retainDrop.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		SentTotal:         d.sent.Load(),
	}
}

func (d *RemoteIndex) enqueue(ev remoteEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
	}
}

func (d *RemoteIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	var pending []remoteEvent
	flush := func() {
		for len(pending) > 0 {
			n := min(len(pending), d.cfg.BatchSize)
			if err := d.sendBatch(pending[:n]); err != nil {
				d.flushFail.Add(1)
				d.log.Warn("flush failed", zap.Int("batch", n), zap.Int("pending", len(pending)), zap.Error(err))
				if over := len(pending) - d.cfg.MaxRetained; over > 0 {
					d.retainDrop.Add(uint64(over))
					pending = append(pending[:0], pending[over:]...)
				}
				return
			}
			d.sent.Add(uint64(n))
			pending = pending[n:]
		}
		pending = nil
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			pending = append(pending, ev)
			if len(pending) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *RemoteIndex) sendBatch(events []remoteEvent) error {
	body, err := json.Marshal(struct {
		Events []remoteEvent `json:"events"`
	}{Events: events})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.HTTPTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ingest status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
