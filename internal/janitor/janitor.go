// Package janitor removes shares whose lifetime is over and blobs that no
// share references.
//
// The metadata stores have no server-side TTL, so the Sweeper provides the
// background expiry: it deletes expired or exhausted records in batches,
// metadata first and blob second. The Collector is the offline garbage
// collector for blobs left behind by failed compensating deletes.
package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config controls a janitor worker.
type Config struct {
	Interval  time.Duration
	Grace     time.Duration
	BatchSize int
	DryRun    bool
}

func (c Config) withDefaults(interval time.Duration) Config {
	if c.Interval <= 0 {
		c.Interval = interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	return c
}

// Observer receives deletion counts, typically for metrics.
type Observer interface {
	Swept(records int)
	Collected(blobs int)
}

type nopObserver struct{}

func (nopObserver) Swept(int)     {}
func (nopObserver) Collected(int) {}

// Stats describes one run.
type Stats struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Scanned   uint64    `json:"scanned"`
	Matched   uint64    `json:"matched"`
	Deleted   uint64    `json:"deleted"`
	Failed    uint64    `json:"failed"`
	DryRun    bool      `json:"dry_run"`
}

// Duration returns the run duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the run.
func (s *Stats) Summary() string {
	return fmt.Sprintf("scanned=%d matched=%d deleted=%d failed=%d dry_run=%v duration=%s",
		s.Scanned, s.Matched, s.Deleted, s.Failed, s.DryRun, s.Duration())
}

// runTimeout bounds a single scheduled run.
const runTimeout = 10 * time.Minute

// loop runs fn on a ticker until stopped.
type loop struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	run      func(ctx context.Context) (*Stats, error)

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func newLoop(name string, interval time.Duration, logger *zap.Logger, run func(ctx context.Context) (*Stats, error)) *loop {
	return &loop{
		name:     name,
		interval: interval,
		logger:   logger,
		run:      run,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the worker. Subsequent calls are no-ops.
func (l *loop) Start() {
	l.startOnce.Do(func() {
		l.started = true
		l.logger.Info("janitor worker started", zap.String("worker", l.name), zap.Duration("interval", l.interval))
		go l.worker()
	})
}

// Stop signals the worker and waits for an in-flight run to finish.
func (l *loop) Stop(ctx context.Context) error {
	if !l.started {
		return nil
	}
	l.stopOnce.Do(func() { close(l.stopCh) })

	select {
	case <-l.doneCh:
		l.logger.Info("janitor worker stopped", zap.String("worker", l.name))
		return nil
	case <-ctx.Done():
		l.logger.Warn("janitor worker shutdown timeout", zap.String("worker", l.name))
		return ctx.Err()
	}
}

func (l *loop) worker() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
			stats, err := l.run(ctx)
			cancel()

			if err != nil {
				l.logger.Error("janitor run failed", zap.String("worker", l.name), zap.Error(err))
				continue
			}
			if stats.Matched > 0 {
				l.logger.Info("janitor run completed", zap.String("worker", l.name), zap.String("stats", stats.Summary()))
			}
		case <-l.stopCh:
			return
		}
	}
}
