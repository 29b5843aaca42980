package janitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/abduss/ciphare/internal/share"
)

type expiredDeleter interface {
	DeleteExpired(ctx context.Context, cutoff time.Time, limit int) ([]share.ExpiredRecord, error)
}

type blobDeleter interface {
	Delete(ctx context.Context, ref string) error
}

// Sweeper deletes shares that expired, or spent their last read, more than
// the grace period ago. The grace period keeps a reader that already passed
// the lifecycle check from losing its blob mid-download.
type Sweeper struct {
	meta     expiredDeleter
	blobs    blobDeleter
	config   Config
	logger   *zap.Logger
	observer Observer
	nowFunc  func() time.Time
	*loop
}

// NewSweeper creates a sweeper. Call Start to run it in the background.
func NewSweeper(meta expiredDeleter, blobs blobDeleter, config Config, logger *zap.Logger, observer Observer) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	s := &Sweeper{
		meta:     meta,
		blobs:    blobs,
		config:   config.withDefaults(time.Minute),
		logger:   logger.Named("sweeper"),
		observer: observer,
		nowFunc:  time.Now,
	}
	s.loop = newLoop("sweeper", s.config.Interval, s.logger, s.RunNow)
	return s
}

// RunNow performs one sweep and blocks until it completes.
func (s *Sweeper) RunNow(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	cutoff := s.nowFunc().UTC().Add(-s.config.Grace)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch, err := s.meta.DeleteExpired(ctx, cutoff, s.config.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("delete expired metadata: %w", err)
		}
		stats.Scanned += uint64(len(batch))
		stats.Matched += uint64(len(batch))

		for _, rec := range batch {
			if err := s.blobs.Delete(ctx, rec.BlobRef); err != nil {
				// The collector picks the blob up later.
				stats.Failed++
				s.logger.Warn("delete expired blob failed",
					zap.String("id", rec.ID), zap.String("blob_ref", rec.BlobRef), zap.Error(err))
				continue
			}
			stats.Deleted++
		}
		s.observer.Swept(len(batch))

		if len(batch) < s.config.BatchSize {
			return stats, nil
		}
	}
}
