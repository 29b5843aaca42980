package janitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/abduss/ciphare/internal/share"
)

type refChecker interface {
	HasBlobRef(ctx context.Context, ref string) (bool, error)
}

type blobLister interface {
	List(ctx context.Context, prefix string, fn func(share.BlobInfo) error) error
	Delete(ctx context.Context, ref string) error
}

// Collector deletes blobs that no metadata record references. Blobs younger
// than the grace period are skipped, as their Store may still be writing
// the metadata.
type Collector struct {
	meta     refChecker
	blobs    blobLister
	prefix   string
	config   Config
	logger   *zap.Logger
	observer Observer
	nowFunc  func() time.Time
	*loop
}

// NewCollector creates a collector scanning blobs under prefix.
func NewCollector(meta refChecker, blobs blobLister, prefix string, config Config, logger *zap.Logger, observer Observer) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	c := &Collector{
		meta:     meta,
		blobs:    blobs,
		prefix:   prefix,
		config:   config.withDefaults(6 * time.Hour),
		logger:   logger.Named("collector"),
		observer: observer,
		nowFunc:  time.Now,
	}
	c.loop = newLoop("collector", c.config.Interval, c.logger, c.RunNow)
	return c
}

// RunNow performs one collection using the configured dry-run setting.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	return c.collect(ctx, c.config.DryRun)
}

// DryRun reports what a collection would delete without deleting anything.
func (c *Collector) DryRun(ctx context.Context) (*Stats, error) {
	return c.collect(ctx, true)
}

func (c *Collector) collect(ctx context.Context, dryRun bool) (*Stats, error) {
	stats := &Stats{StartTime: time.Now(), DryRun: dryRun}
	defer func() { stats.EndTime = time.Now() }()

	cutoff := c.nowFunc().Add(-c.config.Grace)
	var orphaned []string

	err := c.blobs.List(ctx, c.prefix, func(info share.BlobInfo) error {
		stats.Scanned++
		if info.LastModified.After(cutoff) {
			return nil
		}
		referenced, err := c.meta.HasBlobRef(ctx, info.Ref)
		if err != nil {
			return err
		}
		if !referenced {
			orphaned = append(orphaned, info.Ref)
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("scan blobs: %w", err)
	}
	stats.Matched = uint64(len(orphaned))

	if dryRun {
		for i, ref := range orphaned {
			if i >= 10 {
				c.logger.Info("dry run: more orphans omitted", zap.Int("remaining", len(orphaned)-i))
				break
			}
			c.logger.Info("dry run: would delete orphan", zap.String("blob_ref", ref))
		}
		return stats, nil
	}

	for _, ref := range orphaned {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := c.blobs.Delete(ctx, ref); err != nil {
			stats.Failed++
			c.logger.Warn("delete orphan failed", zap.String("blob_ref", ref), zap.Error(err))
			continue
		}
		stats.Deleted++
	}
	c.observer.Collected(int(stats.Deleted))
	return stats, nil
}
