// Package app opens the storage backends selected by configuration and
// builds the services on top of them. Both binaries share this wiring.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/abduss/ciphare/internal/admin"
	"github.com/abduss/ciphare/internal/cipher"
	"github.com/abduss/ciphare/internal/config"
	"github.com/abduss/ciphare/internal/janitor"
	"github.com/abduss/ciphare/internal/metrics"
	"github.com/abduss/ciphare/internal/server"
	"github.com/abduss/ciphare/internal/share"
	"github.com/abduss/ciphare/internal/storage"
)

// MetadataBackend is a metadata store the janitor can also work with.
type MetadataBackend interface {
	share.MetadataStore
	DeleteExpired(ctx context.Context, cutoff time.Time, limit int) ([]share.ExpiredRecord, error)
	HasBlobRef(ctx context.Context, ref string) (bool, error)
	Ping(ctx context.Context) error
}

// BlobBackend is a blob store the collector can also list.
type BlobBackend interface {
	share.BlobStore
	List(ctx context.Context, prefix string, fn func(share.BlobInfo) error) error
	Ping(ctx context.Context) error
}

// Backends holds the opened stores. Close releases them.
type Backends struct {
	Meta   MetadataBackend
	Blobs  BlobBackend
	Checks []server.ReadinessCheck

	closers []func()
}

// Open connects the configured metadata and blob backends.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Backends, error) {
	b := &Backends{}

	if err := b.openMetadata(ctx, cfg, logger); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openBlobs(ctx, cfg, logger); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) openMetadata(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.Storage.MetadataBackend {
	case "postgres":
		if cfg.Postgres.RunMigrations {
			if err := storage.Migrate(cfg.Postgres, logger); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}
		pool, err := storage.NewPostgresPool(ctx, cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		b.Meta = share.NewRepository(pool).WithTimeout(cfg.Storage.OpTimeout)
	case "bolt":
		db, err := storage.OpenBolt(cfg.Bolt)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() {
			if err := db.Close(); err != nil {
				logger.Warn("close bolt", zap.Error(err))
			}
		})
		repo, err := share.NewBoltRepository(db)
		if err != nil {
			return fmt.Errorf("init bolt repository: %w", err)
		}
		b.Meta = repo
		logger.Info("bolt metadata store opened", zap.String("path", cfg.Bolt.Path))
	default:
		return fmt.Errorf("unknown metadata backend %q", cfg.Storage.MetadataBackend)
	}

	b.Checks = append(b.Checks, server.ReadinessCheck{Component: cfg.Storage.MetadataBackend, Pinger: b.Meta})
	return nil
}

func (b *Backends) openBlobs(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	maxObject := cfg.Share.MaxPayloadBytes + int64(cipher.New().Overhead())

	switch cfg.Storage.BlobBackend {
	case "minio":
		client, err := storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return fmt.Errorf("connect minio: %w", err)
		}
		if err := storage.EnsureBucket(ctx, client, cfg.MinIO, logger); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
		b.Blobs = share.NewMinIOStore(client, cfg.MinIO.Bucket, maxObject).WithTimeout(cfg.Storage.OpTimeout)
	case "s3":
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return fmt.Errorf("connect s3: %w", err)
		}
		b.Blobs = share.NewS3Store(client, cfg.S3.Bucket, maxObject).WithTimeout(cfg.Storage.OpTimeout)
		logger.Info("s3 blob store configured",
			zap.String("bucket", cfg.S3.Bucket), zap.String("endpoint", cfg.S3.Endpoint))
	default:
		return fmt.Errorf("unknown blob backend %q", cfg.Storage.BlobBackend)
	}

	b.Checks = append(b.Checks, server.ReadinessCheck{Component: cfg.Storage.BlobBackend, Pinger: b.Blobs})
	return nil
}

// Close releases backends in reverse order of opening.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Services bundles everything the HTTP layer and the admin CLI need.
type Services struct {
	Share     *share.Service
	Admin     *admin.Service
	Sweeper   *janitor.Sweeper
	Collector *janitor.Collector
}

// NewServices builds the share service and janitor workers over b.
func NewServices(cfg config.Config, b *Backends, logger *zap.Logger) *Services {
	observer := metrics.NewShareObserver()

	shareService := share.NewService(b.Meta, b.Blobs, cipher.New(),
		share.WithLogger(logger.Named("share")),
		share.WithObserver(observer),
		share.WithLimits(share.Limits{
			MaxPayloadBytes: cfg.Share.MaxPayloadBytes,
			MinTTL:          cfg.Share.MinTTL,
			MaxTTL:          cfg.Share.MaxTTL,
			MaxReads:        cfg.Share.MaxReads,
		}),
		share.WithBlobPrefix(cfg.Storage.BlobPrefix),
		share.WithCompensationTimeout(cfg.Share.CompensationTimeout),
	)

	sweeper := janitor.NewSweeper(b.Meta, b.Blobs, janitor.Config{
		Interval:  cfg.Janitor.SweepInterval,
		Grace:     cfg.Janitor.Grace,
		BatchSize: cfg.Janitor.BatchSize,
	}, logger, observer)

	collector := janitor.NewCollector(b.Meta, b.Blobs, cfg.Storage.BlobPrefix, janitor.Config{
		Interval:  cfg.Janitor.GCInterval,
		Grace:     cfg.Janitor.Grace,
		BatchSize: cfg.Janitor.BatchSize,
		DryRun:    cfg.Janitor.DryRun,
	}, logger, observer)

	s := &Services{Share: shareService, Sweeper: sweeper, Collector: collector}
	if cfg.Admin.Enabled() {
		s.Admin = admin.NewService(cfg.Admin)
	}
	return s
}
