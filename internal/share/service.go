package share

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abduss/ciphare/internal/cipher"
)

const (
	idLength          = 16
	maxIDAttempts     = 5
	maxPasswordLength = 1024
	maxFileNameRunes  = 255
	maxMediaTypeRunes = 100

	defaultFileName          = "unknown"
	defaultMediaType         = "application/octet-stream"
	defaultBlobPrefix        = "encrypted/"
	defaultCompensateTimeout = 10 * time.Second
	defaultMaxPayloadBytes   = 100 * 1024 * 1024 // 100MB
	defaultMinTTL            = time.Minute
	defaultMaxTTL            = 90 * 24 * time.Hour
	defaultMaxReadsLimit     = 100
)

// MetadataStore persists FileRecords and owns the atomic read counter.
type MetadataStore interface {
	Insert(ctx context.Context, rec FileRecord) error
	Get(ctx context.Context, id string) (FileRecord, error)
	ConditionalDecrement(ctx context.Context, id string, now time.Time) (Decrement, error)
	Delete(ctx context.Context, id string) error
}

// BlobStore persists ciphertexts keyed by blob ref.
type BlobStore interface {
	Put(ctx context.Context, ref string, data []byte) error
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

type sealer interface {
	Seal(plaintext []byte, password string) (cipher.Sealed, error)
	Open(ciphertext []byte, password string, salt, nonce []byte, version uint8) ([]byte, error)
}

// Observer receives lifecycle events, typically for metrics.
type Observer interface {
	Stored(sizeBytes int64)
	Retrieved(outcome string)
	Compensated(ok bool)
	Orphaned()
}

type nopObserver struct{}

func (nopObserver) Stored(int64)     {}
func (nopObserver) Retrieved(string) {}
func (nopObserver) Compensated(bool) {}
func (nopObserver) Orphaned()        {}

// Limits bounds what a single Store call may request.
type Limits struct {
	MaxPayloadBytes int64
	MinTTL          time.Duration
	MaxTTL          time.Duration
	MaxReads        int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: defaultMaxPayloadBytes,
		MinTTL:          defaultMinTTL,
		MaxTTL:          defaultMaxTTL,
		MaxReads:        defaultMaxReadsLimit,
	}
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(observer Observer) Option {
	return func(s *Service) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithLimits overrides the default input limits.
func WithLimits(limits Limits) Option {
	return func(s *Service) {
		s.limits = limits
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// WithIDGenerator overrides the share id generator.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

// WithBlobPrefix sets the key prefix for new blobs.
func WithBlobPrefix(prefix string) Option {
	return func(s *Service) {
		s.blobPrefix = prefix
	}
}

// WithCompensationTimeout bounds cleanup that runs after the caller has gone.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.compensationTimeout = d
		}
	}
}

// Service orchestrates sealing, storage and the read lifecycle of shares.
type Service struct {
	meta   MetadataStore
	blobs  BlobStore
	cipher sealer
	guard  *Guard

	logger              *zap.Logger
	observer            Observer
	limits              Limits
	nowFunc             func() time.Time
	newID               func() (string, error)
	blobPrefix          string
	compensationTimeout time.Duration
}

// NewService constructs a share service. The caller owns the lifecycle of
// both stores.
func NewService(meta MetadataStore, blobs BlobStore, c sealer, opts ...Option) *Service {
	s := &Service{
		meta:                meta,
		blobs:               blobs,
		cipher:              c,
		guard:               NewGuard(meta),
		logger:              zap.NewNop(),
		observer:            nopObserver{},
		limits:              DefaultLimits(),
		nowFunc:             time.Now,
		newID:               generateID,
		blobPrefix:          defaultBlobPrefix,
		compensationTimeout: defaultCompensateTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limits returns the limits the service validates against.
func (s *Service) Limits() Limits {
	return s.limits
}

// Store seals the payload under password, writes the blob and then the
// metadata record. A failed metadata write removes the blob again.
func (s *Service) Store(ctx context.Context, input StoreInput) (StoreResult, error) {
	input, err := s.validate(input)
	if err != nil {
		return StoreResult{}, err
	}

	id, err := s.newID()
	if err != nil {
		return StoreResult{}, fmt.Errorf("generate id: %w", err)
	}

	sealed, err := s.cipher.Seal(input.Payload, input.Password)
	if err != nil {
		return StoreResult{}, fmt.Errorf("seal payload: %w", err)
	}

	ref := s.blobPrefix + uuid.NewString() + ".bin"
	if err := s.blobs.Put(ctx, ref, sealed.Ciphertext); err != nil {
		// A timed out Put may still have landed.
		s.compensate(ctx, id, ref)
		if errors.Is(err, ErrBlobTooLarge) {
			return StoreResult{}, fmt.Errorf("%w: %w", ErrSizeExceeded, err)
		}
		s.logger.Error("put blob failed", zap.String("id", id), zap.String("blob_ref", ref), zap.Error(err))
		return StoreResult{}, fmt.Errorf("%w: put blob: %w", ErrStorageFailed, err)
	}

	now := s.nowFunc().UTC()
	rec := FileRecord{
		ID:             id,
		FileName:       input.FileName,
		MediaType:      input.MediaType,
		CipherVersion:  sealed.Version,
		Salt:           sealed.Salt,
		Nonce:          sealed.Nonce,
		CreatedAt:      now,
		ExpiresAt:      now.Add(input.TTL),
		MaxReads:       input.MaxReads,
		RemainingReads: input.MaxReads,
		BlobRef:        ref,
		SizeBytes:      int64(len(sealed.Ciphertext)),
	}

	var insertErr error
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		insertErr = s.meta.Insert(ctx, rec)
		if insertErr == nil {
			s.observer.Stored(rec.SizeBytes)
			s.logger.Info("share stored",
				zap.String("id", rec.ID),
				zap.Int64("size_bytes", rec.SizeBytes),
				zap.Int("max_reads", rec.MaxReads),
				zap.Time("expires_at", rec.ExpiresAt),
			)
			return StoreResult{
				ID:        rec.ID,
				FileName:  rec.FileName,
				MediaType: rec.MediaType,
				ExpiresAt: rec.ExpiresAt,
				MaxReads:  rec.MaxReads,
			}, nil
		}
		if !errors.Is(insertErr, ErrDuplicateID) {
			break
		}

		s.logger.Warn("share id collision", zap.String("id", rec.ID), zap.Int("attempt", attempt))
		if rec.ID, err = s.newID(); err != nil {
			insertErr = fmt.Errorf("generate id: %w", err)
			break
		}
	}

	s.logger.Error("insert metadata failed", zap.String("id", rec.ID), zap.String("blob_ref", ref), zap.Error(insertErr))
	s.compensate(ctx, rec.ID, ref)
	return StoreResult{}, fmt.Errorf("%w: insert metadata: %w", ErrStorageFailed, insertErr)
}

// Retrieve consumes one read of the share and decrypts it. A wrong password
// still spends the read. When the last read is spent the share is deleted.
func (s *Service) Retrieve(ctx context.Context, id, password string) (RetrieveResult, error) {
	if strings.TrimSpace(id) == "" {
		s.observer.Retrieved("not_found")
		return RetrieveResult{}, ErrNotFound
	}

	rec, err := s.meta.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			s.observer.Retrieved("not_found")
			return RetrieveResult{}, ErrNotFound
		}
		s.observer.Retrieved("storage_error")
		s.logger.Error("get metadata failed", zap.String("id", id), zap.Error(err))
		return RetrieveResult{}, fmt.Errorf("%w: get metadata: %w", ErrStorageFailed, err)
	}

	now := s.nowFunc().UTC()
	if !IsAlive(rec, now) {
		s.observer.Retrieved("not_found")
		return RetrieveResult{}, ErrNotFound
	}

	// The ciphertext is fetched before the read is taken, so a reader that
	// wins a read never races the deletion done by the final reader.
	ciphertext, err := s.blobs.Get(ctx, rec.BlobRef)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			err = s.missingBlob(ctx, rec)
			if errors.Is(err, ErrNotFound) {
				s.observer.Retrieved("not_found")
			} else {
				s.observer.Retrieved("storage_error")
			}
			return RetrieveResult{}, err
		}
		s.observer.Retrieved("storage_error")
		s.logger.Error("get blob failed", zap.String("id", id), zap.String("blob_ref", rec.BlobRef), zap.Error(err))
		return RetrieveResult{}, fmt.Errorf("%w: get blob: %w", ErrStorageFailed, err)
	}

	dec, err := s.guard.ConsumeRead(ctx, rec, now)
	if err != nil {
		s.observer.Retrieved("storage_error")
		s.logger.Error("consume read failed", zap.String("id", id), zap.Error(err))
		return RetrieveResult{}, fmt.Errorf("%w: consume read: %w", ErrStorageFailed, err)
	}
	if dec.Outcome != OutcomeConsumed {
		s.observer.Retrieved("not_found")
		return RetrieveResult{}, ErrNotFound
	}

	// The budget is spent from here on regardless of what follows.
	if !rec.Unlimited() && dec.Remaining == 0 {
		defer s.destroy(ctx, rec)
	}

	plaintext, err := s.cipher.Open(ciphertext, password, rec.Salt, rec.Nonce, rec.CipherVersion)
	if err != nil {
		if errors.Is(err, cipher.ErrAuthenticationFailed) {
			s.observer.Retrieved("auth_failed")
			return RetrieveResult{}, ErrAuthenticationFailed
		}
		s.observer.Retrieved("storage_error")
		s.logger.Error("share corrupt: cannot open blob", zap.String("id", id), zap.Error(err))
		return RetrieveResult{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	s.observer.Retrieved("ok")
	return RetrieveResult{
		Payload:        plaintext,
		FileName:       rec.FileName,
		MediaType:      rec.MediaType,
		RemainingReads: dec.Remaining,
	}, nil
}

// missingBlob tells a share removed by a concurrent final read apart from a
// live record whose blob has vanished.
func (s *Service) missingBlob(ctx context.Context, rec FileRecord) error {
	_, err := s.meta.Get(ctx, rec.ID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return ErrNotFound
	case err != nil:
		s.logger.Error("get metadata failed", zap.String("id", rec.ID), zap.Error(err))
		return fmt.Errorf("%w: get metadata: %w", ErrStorageFailed, err)
	}
	s.logger.Error("share corrupt: blob missing for live record",
		zap.String("id", rec.ID), zap.String("blob_ref", rec.BlobRef))
	return fmt.Errorf("%w: %s", ErrCorrupt, rec.BlobRef)
}

func (s *Service) validate(input StoreInput) (StoreInput, error) {
	if len(input.Payload) == 0 {
		return input, fmt.Errorf("%w: payload is empty", ErrValidationFailed)
	}
	if s.limits.MaxPayloadBytes > 0 && int64(len(input.Payload)) > s.limits.MaxPayloadBytes {
		return input, fmt.Errorf("%w: %d bytes exceeds %d", ErrSizeExceeded, len(input.Payload), s.limits.MaxPayloadBytes)
	}
	if input.Password == "" {
		return input, fmt.Errorf("%w: password is required", ErrValidationFailed)
	}
	if len(input.Password) > maxPasswordLength {
		return input, fmt.Errorf("%w: password exceeds %d bytes", ErrValidationFailed, maxPasswordLength)
	}
	if input.TTL < s.limits.MinTTL || input.TTL > s.limits.MaxTTL {
		return input, fmt.Errorf("%w: ttl must be between %s and %s", ErrValidationFailed, s.limits.MinTTL, s.limits.MaxTTL)
	}
	if input.MaxReads < 0 || input.MaxReads > s.limits.MaxReads {
		return input, fmt.Errorf("%w: max_reads must be between 0 and %d", ErrValidationFailed, s.limits.MaxReads)
	}

	input.FileName = normalize(input.FileName, defaultFileName, maxFileNameRunes)
	input.MediaType = normalize(input.MediaType, defaultMediaType, maxMediaTypeRunes)
	return input, nil
}

// compensate removes a blob whose metadata was never written. It runs on a
// context detached from the caller so a disconnect cannot skip it.
func (s *Service) compensate(parent context.Context, id, ref string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.compensationTimeout)
	defer cancel()

	if err := s.blobs.Delete(ctx, ref); err != nil {
		s.observer.Compensated(false)
		s.observer.Orphaned()
		s.logger.Error("orphaned blob left for collection",
			zap.String("id", id), zap.String("blob_ref", ref), zap.Error(err))
		return
	}
	s.observer.Compensated(true)
}

// destroy removes a share whose budget is spent, metadata first.
func (s *Service) destroy(parent context.Context, rec FileRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.compensationTimeout)
	defer cancel()

	if err := s.meta.Delete(ctx, rec.ID); err != nil {
		s.logger.Error("delete exhausted metadata failed", zap.String("id", rec.ID), zap.Error(err))
		return
	}
	if err := s.blobs.Delete(ctx, rec.BlobRef); err != nil {
		s.observer.Orphaned()
		s.logger.Error("delete exhausted blob failed",
			zap.String("id", rec.ID), zap.String("blob_ref", rec.BlobRef), zap.Error(err))
		return
	}
	s.logger.Info("share exhausted and deleted", zap.String("id", rec.ID))
}

func normalize(value, fallback string, maxRunes int) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if utf8.RuneCountInString(value) > maxRunes {
		value = string([]rune(value)[:maxRunes])
	}
	return value
}

func generateID() (string, error) {
	raw := make([]byte, idLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
