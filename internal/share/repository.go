package share

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

// Repository stores share metadata in PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository builds a new share repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, timeout: repoTimeout}
}

// WithTimeout returns a copy of the repository using d per call.
func (r *Repository) WithTimeout(d time.Duration) *Repository {
	if d <= 0 {
		return r
	}
	return &Repository{pool: r.pool, timeout: d}
}

const recordColumns = `id, file_name, media_type, cipher_version, salt, nonce, created_at, expires_at,
max_reads, remaining_reads, last_read_at, blob_ref, size_bytes`

// Insert adds a new record. A clash on the id yields ErrDuplicateID.
func (r *Repository) Insert(ctx context.Context, rec FileRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
INSERT INTO shared_files (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);`

	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.FileName,
		rec.MediaType,
		int16(rec.CipherVersion),
		rec.Salt,
		rec.Nonce,
		rec.CreatedAt,
		rec.ExpiresAt,
		rec.MaxReads,
		rec.RemainingReads,
		rec.LastReadAt,
		rec.BlobRef,
		rec.SizeBytes,
	)
	if err != nil {
		if isUniqueViolation(err, "shared_files_pkey") {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert share metadata: %w", err)
	}
	return nil
}

// Get loads a record by id.
func (r *Repository) Get(ctx context.Context, id string) (FileRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + recordColumns + ` FROM shared_files WHERE id = $1;`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FileRecord{}, ErrRecordNotFound
		}
		return FileRecord{}, fmt.Errorf("get share metadata: %w", err)
	}
	return rec, nil
}

// ConditionalDecrement takes one read in a single statement. Concurrent
// updates on the same row serialize on its row lock and re-check the WHERE
// clause, so a budget of one is handed out exactly once.
func (r *Repository) ConditionalDecrement(ctx context.Context, id string, now time.Time) (Decrement, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
WITH updated AS (
    UPDATE shared_files
    SET remaining_reads = CASE WHEN max_reads = 0 THEN remaining_reads ELSE remaining_reads - 1 END,
        last_read_at = $2
    WHERE id = $1
      AND expires_at > $2
      AND (max_reads = 0 OR remaining_reads > 0)
    RETURNING remaining_reads
)
SELECT EXISTS (SELECT 1 FROM shared_files WHERE id = $1),
       (SELECT remaining_reads FROM updated);`

	var (
		exists    bool
		remaining *int
	)
	if err := r.pool.QueryRow(ctx, query, id, now).Scan(&exists, &remaining); err != nil {
		return Decrement{}, fmt.Errorf("decrement share reads: %w", err)
	}

	switch {
	case remaining != nil:
		return Decrement{Outcome: OutcomeConsumed, Remaining: *remaining}, nil
	case exists:
		return Decrement{Outcome: OutcomeExhausted}, nil
	default:
		return Decrement{Outcome: OutcomeNotFound}, nil
	}
}

// Delete removes a record. Deleting a missing record is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `DELETE FROM shared_files WHERE id = $1;`, id); err != nil {
		return fmt.Errorf("delete share metadata: %w", err)
	}
	return nil
}

// DeleteExpired removes up to limit records that expired, or were exhausted
// by their last read, before cutoff. The blob refs of the removed rows are
// returned so the caller can delete the blobs afterwards.
func (r *Repository) DeleteExpired(ctx context.Context, cutoff time.Time, limit int) ([]ExpiredRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
DELETE FROM shared_files
WHERE id IN (
    SELECT id FROM shared_files
    WHERE expires_at < $1
       OR (max_reads > 0 AND remaining_reads <= 0 AND last_read_at < $1)
    ORDER BY expires_at
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
RETURNING id, blob_ref;`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("delete expired shares: %w", err)
	}
	defer rows.Close()

	var expired []ExpiredRecord
	for rows.Next() {
		var rec ExpiredRecord
		if err := rows.Scan(&rec.ID, &rec.BlobRef); err != nil {
			return nil, fmt.Errorf("scan expired share: %w", err)
		}
		expired = append(expired, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired shares: %w", err)
	}
	return expired, nil
}

// HasBlobRef reports whether any record points at ref.
func (r *Repository) HasBlobRef(ctx context.Context, ref string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shared_files WHERE blob_ref = $1);`, ref).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup blob ref: %w", err)
	}
	return exists, nil
}

// Ping checks connectivity for readiness probes.
func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.pool.Ping(ctx)
}

func scanRecord(row pgx.Row) (FileRecord, error) {
	var (
		rec     FileRecord
		version int16
	)
	err := row.Scan(
		&rec.ID,
		&rec.FileName,
		&rec.MediaType,
		&version,
		&rec.Salt,
		&rec.Nonce,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.MaxReads,
		&rec.RemainingReads,
		&rec.LastReadAt,
		&rec.BlobRef,
		&rec.SizeBytes,
	)
	if err != nil {
		return FileRecord{}, err
	}
	rec.CipherVersion = uint8(version)
	return rec, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}
