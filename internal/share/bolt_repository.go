package share

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketShares    = []byte("shares")
	bucketExpiry    = []byte("shares_by_expiry")
	bucketExhausted = []byte("shares_exhausted")
	bucketBlobRefs  = []byte("shares_by_blob_ref")
)

// BoltRepository stores share metadata in an embedded bbolt database. All
// writes go through bbolt's single writer transaction, which makes the read
// counter linearizable for every process sharing the file lock.
type BoltRepository struct {
	db *bbolt.DB
}

// NewBoltRepository prepares the buckets it needs in db.
func NewBoltRepository(db *bbolt.DB) (*BoltRepository, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketShares, bucketExpiry, bucketExhausted, bucketBlobRefs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt share repository: %w", err)
	}
	return &BoltRepository{db: db}, nil
}

// Insert adds a new record. A clash on the id yields ErrDuplicateID.
func (r *BoltRepository) Insert(ctx context.Context, rec FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		shares := tx.Bucket(bucketShares)
		if shares.Get([]byte(rec.ID)) != nil {
			return ErrDuplicateID
		}

		data, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := shares.Put([]byte(rec.ID), data); err != nil {
			return fmt.Errorf("put share: %w", err)
		}
		if err := tx.Bucket(bucketExpiry).Put(timeKey(rec.ExpiresAt, rec.ID), []byte(rec.ID)); err != nil {
			return fmt.Errorf("put expiry index: %w", err)
		}
		if err := tx.Bucket(bucketBlobRefs).Put([]byte(rec.BlobRef), []byte(rec.ID)); err != nil {
			return fmt.Errorf("put blob ref index: %w", err)
		}
		return nil
	})
}

// Get loads a record by id.
func (r *BoltRepository) Get(ctx context.Context, id string) (FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return FileRecord{}, err
	}

	var rec FileRecord
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketShares).Get([]byte(id))
		if data == nil {
			return ErrRecordNotFound
		}
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return FileRecord{}, err
	}
	return rec, nil
}

// ConditionalDecrement takes one read inside a single write transaction.
func (r *BoltRepository) ConditionalDecrement(ctx context.Context, id string, now time.Time) (Decrement, error) {
	if err := ctx.Err(); err != nil {
		return Decrement{}, err
	}

	var result Decrement
	err := r.db.Update(func(tx *bbolt.Tx) error {
		shares := tx.Bucket(bucketShares)
		data := shares.Get([]byte(id))
		if data == nil {
			result = Decrement{Outcome: OutcomeNotFound}
			return nil
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}

		if !now.Before(rec.ExpiresAt) || (rec.MaxReads > 0 && rec.RemainingReads <= 0) {
			result = Decrement{Outcome: OutcomeExhausted}
			return nil
		}

		if rec.MaxReads > 0 {
			rec.RemainingReads--
		}
		readAt := now.UTC()
		rec.LastReadAt = &readAt

		data, err = encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := shares.Put([]byte(id), data); err != nil {
			return fmt.Errorf("put share: %w", err)
		}
		if rec.MaxReads > 0 && rec.RemainingReads == 0 {
			if err := tx.Bucket(bucketExhausted).Put(timeKey(readAt, id), []byte(id)); err != nil {
				return fmt.Errorf("put exhausted index: %w", err)
			}
		}

		result = Decrement{Outcome: OutcomeConsumed, Remaining: rec.RemainingReads}
		return nil
	})
	if err != nil {
		return Decrement{}, fmt.Errorf("decrement share reads: %w", err)
	}
	return result, nil
}

// Delete removes a record and its index entries. Deleting a missing record
// is not an error.
func (r *BoltRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		_, err := deleteRecord(tx, id)
		return err
	})
}

// DeleteExpired removes up to limit records that expired, or were exhausted
// by their last read, before cutoff.
func (r *BoltRepository) DeleteExpired(ctx context.Context, cutoff time.Time, limit int) ([]ExpiredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var expired []ExpiredRecord
	err := r.db.Update(func(tx *bbolt.Tx) error {
		var ids []string
		for _, index := range [][]byte{bucketExpiry, bucketExhausted} {
			ids = append(ids, idsBefore(tx.Bucket(index), cutoff, limit-len(ids))...)
		}

		for _, id := range ids {
			rec, err := deleteRecord(tx, id)
			if err != nil {
				return err
			}
			if rec.ID == "" {
				continue
			}
			expired = append(expired, ExpiredRecord{ID: rec.ID, BlobRef: rec.BlobRef})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete expired shares: %w", err)
	}
	return expired, nil
}

// HasBlobRef reports whether any record points at ref.
func (r *BoltRepository) HasBlobRef(ctx context.Context, ref string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var found bool
	err := r.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketBlobRefs).Get([]byte(ref)) != nil
		return nil
	})
	return found, err
}

// Ping checks that the database is still open.
func (r *BoltRepository) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.View(func(tx *bbolt.Tx) error { return nil })
}

// deleteRecord removes id from every bucket and returns the removed record,
// or a zero record when id is unknown.
func deleteRecord(tx *bbolt.Tx, id string) (FileRecord, error) {
	shares := tx.Bucket(bucketShares)
	data := shares.Get([]byte(id))
	if data == nil {
		return FileRecord{}, nil
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return FileRecord{}, err
	}

	if err := shares.Delete([]byte(id)); err != nil {
		return FileRecord{}, fmt.Errorf("delete share: %w", err)
	}
	if err := tx.Bucket(bucketExpiry).Delete(timeKey(rec.ExpiresAt, id)); err != nil {
		return FileRecord{}, fmt.Errorf("delete expiry index: %w", err)
	}
	if rec.LastReadAt != nil {
		if err := tx.Bucket(bucketExhausted).Delete(timeKey(*rec.LastReadAt, id)); err != nil {
			return FileRecord{}, fmt.Errorf("delete exhausted index: %w", err)
		}
	}
	if err := tx.Bucket(bucketBlobRefs).Delete([]byte(rec.BlobRef)); err != nil {
		return FileRecord{}, fmt.Errorf("delete blob ref index: %w", err)
	}
	return rec, nil
}

// idsBefore collects ids from a time-ordered index whose key time is before
// cutoff.
func idsBefore(b *bbolt.Bucket, cutoff time.Time, limit int) []string {
	if limit <= 0 {
		return nil
	}

	var ids []string
	end := timePrefix(cutoff)
	c := b.Cursor()
	for k, v := c.First(); k != nil && bytes.Compare(k[:8], end) < 0; k, v = c.Next() {
		ids = append(ids, string(v))
		if len(ids) >= limit {
			break
		}
	}
	return ids
}

// timeKey orders index entries by time, with the id appended for uniqueness.
func timeKey(t time.Time, id string) []byte {
	return append(timePrefix(t), id...)
}

func timePrefix(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return k
}

func encodeRecord(rec FileRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode share: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (FileRecord, error) {
	var rec FileRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return FileRecord{}, fmt.Errorf("decode share: %w", err)
	}
	return rec, nil
}
