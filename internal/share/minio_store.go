package share

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
)

// blobTimeout bounds a single blob call, body transfer included.
const blobTimeout = time.Minute

// MinIOStore keeps ciphertexts in a MinIO bucket.
type MinIOStore struct {
	client        *minio.Client
	bucket        string
	maxObjectSize int64
	timeout       time.Duration
}

// NewMinIOStore constructs an adapter. maxObjectSize <= 0 disables the check.
func NewMinIOStore(client *minio.Client, bucket string, maxObjectSize int64) *MinIOStore {
	return &MinIOStore{client: client, bucket: bucket, maxObjectSize: maxObjectSize, timeout: blobTimeout}
}

// WithTimeout returns a copy of the store using d per call.
func (s *MinIOStore) WithTimeout(d time.Duration) *MinIOStore {
	if d <= 0 {
		return s
	}
	clone := *s
	clone.timeout = d
	return &clone
}

// Put uploads data under ref.
func (s *MinIOStore) Put(ctx context.Context, ref string, data []byte) error {
	if s.maxObjectSize > 0 && int64(len(data)) > s.maxObjectSize {
		return ErrBlobTooLarge
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, s.bucket, ref, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", ref, err)
	}
	return nil
}

// Get downloads the blob at ref.
func (s *MinIOStore) Get(ctx context.Context, ref string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	object, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinIOError(ref, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, translateMinIOError(ref, err)
	}
	return data, nil
}

// Delete removes the blob at ref. Missing blobs are not an error.
func (s *MinIOStore) Delete(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{})
	if err != nil && !errors.Is(translateMinIOError(ref, err), ErrBlobNotFound) {
		return fmt.Errorf("remove object %s: %w", ref, err)
	}
	return nil
}

// List walks every blob under prefix. The listing as a whole is bounded only
// by ctx.
func (s *MinIOStore) List(ctx context.Context, prefix string, fn func(BlobInfo) error) error {
	// Stops the lister goroutine when we return early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return fmt.Errorf("list objects: %w", object.Err)
		}
		if err := fn(BlobInfo{Ref: object.Key, Size: object.Size, LastModified: object.LastModified}); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Ping checks that the bucket is reachable.
func (s *MinIOStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

func translateMinIOError(ref string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrBlobNotFound
	}
	return fmt.Errorf("get object %s: %w", ref, err)
}
