package share

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store keeps ciphertexts in AWS S3 or an S3-compatible service such as
// Cloudflare R2.
type S3Store struct {
	client        *s3.Client
	bucket        string
	maxObjectSize int64
	timeout       time.Duration
}

// NewS3Store constructs an adapter. maxObjectSize <= 0 disables the check.
func NewS3Store(client *s3.Client, bucket string, maxObjectSize int64) *S3Store {
	return &S3Store{client: client, bucket: bucket, maxObjectSize: maxObjectSize, timeout: blobTimeout}
}

// WithTimeout returns a copy of the store using d per call.
func (s *S3Store) WithTimeout(d time.Duration) *S3Store {
	if d <= 0 {
		return s
	}
	clone := *s
	clone.timeout = d
	return &clone
}

// Put uploads data under ref.
func (s *S3Store) Put(ctx context.Context, ref string, data []byte) error {
	if s.maxObjectSize > 0 && int64(len(data)) > s.maxObjectSize {
		return ErrBlobTooLarge
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(ref),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", ref, err)
	}
	return nil
}

// Get downloads the blob at ref.
func (s *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", ref, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", ref, err)
	}
	return data, nil
}

// Delete removes the blob at ref. S3 reports success for missing keys.
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", ref, err)
	}
	return nil
}

// List walks every blob under prefix.
func (s *S3Store) List(ctx context.Context, prefix string, fn func(BlobInfo) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		pageCtx, cancel := context.WithTimeout(ctx, s.timeout)
		page, err := paginator.NextPage(pageCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			info := BlobInfo{Ref: *obj.Key, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			if err := fn(info); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket: %w", err)
	}
	return nil
}
