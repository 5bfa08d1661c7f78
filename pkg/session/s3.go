package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// expiresMeta is the object metadata key holding the RFC 3339 expiry.
const expiresMeta = "expires-at"

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps one object per session under a key prefix. Expiry is
// stored as object metadata and checked on Load; use a bucket lifecycle
// rule to reclaim expired objects.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := session.NewS3Store(s3.NewFromConfig(cfg), "my-bucket", "sessions/")
type S3Store struct {
	client S3API
	bucket string
	prefix string
	closed atomic.Bool
}

// NewS3Store creates a store writing to bucket under prefix.
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(sessionID string) string {
	return path.Join(s.prefix, sessionID+".json")
}

// Save writes the state object.
func (s *S3Store) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(sessionID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			expiresMeta: expiresAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("session: s3 put %s: %w", sessionID, err)
	}
	return nil
}

// Load reads the state object. Missing and expired objects yield (nil, nil).
func (s *S3Store) Load(ctx context.Context, sessionID string) ([]byte, error) {
	data, expiresAt, err := s.get(ctx, sessionID)
	if err != nil || data == nil {
		return nil, err
	}
	if time.Now().After(expiresAt) {
		return nil, nil
	}
	return data, nil
}

func (s *S3Store) get(ctx context.Context, sessionID string) ([]byte, time.Time, error) {
	if s.closed.Load() {
		return nil, time.Time{}, ErrStoreClosed
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("session: s3 get %s: %w", sessionID, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("session: s3 read %s: %w", sessionID, err)
	}
	expiresAt, err := time.Parse(time.RFC3339, out.Metadata[expiresMeta])
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("session: s3 object %s has no valid expiry: %w", sessionID, err)
	}
	return data, expiresAt, nil
}

// Delete removes the state object.
func (s *S3Store) Delete(ctx context.Context, sessionID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID)),
	})
	if err != nil {
		return fmt.Errorf("session: s3 delete %s: %w", sessionID, err)
	}
	return nil
}

// Touch rewrites the object with a new expiry. Object metadata cannot be
// changed in place.
func (s *S3Store) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	data, _, err := s.get(ctx, sessionID)
	if err != nil || data == nil {
		return err
	}
	return s.Save(ctx, sessionID, data, expiresAt)
}

// SaveAll writes each record in turn and stops at the first failure.
func (s *S3Store) SaveAll(ctx context.Context, sessions map[string]Record) error {
	for id, r := range sessions {
		if err := s.Save(ctx, id, r.Data, r.ExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the store closed.
func (s *S3Store) Close() error {
	s.closed.Store(true)
	return nil
}
