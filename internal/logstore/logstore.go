package logstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"
)

// Store archives session console logs to a blob bucket. The bucket URL
// selects the backend (file://, s3://, azblob://).
type Store struct {
	bucket *blob.Bucket
}

func Open(ctx context.Context, bucketURL string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open log bucket: %w", err)
	}
	return &Store{bucket: bucket}, nil
}

func (s *Store) Close() error {
	return s.bucket.Close()
}

// Save writes the session's console log under sessions/<id>/console.log.
func (s *Store) Save(ctx context.Context, sessionID uuid.UUID, logs string) error {
	key := fmt.Sprintf("sessions/%s/console.log", sessionID)
	return s.bucket.WriteAll(ctx, key, []byte(logs), &blob.WriterOptions{
		ContentType: "text/plain",
	})
}

// Load reads a previously archived console log.
func (s *Store) Load(ctx context.Context, sessionID uuid.UUID) (string, error) {
	key := fmt.Sprintf("sessions/%s/console.log", sessionID)
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
