package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsUploadTimeout = 2 * time.Minute

// GCSStore writes objects to a Google Cloud Storage bucket. Public URLs use
// the CDN base when one is configured.
type GCSStore struct {
	client  *storage.Client
	bucket  string
	cdnBase string
}

// NewGCSStore creates a GCSStore using application default credentials
// unless opts say otherwise.
func NewGCSStore(ctx context.Context, bucket, cdnBase string, opts ...option.ClientOption) (*GCSStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("storage: gcs bucket is required")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, cdnBase: strings.TrimRight(cdnBase, "/")}, nil
}

func (s *GCSStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := NormalizeKey(key, contentType)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, gcsUploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(cleanKey).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: write gcs object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: close gcs writer: %w", err)
	}
	return s.PublicURL(cleanKey), nil
}

func (s *GCSStore) PublicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if s.cdnBase != "" {
		return s.cdnBase + "/" + key
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

// Close releases the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
