// Package storage re-hosts generated media in the application's own object
// storage so assets outlive the provider's CDN retention.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/mediaforge/mediaforge/internal/config"
)

var ErrInvalidKey = errors.New("storage: invalid key")

// ObjectStore writes objects and resolves their public URLs.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	// Upload stores data under key and returns the public URL.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	PublicURL(key string) string
}

// NormalizeKey returns the key an ObjectStore writes for key and
// contentType. Callers that record keys must record this form.
func NormalizeKey(key, contentType string) (string, error) {
	return sanitizeKey(KeyWithExtension(key, contentType))
}

// New creates the ObjectStore selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "gcs":
		s, err := NewGCSStore(ctx, cfg.GCSBucket, cfg.CDNBaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "filesystem":
		s, err := NewFileStore(cfg.LocalPath, cfg.LocalBaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}
