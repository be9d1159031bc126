// Package gcs stores artifacts as Google Cloud Storage objects.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/depfollow/internal/blob"
)

// manifestCacheControl keeps caches from serving a manifest that a replay has
// since rewritten.
const manifestCacheControl = "no-cache"

// Config selects the bucket artifacts land in.
type Config struct {
	Bucket string `mapstructure:"bucket"`
}

// BlobStore writes artifacts to one bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
}

var _ blob.Store = (*BlobStore)(nil)

// New returns a store writing to cfg.Bucket through client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket}, nil
}

// PutObject streams r into the object at path and returns its gs:// URI.
// attrs.Metadata becomes custom object metadata. The object is committed only
// when r is drained; a read failure aborts the upload so the previous version
// stays in place.
func (s *BlobStore) PutObject(ctx context.Context, path string, r io.Reader, attrs blob.Attrs) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}

	uploadCtx, abort := context.WithCancel(ctx)
	defer abort()

	w := s.bucket.Object(path).NewWriter(uploadCtx)
	w.ContentType = attrs.ContentType
	w.CacheControl = manifestCacheControl
	w.Metadata = maps.Clone(attrs.Metadata)

	if _, err := io.Copy(w, r); err != nil {
		// Cancelling before Close is the only way to discard a GCS upload.
		abort()
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("commit %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, path), nil
}
