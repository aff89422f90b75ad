// Package gcs archives rendered pages in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Config captures the bucket and an optional object prefix.
type Config struct {
	Bucket string
	Prefix string
	// VerifyBucket makes Open fail fast when the bucket is missing or unreadable.
	VerifyBucket bool
}

// BlobStore writes page archives to a GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// Open wraps client in a BlobStore, checking bucket access when requested.
func Open(ctx context.Context, client *storage.Client, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerifyBucket {
		if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
			return nil, fmt.Errorf("gcs bucket %q: %w", cfg.Bucket, err)
		}
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// PutObject uploads r and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	object := name
	if s.prefix != "" {
		object = path.Join(s.prefix, name)
	}
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	n, err := io.Copy(w, r)
	if err != nil {
		if closeErr := w.Close(); closeErr != nil {
			s.logger.Warn("gcs writer close after copy failure", zap.String("object", object), zap.Error(closeErr))
		}
		return "", fmt.Errorf("copy object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", object, err)
	}
	s.logger.Debug("page archived", zap.String("bucket", s.bucket), zap.String("object", object), zap.Int64("bytes", n))
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}
