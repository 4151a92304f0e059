//go:build gcp

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

func init() {
	newGCSSink = func(ctx context.Context, bucket, prefix string) (Sink, error) {
		return NewGCSSink(ctx, bucket, prefix)
	}
}

// GCSSink stores bundles in a Google Cloud Storage bucket, hash as the key.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink builds a sink using application default credentials.
func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: create gcs client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSSink) key(rawHash string) string {
	return s.prefix + rawHash + ".json"
}

func (s *GCSSink) Put(ctx context.Context, data []byte) (string, error) {
	raw, prefixed := contentHash(data)
	obj := s.client.Bucket(s.bucket).Object(s.key(raw))

	if _, err := obj.Attrs(ctx); err == nil {
		return prefixed, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: gcs close: %w", err)
	}
	return prefixed, nil
}

func (s *GCSSink) Get(ctx context.Context, hash string) ([]byte, error) {
	raw, err := hashKey(hash)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(s.key(raw)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: gcs get %s: %w", hash, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSSink) Exists(ctx context.Context, hash string) (bool, error) {
	raw, err := hashKey(hash)
	if err != nil {
		return false, err
	}
	_, err = s.client.Bucket(s.bucket).Object(s.key(raw)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("archive: gcs attrs: %w", err)
	}
	return true, nil
}

func (s *GCSSink) Delete(ctx context.Context, hash string) error {
	raw, err := hashKey(hash)
	if err != nil {
		return err
	}
	err = s.client.Bucket(s.bucket).Object(s.key(raw)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("archive: gcs delete %s: %w", hash, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}
