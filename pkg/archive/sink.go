// Package archive exports intent journals as content-addressed bundles.
// Bundles land in a sink keyed by the SHA-256 of their canonical JSON, so
// re-exporting an unchanged journal is a no-op.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Sink is content-addressed blob storage for export bundles.
type Sink interface {
	// Put persists data and returns its content hash.
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by its content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists reports whether a bundle with this hash is already stored.
	Exists(ctx context.Context, hash string) (bool, error)
	// Delete removes a bundle by its content hash.
	Delete(ctx context.Context, hash string) error
}

// hashKey splits a "sha256:<hex>" reference into its raw hex form.
func hashKey(hash string) (string, error) {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return "", fmt.Errorf("archive: invalid hash format: %s", hash)
	}
	raw := hash[7:]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("archive: invalid hash hex: %w", err)
	}
	return raw, nil
}

func contentHash(data []byte) (string, string) {
	sum := sha256.Sum256(data)
	raw := hex.EncodeToString(sum[:])
	return raw, "sha256:" + raw
}

// FileSink stores bundles under a directory, one file per hash.
type FileSink struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileSink ensures the directory exists and returns a sink over it.
func NewFileSink(baseDir string) (*FileSink, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: ensure export dir: %w", err)
	}
	return &FileSink{baseDir: baseDir}, nil
}

func (s *FileSink) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, prefixed := contentHash(data)
	path := filepath.Join(s.baseDir, raw+".json")
	if _, err := os.Stat(path); err == nil {
		return prefixed, nil
	}

	// Write to temp, then rename.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("archive: write bundle: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("archive: commit bundle: %w", err)
	}
	return prefixed, nil
}

func (s *FileSink) Get(_ context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := hashKey(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.baseDir, raw+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive: bundle not found: %s", hash)
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *FileSink) Exists(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := hashKey(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.baseDir, raw+".json"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FileSink) Delete(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := hashKey(hash)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.baseDir, raw+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: delete bundle: %w", err)
	}
	return nil
}
