// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 fingerprints for idempotency keys and journal
// artifact hashes.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Transform returns the RFC 8785 canonical form of a raw JSON document:
// keys sorted lexicographically at every level, no insignificant whitespace,
// UTF-8 preserved, numbers in shortest round-trip form.
func Transform(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: transform failed: %w", err)
	}
	return out, nil
}

// Canonical marshals v and returns its canonical JSON form. Struct json tags
// are respected; ordering and formatting are normalized afterwards.
func Canonical(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
	}
	return Transform(intermediate)
}

// HashBytes computes the SHA-256 hash of raw bytes and returns the hex string.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON of v.
func CanonicalHash(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// IdempotencyKey derives the idempotency key for a raw request body. The key
// is stable under key reordering and whitespace changes in the input, and is
// computed before any server-side field injection.
func IdempotencyKey(raw []byte) (string, error) {
	canonical, err := Transform(raw)
	if err != nil {
		return "", err
	}
	return HashBytes(canonical), nil
}

// ActionKey derives the per-action idempotency key for a plan action.
func ActionKey(action string, payload any) (string, error) {
	h, err := CanonicalHash(map[string]any{
		"action":  action,
		"payload": payload,
	})
	if err != nil {
		return "", err
	}
	return "action:" + h, nil
}
