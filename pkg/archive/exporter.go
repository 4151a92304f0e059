package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/intentd/pkg/canonicalize"
	"github.com/Mindburn-Labs/intentd/pkg/store"
)

// ErrBundleIntegrity is returned when a journal row fails hash verification
// during export.
var ErrBundleIntegrity = errors.New("archive: journal hash verification failed")

// BundleVersion is bumped when the bundle layout changes.
const BundleVersion = 1

// Receipt describes one completed export.
type Receipt struct {
	IntentID      string `json:"intent_id"`
	BundleHash    string `json:"bundle_hash"`
	ArtifactCount int    `json:"artifact_count"`
	ExportedAt    string `json:"exported_at"`
}

// Exporter snapshots an intent's journal into a single canonical bundle and
// pushes it to a sink. The bundle hash is deterministic for an unchanged
// journal, so repeated exports dedupe in content-addressed storage.
type Exporter struct {
	Store *store.Store
	Sink  Sink
	Log   *slog.Logger
}

// NewExporter wires an exporter over the given store and sink.
func NewExporter(st *store.Store, sink Sink, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{Store: st, Sink: sink, Log: log}
}

// Export bundles every journal row for the intent, verifying each row's hash
// against its canonical content on the way out.
func (e *Exporter) Export(ctx context.Context, intentID string) (Receipt, error) {
	rec, err := e.Store.GetIntent(ctx, intentID)
	if err != nil {
		return Receipt{}, fmt.Errorf("archive: load intent: %w", err)
	}
	artifacts, err := e.Store.ListArtifacts(ctx, intentID)
	if err != nil {
		return Receipt{}, fmt.Errorf("archive: list journal: %w", err)
	}

	entries := make([]map[string]any, 0, len(artifacts))
	for _, a := range artifacts {
		canonical, err := canonicalize.Transform(a.Artifact)
		if err != nil {
			return Receipt{}, fmt.Errorf("archive: canonicalize artifact %s: %w", a.ID, err)
		}
		if canonicalize.HashBytes(canonical) != a.ArtifactHash {
			return Receipt{}, fmt.Errorf("%w: artifact %s", ErrBundleIntegrity, a.ID)
		}
		entry := map[string]any{
			"id":               a.ID,
			"kind":             a.Kind,
			"status":           a.Status,
			"artifact_version": a.ArtifactVersion,
			"artifact_hash":    a.ArtifactHash,
			"artifact":         json.RawMessage(canonical),
			"received_at":      a.ReceivedAt.UTC().Format(time.RFC3339Nano),
		}
		if a.IntentType != "" {
			entry["intent_type"] = a.IntentType
		}
		if a.Action != "" {
			entry["action"] = a.Action
		}
		if a.IdempotencyKey != "" {
			entry["idempotency_key"] = a.IdempotencyKey
		}
		entries = append(entries, entry)
	}

	bundle := map[string]any{
		"bundle_version":  BundleVersion,
		"intent_id":       rec.IntentID,
		"correlation_id":  rec.CorrelationID,
		"status":          rec.Status,
		"idempotency_key": rec.IdempotencyKey,
		"artifacts":       entries,
	}
	data, err := canonicalize.Canonical(bundle)
	if err != nil {
		return Receipt{}, fmt.Errorf("archive: canonicalize bundle: %w", err)
	}

	hash, err := e.Sink.Put(ctx, data)
	if err != nil {
		return Receipt{}, err
	}
	e.Log.Info("journal exported",
		"intent_id", intentID, "bundle_hash", hash, "artifacts", len(entries))

	return Receipt{
		IntentID:      intentID,
		BundleHash:    hash,
		ArtifactCount: len(entries),
		ExportedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}
