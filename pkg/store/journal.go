package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/intentd/pkg/canonicalize"
)

// ErrHashMismatch is returned when an artifact's declared hash does not match
// its canonical content.
var ErrHashMismatch = errors.New("store: artifact hash mismatch")

// ArtifactRecord is one row of the append-only journal.
type ArtifactRecord struct {
	ID                 string
	IntentID           string
	CorrelationID      string
	SupersedesIntentID string
	Kind               string
	IntentType         string
	Action             string
	Status             string
	IdempotencyKey     string
	ArtifactVersion    int
	ArtifactHash       string
	Artifact           json.RawMessage
	ReceivedAt         time.Time
}

const artifactColumns = `id, intent_id, correlation_id, supersedes_intent_id, received_at, kind,
	intent_type, action, status, idempotency_key, artifact_version, artifact_hash, artifact`

func scanArtifact(row interface{ Scan(...any) error }) (ArtifactRecord, error) {
	var (
		rec                                ArtifactRecord
		receivedAt                         scanTime
		supersedes, itype, action, idemKey sql.NullString
		artifact                           sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.IntentID, &rec.CorrelationID, &supersedes, &receivedAt,
		&rec.Kind, &itype, &action, &rec.Status, &idemKey, &rec.ArtifactVersion,
		&rec.ArtifactHash, &artifact)
	if err != nil {
		return ArtifactRecord{}, err
	}
	rec.ReceivedAt = receivedAt.t
	rec.SupersedesIntentID = scanNullString(supersedes)
	rec.IntentType = scanNullString(itype)
	rec.Action = scanNullString(action)
	rec.IdempotencyKey = scanNullString(idemKey)
	rec.Artifact = scanNullJSON(artifact)
	return rec, nil
}

// AppendArtifact inserts one journal row. The declared ArtifactHash (or, when
// empty, a freshly computed one) must equal the hash of the canonical JSON of
// the artifact body; a mismatch is refused before touching the table.
func (s *Store) AppendArtifact(ctx context.Context, rec ArtifactRecord) (ArtifactRecord, error) {
	canonical, err := canonicalize.Transform(rec.Artifact)
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("store: artifact not canonicalizable: %w", err)
	}
	computed := canonicalize.HashBytes(canonical)
	if rec.ArtifactHash == "" {
		rec.ArtifactHash = computed
	} else if rec.ArtifactHash != computed {
		return ArtifactRecord{}, ErrHashMismatch
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ArtifactVersion == 0 {
		rec.ArtifactVersion = 1
	}
	rec.ReceivedAt = nowUTC()

	_, err = s.db.ExecContext(ctx, `INSERT INTO intent_artifacts
		(id, intent_id, correlation_id, supersedes_intent_id, received_at, kind,
		 intent_type, action, status, idempotency_key, artifact_version, artifact_hash, artifact)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.IntentID, rec.CorrelationID, nullString(rec.SupersedesIntentID), fmtTime(rec.ReceivedAt),
		rec.Kind, nullString(rec.IntentType), nullString(rec.Action), rec.Status,
		nullString(rec.IdempotencyKey), rec.ArtifactVersion, rec.ArtifactHash, string(rec.Artifact))
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("store: append artifact: %w", err)
	}
	return rec, nil
}

// LatestArtifact returns the newest journal row for an intent, optionally
// filtered by kind and status.
func (s *Store) LatestArtifact(ctx context.Context, intentID, kind, status string) (ArtifactRecord, error) {
	query := `SELECT ` + artifactColumns + ` FROM intent_artifacts WHERE intent_id = $1`
	args := []any{intentID}
	next := 2
	if kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", next)
		args = append(args, kind)
		next++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", next)
		args = append(args, status)
	}
	query += ` ORDER BY received_at DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)
	rec, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ArtifactRecord{}, ErrNotFound
	}
	return rec, err
}

// ListArtifacts returns the full journal for an intent, oldest first.
func (s *Store) ListArtifacts(ctx context.Context, intentID string) ([]ArtifactRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM intent_artifacts WHERE intent_id = $1 ORDER BY received_at ASC, id ASC`,
		intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ArtifactRecord{}
	for rows.Next() {
		rec, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountArtifacts returns the journal length for an intent.
func (s *Store) CountArtifacts(ctx context.Context, intentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM intent_artifacts WHERE intent_id = $1`, intentID).Scan(&n)
	return n, err
}
