package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// IntentRecord is one row of the intents table.
type IntentRecord struct {
	IntentID         string
	Status           string
	IdempotencyKey   string
	ActorID          string
	RawPacket        json.RawMessage
	CanonicalDraft   json.RawMessage
	FinalCanonical   json.RawMessage
	CorrelationID    string
	TraceID          string
	ResponseEnvelope json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const intentColumns = `intent_id, created_at, updated_at, status, idempotency_key, actor_id,
	raw_packet, canonical_draft, final_canonical, correlation_id, trace_id, response_envelope`

func scanIntent(row interface{ Scan(...any) error }) (IntentRecord, error) {
	var (
		rec                            IntentRecord
		createdAt, updatedAt           scanTime
		actor, trace                   sql.NullString
		draft, final, envelope, rawPkt sql.NullString
	)
	err := row.Scan(&rec.IntentID, &createdAt, &updatedAt, &rec.Status, &rec.IdempotencyKey,
		&actor, &rawPkt, &draft, &final, &rec.CorrelationID, &trace, &envelope)
	if err != nil {
		return IntentRecord{}, err
	}
	rec.CreatedAt = createdAt.t
	rec.UpdatedAt = updatedAt.t
	rec.ActorID = scanNullString(actor)
	rec.TraceID = scanNullString(trace)
	rec.RawPacket = scanNullJSON(rawPkt)
	rec.CanonicalDraft = scanNullJSON(draft)
	rec.FinalCanonical = scanNullJSON(final)
	rec.ResponseEnvelope = scanNullJSON(envelope)
	return rec, nil
}

// UpsertIntent inserts the record keyed by idempotency_key; when the key is
// already taken, the existing row wins and is returned with created=false.
// Actor and trace ids are backfilled onto an existing row when it lacks them.
func (s *Store) UpsertIntent(ctx context.Context, rec IntentRecord) (IntentRecord, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return IntentRecord{}, false, err
	}
	defer tx.Rollback()

	now := nowUTC()
	res, err := tx.ExecContext(ctx, `INSERT INTO intents
		(intent_id, created_at, updated_at, status, idempotency_key, actor_id,
		 raw_packet, canonical_draft, final_canonical, correlation_id, trace_id, response_envelope)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		rec.IntentID, fmtTime(now), fmtTime(now), rec.Status, rec.IdempotencyKey, nullString(rec.ActorID),
		string(rec.RawPacket), nullBytes(rec.CanonicalDraft), nullBytes(rec.FinalCanonical),
		rec.CorrelationID, nullString(rec.TraceID), nullBytes(rec.ResponseEnvelope))
	if err != nil {
		return IntentRecord{}, false, fmt.Errorf("store: upsert intent: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return IntentRecord{}, false, err
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM intents WHERE idempotency_key = $1`, rec.IdempotencyKey)
	existing, err := scanIntent(row)
	if err != nil {
		return IntentRecord{}, false, fmt.Errorf("store: upsert read-back: %w", err)
	}

	if inserted == 0 {
		if rec.ActorID != "" && existing.ActorID == "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE intents SET actor_id = $1, updated_at = $2 WHERE intent_id = $3`,
				rec.ActorID, fmtTime(nowUTC()), existing.IntentID); err != nil {
				return IntentRecord{}, false, err
			}
			existing.ActorID = rec.ActorID
		}
		if rec.TraceID != "" && existing.TraceID == "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE intents SET trace_id = $1, updated_at = $2 WHERE intent_id = $3`,
				rec.TraceID, fmtTime(nowUTC()), existing.IntentID); err != nil {
				return IntentRecord{}, false, err
			}
			existing.TraceID = rec.TraceID
		}
	}

	if err := tx.Commit(); err != nil {
		return IntentRecord{}, false, err
	}
	return existing, inserted == 1, nil
}

// IntentUpdate carries the mutable columns; nil fields are left untouched.
type IntentUpdate struct {
	Status           *string
	CanonicalDraft   json.RawMessage
	FinalCanonical   json.RawMessage
	CorrelationID    *string
	ActorID          *string
	TraceID          *string
	ResponseEnvelope json.RawMessage
}

// UpdateIntent applies the update and returns the fresh row.
func (s *Store) UpdateIntent(ctx context.Context, intentID string, upd IntentUpdate) (IntentRecord, error) {
	sets := []string{"updated_at = $1"}
	args := []any{fmtTime(nowUTC())}
	next := 2

	add := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, next))
		args = append(args, val)
		next++
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.CanonicalDraft != nil {
		add("canonical_draft", string(upd.CanonicalDraft))
	}
	if upd.FinalCanonical != nil {
		add("final_canonical", string(upd.FinalCanonical))
	}
	if upd.CorrelationID != nil {
		add("correlation_id", *upd.CorrelationID)
	}
	if upd.ActorID != nil {
		add("actor_id", *upd.ActorID)
	}
	if upd.TraceID != nil {
		add("trace_id", *upd.TraceID)
	}
	if upd.ResponseEnvelope != nil {
		add("response_envelope", string(upd.ResponseEnvelope))
	}

	query := fmt.Sprintf("UPDATE intents SET %s WHERE intent_id = $%d", strings.Join(sets, ", "), next)
	args = append(args, intentID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return IntentRecord{}, fmt.Errorf("store: update intent: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return IntentRecord{}, ErrNotFound
	}
	return s.GetIntent(ctx, intentID)
}

// GetIntent fetches one intent by id.
func (s *Store) GetIntent(ctx context.Context, intentID string) (IntentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM intents WHERE intent_id = $1`, intentID)
	rec, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return IntentRecord{}, ErrNotFound
	}
	return rec, err
}
