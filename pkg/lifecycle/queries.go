package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/intentd/pkg/intent"
	"github.com/Mindburn-Labs/intentd/pkg/store"
)

// IntentView is the read model served by GET /v1/intents/{id}.
type IntentView struct {
	IntentID       string          `json:"intent_id"`
	Status         string          `json:"status"`
	CorrelationID  string          `json:"correlation_id"`
	TraceID        string          `json:"trace_id,omitempty"`
	ActorID        string          `json:"actor_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	CanonicalDraft json.RawMessage `json:"canonical_draft,omitempty"`
	FinalCanonical json.RawMessage `json:"final_canonical,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
	JournalLength  int             `json:"journal_length"`
}

// GetIntent returns the read model for one intent. A caller with an actor id
// only sees intents owned by that actor; a mismatch reads as not found.
func (c *Controller) GetIntent(ctx context.Context, intentID, actorID string) (IntentView, error) {
	notFound := &StatusError{
		HTTPStatus: http.StatusNotFound,
		Code:       intent.CodeValidationError,
		Message:    "Intent not found",
	}
	rec, err := c.Store.GetIntent(ctx, intentID)
	if errors.Is(err, store.ErrNotFound) {
		return IntentView{}, notFound
	}
	if err != nil {
		return IntentView{}, dbUnavailable(err)
	}
	if rec.ActorID != "" && actorID != "" && rec.ActorID != actorID {
		return IntentView{}, notFound
	}
	count, err := c.Store.CountArtifacts(ctx, intentID)
	if err != nil {
		return IntentView{}, dbUnavailable(err)
	}
	return IntentView{
		IntentID:       rec.IntentID,
		Status:         rec.Status,
		CorrelationID:  rec.CorrelationID,
		TraceID:        rec.TraceID,
		ActorID:        rec.ActorID,
		IdempotencyKey: rec.IdempotencyKey,
		CanonicalDraft: rec.CanonicalDraft,
		FinalCanonical: rec.FinalCanonical,
		CreatedAt:      rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		JournalLength:  count,
	}, nil
}

// ListClarifications returns the actor's open rounds, sweeping expiries first
// so a stale round never shows up as answerable.
func (c *Controller) ListClarifications(ctx context.Context, actorID string) ([]intent.Clarification, error) {
	var cutoff *time.Time
	if c.ClarificationExpiry > 0 {
		t := time.Now().UTC().Add(-c.ClarificationExpiry)
		cutoff = &t
	}
	recs, err := c.Store.ListOpenClarifications(ctx, actorID, cutoff)
	if err != nil {
		return nil, dbUnavailable(err)
	}
	out := make([]intent.Clarification, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *clarificationFromRecord(rec))
	}
	return out, nil
}

// Health checks the datastore.
func (c *Controller) Health(ctx context.Context) error {
	if err := c.Store.Check(ctx); err != nil {
		return dbUnavailable(err)
	}
	return nil
}
