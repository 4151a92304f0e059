package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/intentd/pkg/canonicalize"
	"github.com/Mindburn-Labs/intentd/pkg/intent"
	"github.com/Mindburn-Labs/intentd/pkg/normalize"
	"github.com/Mindburn-Labs/intentd/pkg/store"
)

var errNotFound = &StatusError{
	HTTPStatus: http.StatusNotFound,
	Code:       intent.CodeValidationError,
	Message:    "Clarification not found",
}

func conflictError(code, message string) *StatusError {
	return &StatusError{HTTPStatus: http.StatusConflict, Code: code, Message: message}
}

// AnswerClarification resolves an open clarification round and resumes
// normalisation. Re-answering with a byte-equal payload replays the original
// outcome; any other payload after the round closed is a conflict.
func (c *Controller) AnswerClarification(ctx context.Context, clarificationID string, ans intent.AnswerRequest, actorID string) (intent.Envelope, error) {
	clar, err := c.Store.GetClarification(ctx, clarificationID)
	if errors.Is(err, store.ErrNotFound) {
		return intent.Envelope{}, errNotFound
	}
	if err != nil {
		return intent.Envelope{}, dbUnavailable(err)
	}
	// Clarifications are scoped to the actor they were asked of.
	if clar.ActorID != "" && actorID != "" && clar.ActorID != actorID {
		return intent.Envelope{}, errNotFound
	}

	answerJSON, err := json.Marshal(ans)
	if err != nil {
		return intent.Envelope{}, dbUnavailable(err)
	}

	switch clar.Status {
	case intent.ClarificationExpired:
		return intent.Envelope{}, conflictError(intent.CodeClarificationExpired, "Clarification expired")
	case intent.ClarificationAnswered:
		return c.replayAnswer(ctx, clar, answerJSON)
	}

	// Expiry is enforced at answer time too, not only by the sweeper.
	if c.ClarificationExpiry > 0 && clar.CreatedAt.Before(time.Now().UTC().Add(-c.ClarificationExpiry)) {
		if _, err := c.Store.ExpireOpenClarifications(ctx, time.Now().UTC(), clar.IntentID, ""); err == nil {
			if rec, err := c.Store.GetIntent(ctx, clar.IntentID); err == nil {
				c.journalIntent(ctx, rec, "", intent.StatusExpired, map[string]any{
					"clarification_id": clar.ClarificationID,
					"reason":           "clarification expired",
				})
			}
		}
		return intent.Envelope{}, conflictError(intent.CodeClarificationExpired, "Clarification expired")
	}

	answered, err := c.Store.AnswerClarification(ctx, clarificationID, answerJSON)
	if errors.Is(err, store.ErrNotFound) {
		// Lost a race with a concurrent answer or the sweeper.
		fresh, ferr := c.Store.GetClarification(ctx, clarificationID)
		if ferr != nil {
			return intent.Envelope{}, errNotFound
		}
		if fresh.Status == intent.ClarificationExpired {
			return intent.Envelope{}, conflictError(intent.CodeClarificationExpired, "Clarification expired")
		}
		return c.replayAnswer(ctx, fresh, answerJSON)
	}
	if err != nil {
		return intent.Envelope{}, dbUnavailable(err)
	}

	rec, err := c.Store.GetIntent(ctx, clar.IntentID)
	if err != nil {
		return intent.Envelope{}, dbUnavailable(err)
	}

	c.journalIntent(ctx, rec, "", "clarification_answered", map[string]any{
		"clarification_id": answered.ClarificationID,
		"answer":           json.RawMessage(answerJSON),
	})

	var draft map[string]any
	if len(rec.CanonicalDraft) > 0 {
		if err := json.Unmarshal(rec.CanonicalDraft, &draft); err != nil {
			draft = nil
		}
	}
	draft = normalize.ApplyAnswer(draft, ans)
	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return intent.Envelope{}, dbUnavailable(err)
	}
	rec, err = c.Store.UpdateIntent(ctx, rec.IntentID, store.IntentUpdate{CanonicalDraft: draftJSON})
	if err != nil {
		return intent.Envelope{}, dbUnavailable(err)
	}

	packet := normalize.DraftPacket(draft)
	intentType, _ := packet["intent_type"].(string)
	result := c.Normalizer.Normalize(ctx, packet)
	return c.transition(ctx, rec, intentType, result)
}

// replayAnswer handles a POST against an already-answered round: byte-equal
// payloads get the recorded outcome, anything else conflicts.
func (c *Controller) replayAnswer(ctx context.Context, clar store.ClarificationRecord, answerJSON []byte) (intent.Envelope, error) {
	stored, err := canonicalize.Transform(clar.Answer)
	if err != nil {
		return intent.Envelope{}, conflictError(intent.CodeValidationError, "Clarification already answered")
	}
	submitted, err := canonicalize.Transform(answerJSON)
	if err != nil || !bytes.Equal(stored, submitted) {
		return intent.Envelope{}, conflictError(intent.CodeValidationError, "Clarification already answered")
	}
	rec, err := c.Store.GetIntent(ctx, clar.IntentID)
	if err != nil {
		return intent.Envelope{}, dbUnavailable(err)
	}
	if env, ok := c.cachedEnvelope(rec); ok {
		return env, nil
	}
	return c.reconstructEnvelope(ctx, rec)
}
