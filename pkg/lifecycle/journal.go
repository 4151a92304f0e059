package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Mindburn-Labs/intentd/pkg/canonicalize"
	"github.com/Mindburn-Labs/intentd/pkg/ids"
	"github.com/Mindburn-Labs/intentd/pkg/intent"
	"github.com/Mindburn-Labs/intentd/pkg/store"
)

// journalIntent appends one intent-kind artifact. Journal writes never fail a
// request that already persisted its row; failures are logged and dropped.
func (c *Controller) journalIntent(ctx context.Context, rec store.IntentRecord, intentType, status string, body map[string]any) {
	artifact := map[string]any{
		"intent_id":          rec.IntentID,
		"correlation_id":     rec.CorrelationID,
		"server_received_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range body {
		artifact[k] = v
	}
	raw, err := json.Marshal(artifact)
	if err != nil {
		c.Log.WarnContext(ctx, "artifact marshal failed", "intent_id", rec.IntentID, "error", err)
		return
	}
	if _, err := c.Store.AppendArtifact(ctx, store.ArtifactRecord{
		IntentID:        rec.IntentID,
		CorrelationID:   rec.CorrelationID,
		Kind:            "intent",
		IntentType:      intentType,
		Status:          status,
		IdempotencyKey:  rec.IdempotencyKey,
		ArtifactVersion: c.ArtifactVersion,
		Artifact:        raw,
	}); err != nil {
		c.Log.WarnContext(ctx, "artifact append failed",
			"intent_id", rec.IntentID, "status", status, "error", err)
	}
}

// IngestAction accepts a pre-normalised action packet: journal it verbatim
// and acknowledge. No intent row is created and nothing is dispatched.
func (c *Controller) IngestAction(ctx context.Context, raw []byte, packet map[string]any, actorID string) (intent.Envelope, error) {
	key, _ := canonicalize.IdempotencyKey(raw)
	intentID := stringOr(packet["intent_id"], ids.NewIntentID())
	correlationID := stringOr(packet["correlation_id"], ids.NewCorrelationID())
	action, _ := packet["action"].(string)

	enriched := clonePacket(packet)
	enriched["intent_id"] = intentID
	enriched["correlation_id"] = correlationID
	rawPacket, err := json.Marshal(enriched)
	if err != nil {
		return intent.Envelope{}, dbUnavailable(err)
	}

	artifact := map[string]any{
		"packet":             json.RawMessage(rawPacket),
		"intent_id":          intentID,
		"correlation_id":     correlationID,
		"server_received_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	artifactJSON, err := json.Marshal(artifact)
	if err != nil {
		return intent.Envelope{}, dbUnavailable(err)
	}
	if _, err := c.Store.AppendArtifact(ctx, store.ArtifactRecord{
		IntentID:        intentID,
		CorrelationID:   correlationID,
		Kind:            "action",
		Action:          action,
		Status:          intent.StatusReceived,
		IdempotencyKey:  key,
		ArtifactVersion: c.ArtifactVersion,
		Artifact:        artifactJSON,
	}); err != nil {
		return intent.Envelope{}, dbUnavailable(err)
	}

	return intent.Envelope{
		Status:         intent.StatusAccepted,
		IntentID:       intentID,
		CorrelationID:  correlationID,
		IdempotencyKey: key,
		ReceiptID:      ids.NewReceiptID(),
	}, nil
}

// Sweep expires every open clarification older than the configured expiry and
// cascades the expiry onto the waiting intents, journaling each one.
func (c *Controller) Sweep(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().Add(-c.ClarificationExpiry)
	expired, err := c.Store.ExpireOpenClarifications(ctx, cutoff, "", "")
	if err != nil {
		return nil, dbUnavailable(err)
	}
	for _, intentID := range expired {
		rec, err := c.Store.GetIntent(ctx, intentID)
		if err != nil {
			continue
		}
		c.journalIntent(ctx, rec, "", intent.StatusExpired, map[string]any{
			"reason": "clarification expired",
		})
	}
	if len(expired) > 0 {
		c.Log.InfoContext(ctx, "expiry sweep", "expired_intents", len(expired))
	}
	return expired, nil
}
