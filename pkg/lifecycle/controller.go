// Package lifecycle drives the intent state machine: idempotent intake,
// normalisation, clarification rounds, execution and the journal trail.
// Persist-first: nothing is normalised before the packet is on disk.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/intentd/pkg/canonicalize"
	"github.com/Mindburn-Labs/intentd/pkg/executor"
	"github.com/Mindburn-Labs/intentd/pkg/ids"
	"github.com/Mindburn-Labs/intentd/pkg/intent"
	"github.com/Mindburn-Labs/intentd/pkg/normalize"
	"github.com/Mindburn-Labs/intentd/pkg/policy"
	"github.com/Mindburn-Labs/intentd/pkg/store"
)

// StatusError maps a controller failure onto an HTTP status and the error
// body shape the edge emits.
type StatusError struct {
	HTTPStatus int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func dbUnavailable(err error) *StatusError {
	return &StatusError{
		HTTPStatus: http.StatusServiceUnavailable,
		Code:       intent.CodeDBUnavailable,
		Message:    "Database unavailable",
		Details:    map[string]any{"cause": err.Error()},
	}
}

// Controller owns every intent state transition.
type Controller struct {
	Store               *store.Store
	Normalizer          *normalize.Normalizer
	Guard               *policy.Guard
	Exec                *executor.Executor
	Log                 *slog.Logger
	ExecuteActions      bool
	ClarificationExpiry time.Duration
	ArtifactVersion     int
}

// New wires a Controller with sane defaults.
func New(st *store.Store, nm *normalize.Normalizer, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		Store:               st,
		Normalizer:          nm,
		Log:                 log,
		ClarificationExpiry: 72 * time.Hour,
		ArtifactVersion:     1,
	}
}

// IngestIntent runs the full intake path for a schema-valid intent packet.
// raw is the body exactly as received; the idempotency key is derived from it
// before any id injection.
func (c *Controller) IngestIntent(ctx context.Context, raw []byte, packet map[string]any, actorID string) (intent.Envelope, error) {
	key, err := canonicalize.IdempotencyKey(raw)
	if err != nil {
		return intent.Envelope{}, &StatusError{
			HTTPStatus: http.StatusBadRequest,
			Code:       intent.CodeBadJSON,
			Message:    "body is not canonicalizable JSON",
		}
	}

	intentID := stringOr(packet["intent_id"], ids.NewIntentID())
	correlationID := stringOr(packet["correlation_id"], ids.NewCorrelationID())
	traceID := stringOr(packet["trace_id"], ids.NewTraceID())
	if actorID == "" {
		actorID = stringOr(packet["actor_id"], "")
	}

	enriched := clonePacket(packet)
	enriched["intent_id"] = intentID
	enriched["correlation_id"] = correlationID
	enriched["trace_id"] = traceID
	rawPacket, err := json.Marshal(enriched)
	if err != nil {
		return intent.Envelope{}, &StatusError{
			HTTPStatus: http.StatusBadRequest,
			Code:       intent.CodeBadJSON,
			Message:    "packet cannot be re-serialized",
		}
	}

	rec, created, err := c.Store.UpsertIntent(ctx, store.IntentRecord{
		IntentID:       intentID,
		Status:         intent.StatusReceived,
		IdempotencyKey: key,
		ActorID:        actorID,
		RawPacket:      rawPacket,
		CorrelationID:  correlationID,
		TraceID:        traceID,
	})
	if err != nil {
		return intent.Envelope{}, dbUnavailable(err)
	}

	intentType, _ := packet["intent_type"].(string)
	c.journalIntent(ctx, rec, intentType, intent.StatusReceived, map[string]any{
		"packet": json.RawMessage(rawPacket),
	})

	if !created {
		c.Log.InfoContext(ctx, "idempotent replay",
			"intent_id", rec.IntentID, "idempotency_key", key, "status", rec.Status)
		if env, ok := c.cachedEnvelope(rec); ok {
			return env, nil
		}
		if rec.Status != intent.StatusReceived {
			return c.reconstructEnvelope(ctx, rec)
		}
		// First attempt died between persist and respond; resume it.
	}

	confidence, _ := packet["confidence"].(float64)
	source, _ := packet["source"].(string)
	fields, _ := packet["fields"].(map[string]any)
	if !c.Guard.Admit(policy.Input{
		IntentType: intentType,
		Confidence: confidence,
		ActorID:    actorID,
		Source:     source,
		Fields:     fields,
	}) {
		env := c.baseEnvelope(rec)
		env.Status = intent.StatusRejected
		env.ErrorCode = intent.CodePolicyDenied
		env.Message = "Intent denied by admission policy"
		c.journalIntent(ctx, rec, intentType, intent.StatusRejected, map[string]any{
			"error_code": intent.CodePolicyDenied,
		})
		c.setStatus(ctx, rec.IntentID, intent.StatusFailed)
		return c.cacheEnvelope(ctx, rec.IntentID, env), nil
	}

	result := c.Normalizer.Normalize(ctx, enriched)
	return c.transition(ctx, rec, intentType, result)
}

// transition applies a normalisation result to the intent row, journals it,
// executes ready plans when configured, and returns the response envelope.
// Shared by the ingest and answer paths.
func (c *Controller) transition(ctx context.Context, rec store.IntentRecord, intentType string, res normalize.Result) (intent.Envelope, error) {
	env := c.baseEnvelope(rec)

	switch res.Status {
	case intent.StatusRejected:
		env.Status = intent.StatusRejected
		env.ErrorCode = res.ErrorCode
		env.Message = res.Message
		env.Details = res.Details
		c.journalIntent(ctx, rec, intentType, intent.StatusRejected, map[string]any{
			"error_code": res.ErrorCode,
			"message":    res.Message,
			"details":    res.Details,
		})
		c.setStatus(ctx, rec.IntentID, intent.StatusFailed)
		return c.cacheEnvelope(ctx, rec.IntentID, env), nil

	case intent.StatusNeedsClarification:
		draftJSON, err := json.Marshal(res.CanonicalDraft)
		if err != nil {
			return intent.Envelope{}, dbUnavailable(err)
		}
		candidatesJSON, err := json.Marshal(res.Clarification.Candidates)
		if err != nil {
			return intent.Envelope{}, dbUnavailable(err)
		}
		clar, err := c.Store.CreateClarification(ctx, store.ClarificationRecord{
			IntentID:           rec.IntentID,
			Status:             intent.ClarificationOpen,
			Question:           res.Clarification.Question,
			ExpectedAnswerType: res.Clarification.ExpectedAnswerType,
			Candidates:         candidatesJSON,
			ActorID:            rec.ActorID,
		})
		if err != nil {
			return intent.Envelope{}, dbUnavailable(err)
		}
		status := intent.StatusNeedsClarification
		if _, err := c.Store.UpdateIntent(ctx, rec.IntentID, store.IntentUpdate{
			Status:         &status,
			CanonicalDraft: draftJSON,
		}); err != nil {
			return intent.Envelope{}, dbUnavailable(err)
		}
		env.Status = intent.StatusNeedsClarification
		env.Clarification = &intent.Clarification{
			ClarificationID:    clar.ClarificationID,
			IntentID:           rec.IntentID,
			Question:           clar.Question,
			ExpectedAnswerType: clar.ExpectedAnswerType,
			Candidates:         res.Clarification.Candidates,
			Status:             intent.ClarificationOpen,
		}
		c.journalIntent(ctx, rec, intentType, intent.StatusNeedsClarification, map[string]any{
			"canonical_draft":  json.RawMessage(draftJSON),
			"clarification_id": clar.ClarificationID,
			"question":         clar.Question,
		})
		return c.cacheEnvelope(ctx, rec.IntentID, env), nil

	case intent.StatusReady:
		if err := stampActionKeys(res.Plan); err != nil {
			return intent.Envelope{}, dbUnavailable(err)
		}
		finalJSON, err := json.Marshal(res.FinalCanonical)
		if err != nil {
			return intent.Envelope{}, dbUnavailable(err)
		}
		status := intent.StatusReady
		if _, err := c.Store.UpdateIntent(ctx, rec.IntentID, store.IntentUpdate{
			Status:         &status,
			CanonicalDraft: finalJSON,
			FinalCanonical: finalJSON,
		}); err != nil {
			return intent.Envelope{}, dbUnavailable(err)
		}
		env.Status = intent.StatusReady
		env.Plan = res.Plan
		c.journalIntent(ctx, rec, intentType, intent.StatusReady, map[string]any{
			"final_canonical": json.RawMessage(finalJSON),
			"plan":            res.Plan,
		})

		if c.ExecuteActions {
			env = c.execute(ctx, rec, env, res.Plan)
		}
		return c.cacheEnvelope(ctx, rec.IntentID, env), nil
	}

	return intent.Envelope{}, &StatusError{
		HTTPStatus: http.StatusInternalServerError,
		Code:       intent.CodeValidationError,
		Message:    fmt.Sprintf("unexpected normalisation status %q", res.Status),
	}
}

// execute runs the plan through the gateway and folds the outcome into the
// envelope and the intent row.
func (c *Controller) execute(ctx context.Context, rec store.IntentRecord, env intent.Envelope, plan *intent.Plan) intent.Envelope {
	if c.Exec == nil {
		env.Status = intent.StatusFailed
		env.Error = &intent.ErrorDetail{
			Code:    intent.CodeExecutionNotConfigured,
			Message: "Action execution requested but no gateway is configured",
		}
		c.setStatus(ctx, rec.IntentID, intent.StatusFailed)
		return env
	}

	outcome := c.Exec.Execute(ctx, executor.Request{
		IntentID:      rec.IntentID,
		CorrelationID: rec.CorrelationID,
		TraceID:       rec.TraceID,
		ActorID:       rec.ActorID,
		RequestID:     requestIDFromPacket(rec.RawPacket),
		Plan:          plan,
	})
	if outcome.Succeeded {
		env.Status = intent.StatusExecuted
		env.Details = outcome.Details
		c.setStatus(ctx, rec.IntentID, intent.StatusExecuted)
	} else {
		env.Status = intent.StatusFailed
		env.Error = outcome.Error
		c.setStatus(ctx, rec.IntentID, intent.StatusFailed)
	}
	return env
}

// reconstructEnvelope rebuilds a reply for a replayed intent whose cached
// envelope is missing, from the persisted state alone.
func (c *Controller) reconstructEnvelope(ctx context.Context, rec store.IntentRecord) (intent.Envelope, error) {
	env := c.baseEnvelope(rec)
	env.Status = rec.Status

	switch rec.Status {
	case intent.StatusNeedsClarification:
		clar, err := c.Store.OpenClarificationForIntent(ctx, rec.IntentID, "", nil)
		if err == nil {
			env.Clarification = clarificationFromRecord(clar)
		}
	case intent.StatusExpired:
		env.Status = intent.StatusRejected
		env.ErrorCode = intent.CodeClarificationExpired
		env.Message = "Clarification expired before an answer arrived"
	case intent.StatusReady, intent.StatusExecuted, intent.StatusFailed:
		var final map[string]any
		if err := json.Unmarshal(rec.FinalCanonical, &final); err == nil {
			if plan := normalize.PlanFromCanonical(final); plan != nil {
				if err := stampActionKeys(plan); err == nil {
					env.Plan = plan
				}
			}
		}
		if rec.Status != intent.StatusReady {
			c.attachActionOutcome(ctx, rec, &env)
		}
	}
	return c.cacheEnvelope(ctx, rec.IntentID, env), nil
}

// attachActionOutcome folds the latest journaled action artifact into a
// reconstructed envelope for executed and failed intents.
func (c *Controller) attachActionOutcome(ctx context.Context, rec store.IntentRecord, env *intent.Envelope) {
	art, err := c.Store.LatestArtifact(ctx, rec.IntentID, "action", "")
	if err != nil {
		return
	}
	var body struct {
		RequestEnvelope struct {
			RequestID string `json:"request_id"`
		} `json:"request_envelope"`
		StatusCode   int            `json:"status_code"`
		ErrorCode    string         `json:"error_code"`
		ResponseBody map[string]any `json:"response_body"`
	}
	if err := json.Unmarshal(art.Artifact, &body); err != nil {
		return
	}
	if rec.Status == intent.StatusExecuted {
		details := map[string]any{"request_id": body.RequestEnvelope.RequestID}
		if taskID := executor.ExtractTaskID(body.ResponseBody); taskID != "" {
			details["notion_task_id"] = taskID
		}
		env.Details = details
		return
	}
	code := body.ErrorCode
	if code == "" {
		code = intent.CodeExecutionFailed
	}
	env.Error = &intent.ErrorDetail{
		Code:    code,
		Message: fmt.Sprintf("Gateway call for %s failed", art.Action),
		Details: map[string]any{"status_code": body.StatusCode},
	}
}

func (c *Controller) baseEnvelope(rec store.IntentRecord) intent.Envelope {
	return intent.Envelope{
		IntentID:       rec.IntentID,
		CorrelationID:  rec.CorrelationID,
		TraceID:        rec.TraceID,
		IdempotencyKey: rec.IdempotencyKey,
		ReceiptID:      ids.NewReceiptID(),
	}
}

// cachedEnvelope returns the verbatim first response for a replay.
func (c *Controller) cachedEnvelope(rec store.IntentRecord) (intent.Envelope, bool) {
	if len(rec.ResponseEnvelope) == 0 {
		return intent.Envelope{}, false
	}
	var env intent.Envelope
	if err := json.Unmarshal(rec.ResponseEnvelope, &env); err != nil {
		return intent.Envelope{}, false
	}
	return env, true
}

// cacheEnvelope persists the envelope on the intent row so replays return the
// exact same reply, receipt id included.
func (c *Controller) cacheEnvelope(ctx context.Context, intentID string, env intent.Envelope) intent.Envelope {
	raw, err := json.Marshal(env)
	if err != nil {
		return env
	}
	if _, err := c.Store.UpdateIntent(ctx, intentID, store.IntentUpdate{ResponseEnvelope: raw}); err != nil {
		c.Log.WarnContext(ctx, "envelope cache write failed", "intent_id", intentID, "error", err)
	}
	return env
}

func (c *Controller) setStatus(ctx context.Context, intentID, status string) {
	if _, err := c.Store.UpdateIntent(ctx, intentID, store.IntentUpdate{Status: &status}); err != nil {
		c.Log.WarnContext(ctx, "status update failed", "intent_id", intentID, "status", status, "error", err)
	}
}

func stampActionKeys(plan *intent.Plan) error {
	if plan == nil {
		return nil
	}
	for i := range plan.Actions {
		key, err := canonicalize.ActionKey(plan.Actions[i].Action, plan.Actions[i].Payload)
		if err != nil {
			return err
		}
		plan.Actions[i].IdempotencyKey = key
	}
	return nil
}

func clarificationFromRecord(rec store.ClarificationRecord) *intent.Clarification {
	out := &intent.Clarification{
		ClarificationID:    rec.ClarificationID,
		IntentID:           rec.IntentID,
		Question:           rec.Question,
		ExpectedAnswerType: rec.ExpectedAnswerType,
		Status:             rec.Status,
		Answer:             rec.Answer,
	}
	if rec.AnsweredAt != nil {
		out.AnsweredAt = rec.AnsweredAt.UTC().Format(time.RFC3339Nano)
	}
	if err := json.Unmarshal(rec.Candidates, &out.Candidates); err != nil {
		out.Candidates = []intent.Candidate{}
	}
	return out
}

func clonePacket(packet map[string]any) map[string]any {
	out := make(map[string]any, len(packet)+3)
	for k, v := range packet {
		out[k] = v
	}
	return out
}

// requestIDFromPacket recovers the caller-supplied request_id from the
// persisted packet so gateway calls carry it end to end.
func requestIDFromPacket(raw json.RawMessage) string {
	var packet struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(raw, &packet); err != nil {
		return ""
	}
	return packet.RequestID
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
