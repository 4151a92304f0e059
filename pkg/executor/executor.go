// Package executor dispatches ready plans to the downstream action gateway
// and journals one action artifact per dispatch.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/intentd/pkg/ids"
	"github.com/Mindburn-Labs/intentd/pkg/intent"
	"github.com/Mindburn-Labs/intentd/pkg/store"
)

// Journal receives the action artifacts the executor emits.
type Journal interface {
	AppendArtifact(ctx context.Context, rec store.ArtifactRecord) (store.ArtifactRecord, error)
}

// PathFunc maps a plan action name to a gateway endpoint path.
type PathFunc func(action string) string

// Executor posts plan actions to the gateway. A nil Executor means execution
// is not configured.
type Executor struct {
	BaseURL         string
	BearerToken     string
	Path            PathFunc
	Client          *http.Client
	Journal         Journal
	ArtifactVersion int
}

// New builds an Executor. baseURL must be non-empty.
func New(baseURL, bearerToken string, path PathFunc, timeout time.Duration, journal Journal) *Executor {
	return &Executor{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		BearerToken:     bearerToken,
		Path:            path,
		Client:          &http.Client{Timeout: timeout},
		Journal:         journal,
		ArtifactVersion: 1,
	}
}

// Request identifies the plan to run and the identifiers to propagate.
type Request struct {
	IntentID      string
	CorrelationID string
	TraceID       string
	ActorID       string
	RequestID     string
	Plan          *intent.Plan
}

// ActionOutcome records one dispatched action.
type ActionOutcome struct {
	Action       string
	RequestID    string
	StatusCode   int
	Success      bool
	NotionTaskID string
	ErrorCode    string
	ResponseBody json.RawMessage
}

// Outcome aggregates a plan run: Succeeded only when every action succeeded.
type Outcome struct {
	Succeeded bool
	Actions   []ActionOutcome
	Details   map[string]any
	Error     *intent.ErrorDetail
}

// Execute dispatches every plan action in order, journaling each result. It
// stops at the first failure.
func (e *Executor) Execute(ctx context.Context, req Request) Outcome {
	out := Outcome{Succeeded: true}
	for _, action := range req.Plan.Actions {
		res := e.dispatch(ctx, req, action)
		out.Actions = append(out.Actions, res)
		e.journal(ctx, req, action, res)
		if !res.Success {
			out.Succeeded = false
			code := res.ErrorCode
			if code == "" {
				code = intent.CodeExecutionFailed
			}
			out.Error = &intent.ErrorDetail{
				Code:    code,
				Message: fmt.Sprintf("Gateway call for %s failed", action.Action),
				Details: map[string]any{"status_code": res.StatusCode},
			}
			return out
		}
	}
	if n := len(out.Actions); n > 0 {
		last := out.Actions[n-1]
		out.Details = map[string]any{"request_id": last.RequestID}
		if last.NotionTaskID != "" {
			out.Details["notion_task_id"] = last.NotionTaskID
		}
	}
	return out
}

func (e *Executor) dispatch(ctx context.Context, req Request, action intent.PlanAction) ActionOutcome {
	requestID := req.RequestID
	if requestID == "" {
		requestID = ids.NewRequestID()
	}
	res := ActionOutcome{Action: action.Action, RequestID: requestID}

	path := e.Path(action.Action)
	if path == "" {
		res.ErrorCode = intent.CodeExecutionFailed
		return res
	}

	envelope := map[string]any{
		"request_id":      requestID,
		"idempotency_key": action.IdempotencyKey,
		"actor":           req.ActorID,
		"payload":         action.Payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		res.ErrorCode = intent.CodeExecutionFailed
		return res
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		res.ErrorCode = intent.CodeExecutionFailed
		return res
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.BearerToken)
	}
	if req.TraceID != "" {
		httpReq.Header.Set("X-Trace-Id", req.TraceID)
	}

	resp, err := e.Client.Do(httpReq)
	if err != nil {
		res.ErrorCode = intent.CodeExecutionFailed
		return res
	}
	defer resp.Body.Close()
	res.StatusCode = resp.StatusCode

	var parsed map[string]any
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&parsed); err == nil {
		if raw, err := json.Marshal(parsed); err == nil {
			res.ResponseBody = raw
		}
	}

	if errBody, hasError := parsed["error"]; hasError && errBody != nil {
		if m, ok := errBody.(map[string]any); ok {
			if code, ok := m["code"].(string); ok {
				res.ErrorCode = code
			}
		}
	}
	res.Success = resp.StatusCode >= 200 && resp.StatusCode < 300 && res.ErrorCode == ""
	if !res.Success && res.ErrorCode == "" {
		res.ErrorCode = intent.CodeExecutionFailed
	}
	if res.Success {
		res.NotionTaskID = ExtractTaskID(parsed)
	}
	return res
}

// ExtractTaskID pulls the created page id out of the gateway response,
// tolerating the id key variants the gateway has shipped over time.
func ExtractTaskID(parsed map[string]any) string {
	data, _ := parsed["data"].(map[string]any)
	if data == nil {
		data = parsed
	}
	for _, key := range []string{"notion_page_id", "notion_task_id", "page_id"} {
		if v, ok := data[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (e *Executor) journal(ctx context.Context, req Request, action intent.PlanAction, res ActionOutcome) {
	if e.Journal == nil {
		return
	}
	status := intent.StatusExecuted
	if !res.Success {
		status = intent.StatusFailed
	}
	artifact := map[string]any{
		"intent_id":      req.IntentID,
		"correlation_id": req.CorrelationID,
		"request_envelope": map[string]any{
			"request_id":      res.RequestID,
			"idempotency_key": action.IdempotencyKey,
			"actor":           req.ActorID,
			"payload":         action.Payload,
		},
		"status_code":        res.StatusCode,
		"error_code":         res.ErrorCode,
		"server_received_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if res.ResponseBody != nil {
		artifact["response_body"] = json.RawMessage(res.ResponseBody)
	}
	raw, err := json.Marshal(artifact)
	if err != nil {
		return
	}
	_, _ = e.Journal.AppendArtifact(ctx, store.ArtifactRecord{
		IntentID:        req.IntentID,
		CorrelationID:   req.CorrelationID,
		Kind:            "action",
		Action:          action.Action,
		Status:          status,
		IdempotencyKey:  action.IdempotencyKey,
		ArtifactVersion: e.ArtifactVersion,
		Artifact:        raw,
	})
}
