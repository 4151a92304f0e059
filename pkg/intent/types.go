// Package intent defines the domain records exchanged between the HTTP edge,
// the lifecycle controller and the executor: packets, response envelopes,
// plans and clarifications.
package intent

import "encoding/json"

// Intent lifecycle statuses.
const (
	StatusReceived           = "received"
	StatusNeedsClarification = "needs_clarification"
	StatusReady              = "ready"
	StatusExecuted           = "executed"
	StatusFailed             = "failed"
	StatusExpired            = "expired"
)

// Envelope statuses not tied to an intent lifecycle state.
const (
	StatusRejected = "rejected"
	StatusAccepted = "accepted"
)

// Clarification statuses.
const (
	ClarificationOpen     = "open"
	ClarificationAnswered = "answered"
	ClarificationExpired  = "expired"
)

// Expected answer types for clarifications.
const (
	AnswerChoice   = "choice"
	AnswerFreeText = "free_text"
	AnswerDate     = "date"
	AnswerDatetime = "datetime"
)

// Rejection and failure error codes.
const (
	CodeValidationError        = "VALIDATION_ERROR"
	CodeUnsupportedIntentType  = "UNSUPPORTED_INTENT_TYPE"
	CodeMissingTaskID          = "POLICY_MISSING_TASK_ID"
	CodeLowConfidence          = "POLICY_LOW_CONFIDENCE"
	CodeTooManyInferences      = "POLICY_TOO_MANY_INFERENCES"
	CodePolicyDenied           = "POLICY_DENIED"
	CodeExecutionNotConfigured = "EXECUTION_NOT_CONFIGURED"
	CodeExecutionFailed        = "EXECUTION_FAILED"
	CodeClarificationExpired   = "CLARIFICATION_EXPIRED"
)

// Edge (pre-ingest) error codes, surfaced as 4xx bodies.
const (
	CodeBadJSON                  = "bad_json"
	CodeSchemaValidationFailed   = "schema_validation_failed"
	CodeUnsupportedSchemaVersion = "unsupported_schema_version"
	CodeDBUnavailable            = "DB_UNAVAILABLE"
)

// Supported intent types and their gateway actions.
const (
	TypeCreateTask  = "create_task"
	TypeUpdateTask  = "update_task"
	TypeAddListItem = "add_list_item"
	TypeCaptureNote = "capture_note"

	ActionTasksCreate = "notion.tasks.create"
	ActionTasksUpdate = "notion.tasks.update"
	ActionListAddItem = "notion.list.add_item"
	ActionNoteCapture = "notion.note.capture"
)

// Candidate is one scored option offered in a choice clarification.
type Candidate struct {
	ID    string         `json:"id"`
	Label string         `json:"label"`
	Score float64        `json:"score,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// Clarification is the server-issued question blocking an intent.
type Clarification struct {
	ClarificationID    string          `json:"clarification_id"`
	IntentID           string          `json:"intent_id"`
	Question           string          `json:"question"`
	ExpectedAnswerType string          `json:"expected_answer_type"`
	Candidates         []Candidate     `json:"candidates"`
	Status             string          `json:"status"`
	Answer             json.RawMessage `json:"answer,omitempty"`
	AnsweredAt         string          `json:"answered_at,omitempty"`
}

// PlanAction is one dispatchable step of a plan.
type PlanAction struct {
	Kind           string         `json:"kind"`
	Action         string         `json:"action"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Plan is the ordered action list derived from the canonical form.
type Plan struct {
	Actions []PlanAction `json:"actions"`
}

// ErrorDetail carries a structured failure (gateway or edge).
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope is the response body for every ingest-facing endpoint. It is
// cached verbatim on the intent row so idempotent replays return the exact
// bytes of the first response.
type Envelope struct {
	Status         string         `json:"status"`
	IntentID       string         `json:"intent_id"`
	CorrelationID  string         `json:"correlation_id"`
	ReceiptID      string         `json:"receipt_id,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Plan           *Plan          `json:"plan,omitempty"`
	Clarification  *Clarification `json:"clarification,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	Message        string         `json:"message,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	Error          *ErrorDetail   `json:"error,omitempty"`
}

// AnswerRequest is the body of POST /v1/clarifications/{id}/answer.
// At least one of the two fields must be present.
type AnswerRequest struct {
	ChoiceID   string `json:"choice_id,omitempty"`
	AnswerText string `json:"answer_text,omitempty"`
}

// Empty reports whether the answer carries neither a choice nor free text.
func (a AnswerRequest) Empty() bool {
	return a.ChoiceID == "" && a.AnswerText == ""
}

// ErrorBody is the 4xx pre-ingest error shape.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// NewErrorBody builds a pre-ingest error body with the HTTP status embedded
// in details.
func NewErrorBody(code, message string, statusCode int, extra map[string]any) ErrorBody {
	details := map[string]any{"status_code": statusCode}
	for k, v := range extra {
		details[k] = v
	}
	return ErrorBody{Error: ErrorDetail{Code: code, Message: message, Details: details}}
}
