// Package normalize turns a loosely structured intent packet into either a
// canonical action plan, a clarification request, or a rejection. The entry
// point is pure given a Resolver and a clock: no storage, no HTTP handling.
package normalize

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/intentd/pkg/intent"
)

// Options are the policy knobs applied during normalisation.
type Options struct {
	UserTimezone               string
	MinConfidenceToWrite       float64
	MaxInferredFields          int
	ProjectResolutionThreshold float64
	ProjectResolutionMargin    float64
}

// ClarificationPayload describes the question to open when normalisation
// cannot finish on its own.
type ClarificationPayload struct {
	Question           string
	ExpectedAnswerType string
	Candidates         []intent.Candidate
}

// Result is the outcome of one normalisation pass.
type Result struct {
	Status         string
	CanonicalDraft map[string]any
	FinalCanonical map[string]any
	Plan           *intent.Plan
	Clarification  *ClarificationPayload
	ErrorCode      string
	Message        string
	Details        map[string]any
}

// Normalizer holds the resolver and policy used across passes. Now is
// injectable so relative-date tests can pin the clock.
type Normalizer struct {
	Resolver Resolver
	Opts     Options
	Now      func() time.Time
}

// New builds a Normalizer with a wall clock.
func New(resolver Resolver, opts Options) *Normalizer {
	return &Normalizer{Resolver: resolver, Opts: opts, Now: time.Now}
}

var intentActions = map[string]string{
	intent.TypeCreateTask:  intent.ActionTasksCreate,
	intent.TypeUpdateTask:  intent.ActionTasksUpdate,
	intent.TypeAddListItem: intent.ActionListAddItem,
	intent.TypeCaptureNote: intent.ActionNoteCapture,
}

func rejected(code, message string, details map[string]any) Result {
	return Result{Status: intent.StatusRejected, ErrorCode: code, Message: message, Details: details}
}

// Normalize runs the ordered checks over a packet: confidence gate, intent
// type, required fields, project resolution, due resolution, inference budget,
// patch assembly.
func (n *Normalizer) Normalize(ctx context.Context, packet map[string]any) Result {
	intentType, _ := packet["intent_type"].(string)
	fields, _ := packet["fields"].(map[string]any)
	if fields == nil {
		fields = map[string]any{}
	}

	if confidence, present := parseConfidence(packet["confidence"]); present && confidence < n.Opts.MinConfidenceToWrite {
		return rejected(intent.CodeLowConfidence, "Confidence below minimum threshold",
			map[string]any{"confidence": confidence, "threshold": n.Opts.MinConfidenceToWrite})
	}

	if intentType == "" {
		return Result{
			Status: intent.StatusNeedsClarification,
			CanonicalDraft: map[string]any{
				"intent_type": nil,
				"fields":      fields,
				"pending":     map[string]any{"field": "intent_type"},
			},
			Clarification: &ClarificationPayload{
				Question:           "What is the intent type?",
				ExpectedAnswerType: intent.AnswerFreeText,
				Candidates:         []intent.Candidate{},
			},
		}
	}

	if _, supported := intentActions[intentType]; !supported {
		return rejected(intent.CodeUnsupportedIntentType,
			fmt.Sprintf("Unsupported intent_type: %s", intentType), nil)
	}

	canonical := map[string]any{}
	switch intentType {
	case intent.TypeCreateTask, intent.TypeAddListItem:
		title := stringField(fields, "title")
		if title == "" {
			title = stringValue(packet["title"])
		}
		if title == "" {
			return rejected(intent.CodeValidationError, "Missing required field: title",
				map[string]any{"field": "title"})
		}
		canonical["title"] = norm.NFC.String(title)
		if v, ok := fields["status"]; ok {
			canonical["status"] = v
		}
		if v, ok := fields["priority"]; ok {
			canonical["priority"] = v
		}
		if intentType == intent.TypeAddListItem {
			if list := stringField(fields, "list"); list != "" {
				canonical["list"] = norm.NFC.String(list)
			}
		}
	case intent.TypeCaptureNote:
		text := stringField(fields, "text")
		if text == "" {
			text = stringField(fields, "content")
		}
		if text == "" {
			return rejected(intent.CodeValidationError, "Missing required field: text",
				map[string]any{"field": "text"})
		}
		canonical["text"] = norm.NFC.String(text)
	case intent.TypeUpdateTask:
		taskID := stringField(fields, "task_id")
		if taskID == "" {
			taskID = stringField(fields, "notion_page_id")
		}
		if taskID == "" {
			return rejected(intent.CodeMissingTaskID, "Missing required field: task_id",
				map[string]any{"field": "task_id"})
		}
		canonical["task_id"] = taskID
	}

	if intentType == intent.TypeCreateTask {
		if res := n.resolveProject(ctx, intentType, fields, canonical); res != nil {
			return *res
		}
	}

	var inferences []map[string]any
	patch := map[string]any{}
	if intentType == intent.TypeUpdateTask {
		if v, ok := fields["status"]; ok {
			patch["status"] = v
		}
		if v, ok := fields["priority"]; ok {
			patch["priority"] = v
		}
	}

	assignDue := func(v any) {
		if intentType == intent.TypeUpdateTask {
			patch["due"] = v
		} else {
			canonical["due"] = v
		}
	}

	if due, isString := fields["due"].(string); isString {
		switch {
		case relativeDueLabel(due) != "":
			resolved, strategy, ok := resolveRelativeDue(due, n.Opts.UserTimezone, n.Now())
			if !ok {
				return n.dueClarification(intentType, canonical, due)
			}
			inferences = append(inferences, map[string]any{
				"field":         "due",
				"inferred_from": due,
				"strategy":      strategy,
			})
			assignDue(resolved)
		case isISODateTime(due) || isISODate(due):
			assignDue(due)
		default:
			return n.dueClarification(intentType, canonical, due)
		}
	} else if fields["due"] != nil {
		assignDue(fields["due"])
	}

	if len(inferences) > n.Opts.MaxInferredFields {
		return rejected(intent.CodeTooManyInferences, "Too many inferred fields",
			map[string]any{"inferred_fields": inferences, "max_inferred_fields": n.Opts.MaxInferredFields})
	}

	if intentType == intent.TypeUpdateTask {
		if len(patch) == 0 {
			return rejected(intent.CodeValidationError, "No updatable fields provided",
				map[string]any{"fields": fieldNames(fields)})
		}
		canonical["patch"] = patch
	}

	if inferences == nil {
		inferences = []map[string]any{}
	}
	final := map[string]any{
		"intent_type": intentType,
		"fields":      canonical,
		"resolution":  map[string]any{"inferences": inferences},
	}

	return Result{
		Status:         intent.StatusReady,
		CanonicalDraft: final,
		FinalCanonical: final,
		Plan:           PlanFromCanonical(final),
	}
}

// PlanFromCanonical derives the action plan for an accepted canonical form.
// Used both on the ready path and when replaying a ready intent whose cached
// envelope is gone.
func PlanFromCanonical(final map[string]any) *intent.Plan {
	intentType, _ := final["intent_type"].(string)
	action, supported := intentActions[intentType]
	if !supported {
		return nil
	}
	fields, _ := final["fields"].(map[string]any)
	if fields == nil {
		fields = map[string]any{}
	}
	payload := fields
	if intentType == intent.TypeUpdateTask {
		patch, _ := fields["patch"].(map[string]any)
		if patch == nil {
			patch = map[string]any{}
		}
		payload = map[string]any{
			"notion_page_id": fields["task_id"],
			"patch":          patch,
		}
	}
	return &intent.Plan{Actions: []intent.PlanAction{{
		Kind:    "action",
		Action:  action,
		Payload: payload,
	}}}
}

// resolveProject applies the disambiguation policy to fields.project (or
// project_id). A nil return means the project landed in canonical (or was
// absent) and normalisation continues.
func (n *Normalizer) resolveProject(ctx context.Context, intentType string, fields, canonical map[string]any) *Result {
	var selector string
	if v, ok := fields["project"]; ok {
		selector, ok = v.(string)
		if !ok {
			return nil
		}
	} else if v, ok := fields["project_id"]; ok {
		selector, ok = v.(string)
		if !ok {
			return nil
		}
	} else {
		return nil
	}

	if fields["project_resolved"] == true {
		canonical["project"] = norm.NFC.String(selector)
		return nil
	}

	candidates := normalizeProjectCandidates(n.Resolver.Resolve(ctx, selector))
	if picked := selectHighConfidenceCandidate(candidates, n.Opts.ProjectResolutionThreshold, n.Opts.ProjectResolutionMargin); picked != nil {
		label := picked.Label
		if label == "" {
			label = picked.ID
		}
		if label == "" {
			label = selector
		}
		canonical["project"] = label
		return nil
	}

	draftFields := map[string]any{}
	for k, v := range canonical {
		draftFields[k] = v
	}
	draftFields["project"] = map[string]any{"selector": selector, "value": nil}

	question := fmt.Sprintf("Provide the project name for '%s'.", selector)
	expected := intent.AnswerFreeText
	if len(candidates) > 0 {
		question = fmt.Sprintf("Which project matches '%s'?", selector)
		expected = intent.AnswerChoice
	}
	return &Result{
		Status: intent.StatusNeedsClarification,
		CanonicalDraft: map[string]any{
			"intent_type": intentType,
			"fields":      draftFields,
			"pending":     map[string]any{"field": "project", "selector": selector},
		},
		Clarification: &ClarificationPayload{
			Question:           question,
			ExpectedAnswerType: expected,
			Candidates:         candidates,
		},
	}
}

func (n *Normalizer) dueClarification(intentType string, canonical map[string]any, due string) Result {
	draftFields := map[string]any{}
	for k, v := range canonical {
		draftFields[k] = v
	}
	draftFields["due"] = map[string]any{"selector": due}
	return Result{
		Status: intent.StatusNeedsClarification,
		CanonicalDraft: map[string]any{
			"intent_type": intentType,
			"fields":      draftFields,
			"pending":     map[string]any{"field": "due", "selector": due},
		},
		Clarification: &ClarificationPayload{
			Question:           "What is the due date?",
			ExpectedAnswerType: intent.AnswerDate,
			Candidates:         []intent.Candidate{},
		},
	}
}

// normalizeProjectCandidates folds resolver output into the candidate shape
// the clarification surface promises: label doubles as id, and the original
// id survives in meta.project_id.
func normalizeProjectCandidates(raw []map[string]any) []intent.Candidate {
	out := make([]intent.Candidate, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		originalID := stringValue(c["id"])
		label := stringValue(c["label"])
		if label == "" {
			label = stringValue(c["name"])
		}
		if label == "" {
			label = originalID
		}
		if label == "" {
			continue
		}
		meta := map[string]any{}
		if m, ok := c["meta"].(map[string]any); ok {
			for k, v := range m {
				meta[k] = v
			}
		}
		if originalID != "" && originalID != label {
			if _, exists := meta["project_id"]; !exists {
				meta["project_id"] = originalID
			}
		}
		if len(meta) == 0 {
			meta = nil
		}
		score, _ := parseConfidence(c["score"])
		out = append(out, intent.Candidate{ID: label, Label: label, Score: score, Meta: meta})
	}
	return out
}

// selectHighConfidenceCandidate picks the top-scored candidate only when it
// clears the threshold and beats the runner-up by at least the margin.
func selectHighConfidenceCandidate(candidates []intent.Candidate, threshold, margin float64) *intent.Candidate {
	if len(candidates) == 0 {
		return nil
	}
	scored := append([]intent.Candidate(nil), candidates...)
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	top := scored[0]
	if top.Score < threshold {
		return nil
	}
	if len(scored) > 1 && top.Score-scored[1].Score < margin {
		return nil
	}
	return &top
}

// ApplyAnswer folds a clarification answer into the canonical draft according
// to the pending field, then clears the pending marker. The returned draft is
// the input mutated in place.
func ApplyAnswer(draft map[string]any, answer intent.AnswerRequest) map[string]any {
	if draft == nil {
		draft = map[string]any{}
	}
	pending, _ := draft["pending"].(map[string]any)
	field, _ := pending["field"].(string)
	fields, _ := draft["fields"].(map[string]any)
	if fields == nil {
		fields = map[string]any{}
		draft["fields"] = fields
	}

	switch field {
	case "intent_type":
		if answer.AnswerText != "" {
			draft["intent_type"] = answer.AnswerText
		} else if answer.ChoiceID != "" {
			draft["intent_type"] = answer.ChoiceID
		}
	case "project":
		if answer.ChoiceID != "" {
			fields["project"] = answer.ChoiceID
		} else if answer.AnswerText != "" {
			fields["project"] = answer.AnswerText
		}
		if answer.ChoiceID != "" || answer.AnswerText != "" {
			delete(fields, "project_id")
			fields["project_resolved"] = true
		}
	case "due":
		if answer.AnswerText != "" {
			fields["due"] = answer.AnswerText
		} else if answer.ChoiceID != "" {
			fields["due"] = answer.ChoiceID
		}
	}

	delete(draft, "pending")
	return draft
}

// DraftPacket rebuilds a packet from a canonical draft for re-normalisation
// after an answer is applied.
func DraftPacket(draft map[string]any) map[string]any {
	packet := map[string]any{"kind": "intent"}
	if it, ok := draft["intent_type"].(string); ok && it != "" {
		packet["intent_type"] = it
	}
	if fields, ok := draft["fields"].(map[string]any); ok {
		packet["fields"] = unwrapDraftFields(fields)
	}
	return packet
}

// unwrapDraftFields strips the {selector, value} placeholders a draft stores
// for unresolved fields, so a rebuilt packet carries plain values only.
func unwrapDraftFields(fields map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range fields {
		if placeholder, ok := v.(map[string]any); ok {
			if sel, hasSel := placeholder["selector"]; hasSel {
				if value, hasValue := placeholder["value"]; hasValue && value != nil {
					out[k] = value
				} else {
					out[k] = sel
				}
				continue
			}
		}
		out[k] = v
	}
	return out
}

func parseConfidence(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func stringField(fields map[string]any, key string) string {
	return stringValue(fields[key])
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func fieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
