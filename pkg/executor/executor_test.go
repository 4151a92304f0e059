package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/intentd/pkg/intent"
	"github.com/Mindburn-Labs/intentd/pkg/store"
)

type fakeJournal struct {
	records []store.ArtifactRecord
}

func (f *fakeJournal) AppendArtifact(_ context.Context, rec store.ArtifactRecord) (store.ArtifactRecord, error) {
	f.records = append(f.records, rec)
	return rec, nil
}

func pathFor(action string) string {
	if action == "notion.tasks.create" {
		return "/v1/notion/tasks/create"
	}
	return ""
}

func createPlan() *intent.Plan {
	return &intent.Plan{Actions: []intent.PlanAction{{
		Kind:           "action",
		Action:         "notion.tasks.create",
		Payload:        map[string]any{"title": "Ship this"},
		IdempotencyKey: "action:abc",
	}}}
}

func TestExecuteSuccess(t *testing.T) {
	var gotEnvelope map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/notion/tasks/create", r.URL.Path)
		assert.Equal(t, "Bearer gw-token", r.Header.Get("Authorization"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Trace-Id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotEnvelope))
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"notion_page_id": "page-42"},
		})
	}))
	defer srv.Close()

	journal := &fakeJournal{}
	e := New(srv.URL, "gw-token", pathFor, 0, journal)
	out := e.Execute(context.Background(), Request{
		IntentID:      "int_1",
		CorrelationID: "cor_1",
		TraceID:       "trace-1",
		ActorID:       "user-1",
		Plan:          createPlan(),
	})

	require.True(t, out.Succeeded)
	assert.Equal(t, "page-42", out.Details["notion_task_id"])
	assert.NotEmpty(t, out.Details["request_id"])

	assert.Equal(t, "action:abc", gotEnvelope["idempotency_key"])
	assert.Equal(t, "user-1", gotEnvelope["actor"])
	assert.NotEmpty(t, gotEnvelope["request_id"])

	require.Len(t, journal.records, 1)
	assert.Equal(t, "action", journal.records[0].Kind)
	assert.Equal(t, intent.StatusExecuted, journal.records[0].Status)
	assert.Equal(t, "notion.tasks.create", journal.records[0].Action)
}

func TestExecutePropagatesCallerRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var envelope map[string]any
		json.NewDecoder(r.Body).Decode(&envelope)
		assert.Equal(t, "req-caller", envelope["request_id"])
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"page_id": "p1"}})
	}))
	defer srv.Close()

	e := New(srv.URL, "", pathFor, 0, nil)
	out := e.Execute(context.Background(), Request{
		IntentID:  "int_1",
		RequestID: "req-caller",
		Plan:      createPlan(),
	})

	require.True(t, out.Succeeded)
	assert.Equal(t, "req-caller", out.Details["request_id"])
}

func TestExecuteGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "NOTION_DOWN"},
		})
	}))
	defer srv.Close()

	journal := &fakeJournal{}
	e := New(srv.URL, "", pathFor, 0, journal)
	out := e.Execute(context.Background(), Request{IntentID: "int_1", Plan: createPlan()})

	require.False(t, out.Succeeded)
	require.NotNil(t, out.Error)
	assert.Equal(t, "NOTION_DOWN", out.Error.Code)
	assert.Equal(t, 500, out.Error.Details["status_code"])

	require.Len(t, journal.records, 1)
	assert.Equal(t, intent.StatusFailed, journal.records[0].Status)
}

func TestExecuteErrorBodyOn200Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "DUPLICATE"},
		})
	}))
	defer srv.Close()

	e := New(srv.URL, "", pathFor, 0, nil)
	out := e.Execute(context.Background(), Request{IntentID: "int_1", Plan: createPlan()})

	require.False(t, out.Succeeded)
	assert.Equal(t, "DUPLICATE", out.Error.Code)
}

func TestExecuteUnreachableGateway(t *testing.T) {
	e := New("http://127.0.0.1:1", "", pathFor, 0, nil)
	out := e.Execute(context.Background(), Request{IntentID: "int_1", Plan: createPlan()})

	require.False(t, out.Succeeded)
	assert.Equal(t, intent.CodeExecutionFailed, out.Error.Code)
	assert.Equal(t, 0, out.Error.Details["status_code"])
}

func TestExecuteUnmappedAction(t *testing.T) {
	e := New("http://example.invalid", "", pathFor, 0, nil)
	out := e.Execute(context.Background(), Request{
		IntentID: "int_1",
		Plan: &intent.Plan{Actions: []intent.PlanAction{{
			Kind: "action", Action: "notion.unknown", Payload: map[string]any{},
		}}},
	})

	require.False(t, out.Succeeded)
	assert.Equal(t, intent.CodeExecutionFailed, out.Error.Code)
}
