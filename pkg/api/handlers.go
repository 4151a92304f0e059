package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/intentd/pkg/auth"
	"github.com/Mindburn-Labs/intentd/pkg/intent"
	"github.com/Mindburn-Labs/intentd/pkg/schema"
)

// maxBodyBytes caps inbound packet size.
const maxBodyBytes = 1 << 20

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest,
			intent.NewErrorBody(intent.CodeBadJSON, "unreadable body", http.StatusBadRequest, nil))
		return nil, false
	}
	return raw, true
}

func (s *Server) writeValidationError(w http.ResponseWriter, verr *schema.ValidationError) {
	var extra map[string]any
	if len(verr.Fields) > 0 {
		extra = map[string]any{"fields": verr.Fields}
	}
	s.writeJSON(w, http.StatusBadRequest,
		intent.NewErrorBody(verr.Code, verr.Message, http.StatusBadRequest, extra))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if err := s.Controller.Health(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version":          s.Version,
		"git_sha":          s.GitSHA,
		"artifact_version": s.ArtifactVersion,
	})
}

func (s *Server) handleIngestIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}
	packet, verr := schema.ValidateIntentPacket(raw)
	if verr != nil {
		s.writeValidationError(w, verr)
		return
	}
	env, err := s.Controller.IngestIntent(r.Context(), raw, packet, auth.ActorFromContext(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeEnvelope(w, env)
}

func (s *Server) handleIngestAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}
	packet, verr := schema.ValidateActionPacket(raw)
	if verr != nil {
		s.writeValidationError(w, verr)
		return
	}
	env, err := s.Controller.IngestAction(r.Context(), raw, packet, auth.ActorFromContext(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeEnvelope(w, env)
}

func (s *Server) handleListClarifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actor := r.URL.Query().Get("actor_id")
	if actor == "" {
		actor = auth.ActorFromContext(r.Context())
	}
	out, err := s.Controller.ListClarifications(r.Context(), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"clarifications": out})
}

// handleAnswerClarification serves POST /v1/clarifications/{id}/answer.
func (s *Server) handleAnswerClarification(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/clarifications/")
	clarificationID, tail, found := strings.Cut(rest, "/")
	if !found || tail != "answer" || clarificationID == "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}
	doc, verr := schema.ValidateAnswerPacket(raw)
	if verr != nil {
		s.writeValidationError(w, verr)
		return
	}
	ans := intent.AnswerRequest{
		ChoiceID:   stringAt(doc, "choice_id"),
		AnswerText: stringAt(doc, "answer_text"),
	}
	env, err := s.Controller.AnswerClarification(r.Context(), clarificationID, ans, auth.ActorFromContext(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeEnvelope(w, env)
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	intentID := strings.TrimPrefix(r.URL.Path, "/v1/intents/")
	if intentID == "" || strings.Contains(intentID, "/") {
		http.NotFound(w, r)
		return
	}
	view, err := s.Controller.GetIntent(r.Context(), intentID, auth.ActorFromContext(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func stringAt(doc map[string]any, key string) string {
	v, _ := doc[key].(string)
	return v
}
