// Package api is the HTTP edge: routing, rate limiting, auth wiring, and the
// translation between lifecycle outcomes and response envelopes.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/intentd/pkg/auth"
	"github.com/Mindburn-Labs/intentd/pkg/intent"
	"github.com/Mindburn-Labs/intentd/pkg/lifecycle"
)

// Server carries the dependencies the handlers need.
type Server struct {
	Controller      *lifecycle.Controller
	Auth            *auth.Middleware
	Limiter         Limiter
	Log             *slog.Logger
	CORSOrigins     []string
	Version         string
	GitSHA          string
	ArtifactVersion int
}

// Handler builds the full middleware-wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/v1/intents", s.authed(s.handleIngestIntent))
	mux.HandleFunc("/v1/actions", s.authed(s.handleIngestAction))
	// Legacy aliases kept for clients predating the /v1/intents rename.
	mux.HandleFunc("/v1/ingest/intent", s.authed(s.handleIngestIntent))
	mux.HandleFunc("/v1/ingest/action", s.authed(s.handleIngestAction))
	mux.HandleFunc("/v1/clarifications", s.authed(s.handleListClarifications))
	mux.HandleFunc("/v1/clarifications/", s.authed(s.handleAnswerClarification))
	mux.HandleFunc("/v1/intents/", s.authed(s.handleGetIntent))

	var h http.Handler = mux
	if s.Limiter != nil {
		h = RateLimit(s.Limiter, h)
	}
	h = auth.CORS(s.CORSOrigins, h)
	h = auth.RequestID(h)
	return h
}

// authed applies bearer auth to a single route.
func (s *Server) authed(fn http.HandlerFunc) http.HandlerFunc {
	if s.Auth == nil {
		return fn
	}
	wrapped := s.Auth.Wrap(fn)
	return wrapped.ServeHTTP
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Warn("response encode failed", "error", err)
	}
}

// writeEnvelope emits the envelope with its identifying headers.
func (s *Server) writeEnvelope(w http.ResponseWriter, env intent.Envelope) {
	if env.IntentID != "" {
		w.Header().Set("X-Intent-Id", env.IntentID)
	}
	if env.CorrelationID != "" {
		w.Header().Set("X-Correlation-Id", env.CorrelationID)
	}
	if env.TraceID != "" {
		w.Header().Set("X-Trace-Id", env.TraceID)
	}
	s.writeJSON(w, http.StatusOK, env)
}

// writeError maps controller and edge failures onto the error body shape.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var serr *lifecycle.StatusError
	if errors.As(err, &serr) {
		s.writeJSON(w, serr.HTTPStatus,
			intent.NewErrorBody(serr.Code, serr.Message, serr.HTTPStatus, serr.Details))
		return
	}
	s.Log.Error("unhandled error", "error", err)
	s.writeJSON(w, http.StatusInternalServerError,
		intent.NewErrorBody("internal_error", "internal error", http.StatusInternalServerError, nil))
}

func methodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	_ = json.NewEncoder(w).Encode(
		intent.NewErrorBody("method_not_allowed", "method not allowed", http.StatusMethodNotAllowed, nil))
}
