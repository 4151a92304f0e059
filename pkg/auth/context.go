// Package auth guards the HTTP surface: bearer token or JWT verification,
// CORS, and request identity propagation.
package auth

import "context"

type contextKey string

const (
	actorKey     contextKey = "actor_id"
	requestIDKey contextKey = "request_id"
)

// WithActor attaches the authenticated actor id to the context.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFromContext returns the authenticated actor id, or "".
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey).(string); ok {
		return v
	}
	return ""
}

// WithRequestID attaches the request id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
