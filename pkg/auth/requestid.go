package auth

import (
	"net/http"

	"github.com/Mindburn-Labs/intentd/pkg/ids"
)

// RequestID propagates the caller's X-Request-Id or mints one, echoing it on
// the response and storing it on the context for downstream logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = ids.NewRequestID()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}
