package auth

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/intentd/pkg/intent"
)

// Middleware authenticates requests. Two modes: a static service token
// compared in constant time, or, when JWTSecret is set, an HS256 JWT whose
// subject becomes the actor id. JWTs are tried first so mixed deployments can
// migrate token by token.
type Middleware struct {
	ServiceToken string
	JWTSecret    []byte
}

// NewMiddleware builds the auth middleware. jwtSecret may be empty.
func NewMiddleware(serviceToken, jwtSecret string) *Middleware {
	m := &Middleware{ServiceToken: serviceToken}
	if jwtSecret != "" {
		m.JWTSecret = []byte(jwtSecret)
	}
	return m
}

// Wrap enforces bearer auth on the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeUnauthorized(w, "Missing bearer token")
			return
		}
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeUnauthorized(w, "Invalid authorization header")
			return
		}

		if len(m.JWTSecret) > 0 {
			if actor, err := m.verifyJWT(token); err == nil {
				if header := r.Header.Get("X-Actor-Id"); header != "" {
					actor = header
				}
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
				return
			}
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.ServiceToken)) == 1 {
			if actor := r.Header.Get("X-Actor-Id"); actor != "" {
				r = r.WithContext(WithActor(r.Context(), actor))
			}
			next.ServeHTTP(w, r)
			return
		}
		writeUnauthorized(w, "Invalid bearer token")
	})
}

func (m *Middleware) verifyJWT(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.JWTSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	body := intent.NewErrorBody("unauthorized", message, http.StatusUnauthorized, nil)
	_ = json.NewEncoder(w).Encode(body)
}
