package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/intentd/pkg/intent"
)

// Limiter gates requests per client key.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// RateLimit applies the limiter per remote IP, answering 429 on exhaustion.
func RateLimit(l Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !l.Allow(r.Context(), host) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(intent.NewErrorBody(
				"rate_limited", "too many requests", http.StatusTooManyRequests, nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LocalLimiter keeps an in-process token bucket per key. Idle buckets are
// pruned so the map does not grow with one-off clients.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	rps     rate.Limit
	burst   int
	maxIdle time.Duration
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter builds a per-key limiter allowing rps sustained requests
// with the given burst.
func NewLocalLimiter(rps, burst int) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*localBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		maxIdle: 10 * time.Minute,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()

	if len(l.buckets) > 1024 {
		l.prune()
	}
	return b.limiter.Allow()
}

// prune drops buckets idle past maxIdle. Caller holds the lock.
func (l *LocalLimiter) prune() {
	cutoff := time.Now().Add(-l.maxIdle)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
