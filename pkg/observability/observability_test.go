package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsInert(t *testing.T) {
	p, err := New(context.Background(), &Config{ServiceName: "intentd"})
	require.NoError(t, err)

	// All hooks must be safe without providers behind them.
	p.recordRequest(context.Background())
	p.recordError(context.Background())
	p.recordDuration(context.Background(), time.Millisecond)
	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "intentd", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Empty(t, cfg.OTLPEndpoint)
}

func TestWrapPassesThroughWhenDisabled(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := p.Wrap(inner)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	p, err := New(context.Background(), &Config{ServiceName: "intentd"})
	require.NoError(t, err)

	h := p.Middleware("/v1/intents", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/intents", nil))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}
