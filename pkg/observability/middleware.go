package observability

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware traces each request and feeds the RED instruments. Route
// cardinality stays bounded because attributes use the registered pattern,
// not the raw path.
func (p *Provider) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		attrs := []attribute.KeyValue{
			attribute.String("http.route", route),
			attribute.String("http.method", r.Method),
		}

		ctx, span := p.Tracer().Start(r.Context(), r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...))
		defer span.End()

		if p.activeRequests != nil {
			p.activeRequests.Add(ctx, 1)
			defer p.activeRequests.Add(ctx, -1)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		attrs = append(attrs, attribute.Int("http.status_code", rec.status))
		p.recordRequest(ctx, attrs...)
		p.recordDuration(ctx, time.Since(start), attrs...)
		if rec.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
			p.recordError(ctx, attrs...)
		}
	})
}

// Wrap instruments a whole handler tree under one route label. Used for the
// mux when per-route wrapping is not worth the bother.
func (p *Provider) Wrap(next http.Handler) http.Handler {
	if p == nil || p.tracerProvider == nil {
		return next
	}
	return p.Middleware("/", next)
}
