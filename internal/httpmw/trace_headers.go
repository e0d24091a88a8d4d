package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

const (
	headerTraceID = "X-Trace-Id"
	headerSpanID  = "X-Span-Id"
)

// TraceHeaders sets X-Trace-Id and X-Span-Id from the request span. Only
// sampled spans are echoed, an unsampled id points at nothing in the
// collector.
func TraceHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := trace.SpanContextFromContext(r.Context())
		if sc.IsValid() && sc.IsSampled() {
			h := w.Header()
			h.Set(headerTraceID, sc.TraceID().String())
			h.Set(headerSpanID, sc.SpanID().String())
		}
		next.ServeHTTP(w, r)
	})
}
