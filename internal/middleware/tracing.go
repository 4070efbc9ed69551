package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const traceIDHeader = "X-Request-ID"

type traceIDKey struct{}

// Tracing assigns every request an id, echoed in X-Request-ID and attached
// to the active span. A caller-supplied id is kept.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(traceIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("http.request_id", requestID))
		w.Header().Set(traceIDHeader, requestID)
		ctx := context.WithValue(r.Context(), traceIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}
