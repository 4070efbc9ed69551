package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
)

const testSecret = "middleware-secret"

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusNoContent)
	})
}

func bearer(t *testing.T, p auth.Principal) string {
	t.Helper()
	token, err := auth.GenerateToken(p, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAuth(t *testing.T) {
	p := auth.Principal{UserID: uuid.New(), Role: auth.RoleUser}

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", bearer(t, p), http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			var got auth.Principal
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = auth.PrincipalFromContext(r.Context())
				okHandler(&called).ServeHTTP(w, r)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			Auth(testSecret)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantStatus == http.StatusNoContent, called)
			if called {
				assert.Equal(t, p.UserID, got.UserID)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		role       auth.Role
		wantStatus int
	}{
		{"admin", auth.RoleAdmin, http.StatusNoContent},
		{"user", auth.RoleUser, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/aggregate-totals", nil)
			req.Header.Set("Authorization", bearer(t, auth.Principal{UserID: uuid.New(), Role: tt.role}))
			rec := httptest.NewRecorder()

			Auth(testSecret)(RequireAdmin(okHandler(&called))).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRequireIdempotencyKey(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		key        string
		wantStatus int
	}{
		{"post with key", http.MethodPost, "abc", http.StatusNoContent},
		{"post without key", http.MethodPost, "", http.StatusBadRequest},
		{"oversized key", http.MethodPost, strings.Repeat("k", 256), http.StatusBadRequest},
		{"get needs no key", http.MethodGet, "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			req := httptest.NewRequest(tt.method, "/api/v1/deposits", nil)
			if tt.key != "" {
				req.Header.Set("Idempotency-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			RequireIdempotencyKey(okHandler(&called)).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantStatus == http.StatusNoContent, called)
		})
	}
}

func TestTracing_PropagatesRequestID(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	Tracing(next).ServeHTTP(rec, req)

	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRecovery_RespondsInternalError(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		Recovery(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestLogging_CarriesTraceIDOfServerSpan(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	var called bool
	h := otelhttp.NewHandler(Tracing(Logging(okHandler(&called))), "wallet-ledger", otelhttp.WithTracerProvider(tp))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deposits", nil)
	req.Header.Set("X-Request-ID", "req-9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, called)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	traceID := spans[0].SpanContext().TraceID().String()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "request completed", line["msg"])
	assert.Equal(t, traceID, line["trace_id"])
	assert.Equal(t, "req-9", line["request_id"])
}
