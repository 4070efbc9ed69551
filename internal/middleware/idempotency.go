package middleware

import (
	"net/http"

	"github.com/josh-kwaku/wallet-ledger/internal/handler"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 255
)

// RequireIdempotencyKey rejects mutating requests without a usable
// Idempotency-Key header. Deduplication itself happens in the engine.
func RequireIdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(idempotencyKeyHeader)
		if key == "" {
			handler.RespondAppError(w, handler.ErrMissingIdempotencyKey, nil)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			handler.RespondValidationError(w, []handler.FieldError{{Field: idempotencyKeyHeader, Message: "must be at most 255 characters"}})
			return
		}
		next.ServeHTTP(w, r)
	})
}
