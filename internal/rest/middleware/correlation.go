package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

const CorrelationHeader = "X-Correlation-Id"

// CorrelationId assigns every request a correlation id, preserving one the
// caller already supplied, and echoes it on the response so clients can
// stitch engine logs to their own.
func CorrelationId() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(CorrelationHeader)
			if id == "" {
				id = uuid.NewString()
				r.Header.Set(CorrelationHeader, id)
			}
			w.Header().Set(CorrelationHeader, id)
			next.ServeHTTP(w, r)
		})
	}
}
