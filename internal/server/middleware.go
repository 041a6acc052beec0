package server

import (
	"net/http"

	"github.com/vietddude/faultline/internal/core/correlation"
)

// Correlation accepts a valid inbound correlation id or generates one, stores
// it and a fresh request id in the request context, and echoes the
// correlation id on the response.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := correlation.FromHeader(r.Header)
		ctx := correlation.WithID(r.Context(), id)
		ctx = correlation.WithRequestID(ctx, "")
		w.Header().Set(correlation.Header, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
