package server

import (
	"net/http"
	"strconv"

	"github.com/vietddude/faultline/internal/core/apperror"
	"github.com/vietddude/faultline/internal/core/correlation"
	"github.com/vietddude/faultline/internal/mapping"
)

// WriteError serialises err in the wire format. Errors that are not yet
// classified are mapped first; the request's correlation and request ids are
// attached so the response can be matched to server logs.
func (s *Server) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, err, s.production)
}

// WriteError is the standalone form of Server.WriteError.
func WriteError(w http.ResponseWriter, r *http.Request, err error, production bool) {
	ae := mapping.FromError(err, "")
	if id := correlation.FromContext(r.Context()); id != "" && ae.CorrelationID() == "" {
		ae = ae.With(apperror.WithCorrelationID(id))
	}

	body, mErr := ae.MarshalWire(production, correlation.RequestIDFromContext(r.Context()))
	if mErr != nil {
		http.Error(w, `{"error":{"code":"INTERNAL_ERROR"}}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if ae.HasRetryAfter() {
		w.Header().Set("Retry-After", strconv.Itoa(ae.RetryAfterSeconds()))
	}
	w.WriteHeader(ae.StatusCode())
	_, _ = w.Write(body)
}
