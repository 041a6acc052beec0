// Package correlation generates and propagates the identifiers that tie an
// error back to the request or job that produced it.
package correlation

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Header is the inbound/outbound header carrying the correlation id.
const Header = "x-correlation-id"

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	requestIDKey     contextKey = "request_id"
)

var uuidV4 = regexp.MustCompile(
	`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`,
)

// NewID returns a fresh UUID v4 correlation id.
func NewID() string {
	return uuid.NewString()
}

// NewRequestID returns a fresh 16 hex character request id.
func NewRequestID() string {
	u := uuid.New()
	return strings.ReplaceAll(u.String(), "-", "")[:16]
}

// Valid reports whether id is an acceptable inbound correlation id (UUID v4).
func Valid(id string) bool {
	return uuidV4.MatchString(id)
}

// FromHeader returns the inbound correlation id if it is a valid UUID v4,
// otherwise a freshly generated one.
func FromHeader(h http.Header) string {
	if id := strings.TrimSpace(h.Get(Header)); Valid(id) {
		return id
	}
	return NewID()
}

// WithID stores a correlation id in ctx. An empty id generates one.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewID()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// FromContext extracts the correlation id from ctx, or "" when absent.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID stores a request id in ctx. An empty id generates one.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewRequestID()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request id from ctx, or "" when absent.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
