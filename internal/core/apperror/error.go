package apperror

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"
)

// Error is the canonical structured failure. Values are immutable once
// constructed; With returns an enriched copy.
type Error struct {
	code          Code
	status        int
	message       string
	details       *Details
	retryable     bool
	retryAfter    *int
	maxRetries    *int
	correlationID string
	timestamp     time.Time
	cause         error
	stack         []uintptr
}

// Option customises an Error at construction.
type Option func(*Error)

// WithDetails attaches a copy of d.
func WithDetails(d *Details) Option {
	return func(e *Error) { e.details = d.Clone() }
}

// WithStatus overrides the canonical HTTP status.
func WithStatus(status int) Option {
	return func(e *Error) { e.status = status }
}

// WithRetryable overrides the code's default retryability.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = retryable }
}

// WithRetryAfter sets the retry hint in seconds. Negative values clear it.
func WithRetryAfter(seconds int) Option {
	return func(e *Error) {
		if seconds < 0 {
			e.retryAfter = nil
			return
		}
		e.retryAfter = &seconds
	}
}

// WithMaxRetries sets the suggested retry ceiling.
func WithMaxRetries(n int) Option {
	return func(e *Error) { e.maxRetries = &n }
}

// WithCorrelationID tags the error with the originating request's correlation id.
func WithCorrelationID(id string) Option {
	return func(e *Error) { e.correlationID = id }
}

// WithCause records the low-level failure. It is never serialized in production.
func WithCause(err error) Option {
	return func(e *Error) { e.cause = err }
}

// WithTimestamp overrides the construction time.
func WithTimestamp(t time.Time) Option {
	return func(e *Error) { e.timestamp = t.UTC() }
}

// New builds an Error for code. An empty message falls back to the code's
// default. Status and retryability come from the taxonomy unless overridden.
func New(code Code, message string, opts ...Option) *Error {
	if !code.Valid() {
		code = CodeInternal
	}
	if message == "" {
		message = code.DefaultMessage()
	}

	e := &Error{
		code:      code,
		status:    code.Status(),
		message:   message,
		retryable: code.Retryable(),
		timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}

	// RATE_LIMITED and SERVICE_UNAVAILABLE always carry a retry hint.
	if e.retryAfter == nil && (code == CodeRateLimited || code == CodeServiceUnavailable) {
		d := DefaultRetryAfterSeconds
		e.retryAfter = &d
	}

	if code == CodeInternal || code == CodeDatabase {
		pcs := make([]uintptr, 32)
		n := runtime.Callers(2, pcs)
		e.stack = pcs[:n]
	}
	return e
}

// DefaultRetryAfterSeconds is the hint used for RATE_LIMITED and
// SERVICE_UNAVAILABLE when none is supplied.
const DefaultRetryAfterSeconds = 60

// With returns a copy of e with opts applied. e itself is never modified.
func (e *Error) With(opts ...Option) *Error {
	c := *e
	c.details = e.details.Clone()
	if e.retryAfter != nil {
		v := *e.retryAfter
		c.retryAfter = &v
	}
	if e.maxRetries != nil {
		v := *e.maxRetries
		c.maxRetries = &v
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Error implements error. Format: "CODE: message".
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Unwrap exposes the low-level cause.
func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code
}

func (e *Error) Code() Code { return e.code }
func (e *Error) StatusCode() int { return e.status }
func (e *Error) Message() string { return e.message }
func (e *Error) Retryable() bool { return e.retryable }
func (e *Error) CorrelationID() string { return e.correlationID }
func (e *Error) Timestamp() time.Time { return e.timestamp }
func (e *Error) Details() *Details { return e.details.Clone() }
func (e *Error) Cause() error { return e.cause }
func (e *Error) HasRetryAfter() bool { return e.retryAfter != nil }
func (e *Error) HasMaxRetries() bool { return e.maxRetries != nil }

// RetryAfterSeconds returns the retry hint, or 0 when unset.
func (e *Error) RetryAfterSeconds() int {
	if e.retryAfter == nil {
		return 0
	}
	return *e.retryAfter
}

// MaxRetries returns the suggested retry ceiling, or 0 when unset.
func (e *Error) MaxRetries() int {
	if e.maxRetries == nil {
		return 0
	}
	return *e.maxRetries
}

// Stack renders the frames captured at construction for internal failures.
func (e *Error) Stack() string {
	if len(e.stack) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// LogValue implements slog.LogValuer.
func (e *Error) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", string(e.code)),
		slog.Int("status", e.status),
		slog.String("message", e.message),
		slog.Bool("retryable", e.retryable),
	}
	if e.correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", e.correlationID))
	}
	if e.retryAfter != nil {
		attrs = append(attrs, slog.Int("retry_after", *e.retryAfter))
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in err's chain, or INTERNAL_ERROR.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.code
	}
	return CodeInternal
}
