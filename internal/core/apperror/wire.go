package apperror

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/faultline/internal/core/correlation"
	"github.com/vietddude/faultline/internal/core/sanitize"
)

// GenericSuggestion is the only detail exposed for internal failures in production.
const GenericSuggestion = "Try again later. If the problem persists, contact support and quote the request id."

// Wire is the externally visible error envelope.
type Wire struct {
	Error WireError `json:"error"`
}

type WireError struct {
	Code          Code           `json:"code"`
	Message       string         `json:"message"`
	StatusCode    int            `json:"statusCode"`
	Details       map[string]any `json:"details,omitempty"`
	RequestID     string         `json:"requestId"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Timestamp     string         `json:"timestamp"`
	Retry         WireRetry      `json:"retry"`
}

type WireRetry struct {
	Retryable   bool   `json:"retryable"`
	RetryAfter  *int   `json:"retryAfter,omitempty"`
	MaxRetries  *int   `json:"maxRetries,omitempty"`
	BackoffType string `json:"backoffType"`
	Jitter      bool   `json:"jitter"`
}

// ToWireFormat renders e for the process boundary. requestID identifies the
// response; an empty one is generated. In production, messages and details are sanitized and internal failures
// expose nothing beyond a generic suggestion; otherwise the stack and cause
// are included for debugging.
func (e *Error) ToWireFormat(production bool, requestID string) Wire {
	if requestID == "" {
		requestID = correlation.NewRequestID()
	}
	w := WireError{
		Code:          e.code,
		Message:       sanitize.Message(e.message, production),
		StatusCode:    e.status,
		RequestID:     requestID,
		CorrelationID: e.correlationID,
		Timestamp:     e.timestamp.Format(time.RFC3339Nano),
		Retry: WireRetry{
			Retryable:   e.retryable,
			BackoffType: "exponential",
			Jitter:      true,
		},
	}
	if e.retryAfter != nil {
		v := *e.retryAfter
		w.Retry.RetryAfter = &v
	}
	if e.maxRetries != nil {
		v := *e.maxRetries
		w.Retry.MaxRetries = &v
	}

	internal := e.code == CodeInternal || e.code == CodeDatabase
	switch {
	case production && internal:
		w.Message = e.code.DefaultMessage()
		w.Details = map[string]any{"suggestion": GenericSuggestion}
	case production:
		w.Details = sanitize.Details(e.details.Map(), true)
	default:
		w.Details = e.debugDetails()
	}
	return Wire{Error: w}
}

func (e *Error) debugDetails() map[string]any {
	d := e.details.Map()
	if e.cause == nil && len(e.stack) == 0 {
		return d
	}
	if d == nil {
		d = make(map[string]any)
	}
	if st := e.Stack(); st != "" {
		if _, ok := d["stack"]; !ok {
			d["stack"] = st
		}
	}
	if e.cause != nil {
		meta, _ := d["metadata"].(map[string]any)
		if meta == nil {
			meta = make(map[string]any)
		}
		meta["cause"] = e.cause.Error()
		d["metadata"] = meta
	}
	return d
}

// MarshalWire is json.Marshal(e.ToWireFormat(production, requestID)).
func (e *Error) MarshalWire(production bool, requestID string) ([]byte, error) {
	return json.Marshal(e.ToWireFormat(production, requestID))
}

// ParseWire reconstructs an Error from its wire envelope. Request ids are
// per-response and are not carried over.
func ParseWire(data []byte) (*Error, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode error envelope: %w", err)
	}
	we := w.Error
	if !we.Code.Valid() {
		return nil, fmt.Errorf("decode error envelope: unknown code %q", we.Code)
	}

	details, err := detailsFromMap(we.Details)
	if err != nil {
		return nil, fmt.Errorf("decode error details: %w", err)
	}

	opts := []Option{
		WithStatus(we.StatusCode),
		WithRetryable(we.Retry.Retryable),
		WithCorrelationID(we.CorrelationID),
		WithDetails(details),
	}
	if we.Retry.RetryAfter != nil {
		opts = append(opts, WithRetryAfter(*we.Retry.RetryAfter))
	}
	if we.Retry.MaxRetries != nil {
		opts = append(opts, WithMaxRetries(*we.Retry.MaxRetries))
	}
	if ts, err := time.Parse(time.RFC3339Nano, we.Timestamp); err == nil {
		opts = append(opts, WithTimestamp(ts))
	}

	e := New(we.Code, we.Message, opts...)
	e.stack = nil
	return e, nil
}
