package mapping

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/vietddude/faultline/internal/core/apperror"
)

func TestMapHTTPResponse_RateLimited(t *testing.T) {
	got := MapHTTPResponse(429, []byte(`{"error":{"message":"too many requests"}}`), "")

	assert.Equal(t, apperror.CodeRateLimited, got.Code())
	assert.Equal(t, 429, got.StatusCode())
	assert.True(t, got.Retryable())
	assert.Equal(t, 30, got.RetryAfterSeconds())
	assert.Equal(t, "too many requests", got.Details().UpstreamMessage)
}

func TestMapHTTPResponse_StatusClasses(t *testing.T) {
	tests := []struct {
		status     int
		code       apperror.Code
		retryable  bool
		retryAfter int
		hasRetry   bool
	}{
		{400, apperror.CodeValidation, false, 0, false},
		{401, apperror.CodeUnauthorized, false, 0, false},
		{403, apperror.CodeForbidden, false, 0, false},
		{404, apperror.CodeNotFound, false, 0, false},
		{409, apperror.CodeConflict, false, 0, false},
		{422, apperror.CodeValidation, false, 0, false},
		{500, apperror.CodeInternal, true, 60, true},
		{502, apperror.CodeExternalService, true, 60, true},
		{503, apperror.CodeServiceUnavailable, true, 60, true},
		{504, apperror.CodeTimeout, true, 60, true},
		{599, apperror.CodeInternal, true, 60, true},
	}

	for _, tt := range tests {
		got := MapHTTPResponse(tt.status, nil, "search")
		assert.Equal(t, tt.code, got.Code(), "status %d", tt.status)
		assert.Equal(t, tt.retryable, got.Retryable(), "status %d", tt.status)
		assert.Equal(t, tt.hasRetry, got.HasRetryAfter(), "status %d", tt.status)
		assert.Equal(t, tt.retryAfter, got.RetryAfterSeconds(), "status %d", tt.status)
		assert.Equal(t, "search", got.Details().Service)
	}
}

func TestMapHTTPResponse_BodyShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
		code    string
	}{
		{"json string", `"upstream exploded"`, "upstream exploded", ""},
		{"nested error", `{"error":{"message":"bad card","code":"card_declined"}, "message":"outer"}`, "bad card", "card_declined"},
		{"numeric code", `{"error":{"message":"nope","code":4012}}`, "nope", "4012"},
		{"flat message", `{"message":"flat failure","code":"E1"}`, "flat failure", "E1"},
		{"plain text", "Bad Gateway\n", "Bad Gateway", ""},
		{"unrecognised json", `{"status":"down"}`, "", ""},
		{"empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapHTTPResponse(502, []byte(tt.body), "billing").Details()
			assert.Equal(t, tt.message, got.UpstreamMessage)
			assert.Equal(t, tt.code, got.UpstreamCode)
		})
	}
}

func TestMapHTTPResponse_TruncatesLongBodies(t *testing.T) {
	got := MapHTTPResponse(500, []byte(strings.Repeat("x", 2000)), "")
	assert.Len(t, got.Details().UpstreamMessage, maxUpstreamMessage)
}

func TestMapHTTPResponse_TruncatesOnRuneBoundary(t *testing.T) {
	body := "x" + strings.Repeat("é", 1000)
	msg := MapHTTPResponse(500, []byte(body), "").Details().UpstreamMessage

	assert.True(t, utf8.ValidString(msg))
	assert.Len(t, msg, maxUpstreamMessage-1)
	assert.True(t, strings.HasPrefix(body, msg))
}

func TestFromHTTPResponse_HonoursRetryAfterHeader(t *testing.T) {
	resp := &http.Response{
		StatusCode: 503,
		Header:     http.Header{"Retry-After": []string{"7"}},
		Body:       io.NopCloser(strings.NewReader(`{"message":"maintenance"}`)),
	}
	got := FromHTTPResponse(resp, "cms")
	assert.Equal(t, apperror.CodeServiceUnavailable, got.Code())
	assert.Equal(t, 7, got.RetryAfterSeconds())
	assert.Equal(t, "maintenance", got.Details().UpstreamMessage)

	resp = &http.Response{StatusCode: 404, Header: http.Header{"Retry-After": []string{"7"}}}
	assert.False(t, FromHTTPResponse(resp, "cms").HasRetryAfter())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 12, parseRetryAfter("12", now))
	assert.Equal(t, -1, parseRetryAfter("", now))
	assert.Equal(t, -1, parseRetryAfter("-3", now))
	assert.Equal(t, -1, parseRetryAfter("soon", now))
	assert.Equal(t, 90, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
}
