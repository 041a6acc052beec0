package mapping

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vietddude/faultline/internal/core/apperror"
)

const (
	rateLimitRetryAfter   = 30
	serverErrorRetryAfter = 60

	maxUpstreamMessage = 512
	maxBodyRead        = 64 << 10
)

// MapHTTPResponse classifies an upstream HTTP failure. body may be empty, a
// JSON string, {"error":{"message","code"}}, {"message"} or plain text.
func MapHTTPResponse(status int, body []byte, dependency string) *apperror.Error {
	return mapHTTP(status, body, dependency, -1)
}

// FromHTTPResponse reads resp's body and classifies it, preferring an
// upstream Retry-After header (in seconds or HTTP-date form) over the defaults.
// The body is consumed but not closed.
func FromHTTPResponse(resp *http.Response, dependency string) *apperror.Error {
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
	}
	return mapHTTP(resp.StatusCode, body, dependency, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
}

func mapHTTP(status int, body []byte, dependency string, headerRetryAfter int) *apperror.Error {
	code := apperror.CodeForStatus(status)
	upstreamMessage, upstreamCode := extractUpstream(body)

	retryable := status >= 500 || status == http.StatusTooManyRequests
	retryAfter := -1
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter = rateLimitRetryAfter
	case status >= 500:
		retryAfter = serverErrorRetryAfter
	}
	if headerRetryAfter >= 0 && retryable {
		retryAfter = headerRetryAfter
	}

	source := "upstream service"
	if dependency != "" {
		source = dependency
	}
	message := fmt.Sprintf("%s responded with HTTP %d", source, status)

	return apperror.New(code, message,
		apperror.WithRetryable(retryable),
		apperror.WithRetryAfter(retryAfter),
		apperror.WithDetails(&apperror.Details{
			Service:         dependency,
			UpstreamCode:    upstreamCode,
			UpstreamMessage: upstreamMessage,
		}),
	)
}

// extractUpstream checks, in order: a JSON string body, {"error":{...}},
// {"message":...}, then raw text.
func extractUpstream(body []byte) (message, code string) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", ""
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return truncate(trimmed), ""
	}

	switch v := decoded.(type) {
	case string:
		return truncate(v), ""
	case map[string]any:
		if inner, ok := v["error"].(map[string]any); ok {
			return truncate(stringify(inner["message"])), stringify(inner["code"])
		}
		if msg, ok := v["message"]; ok {
			return truncate(stringify(msg)), stringify(v["code"])
		}
	}
	return "", ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func truncate(s string) string {
	if len(s) <= maxUpstreamMessage {
		return s
	}
	cut := maxUpstreamMessage
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// parseRetryAfter returns seconds, or -1 when the header is absent or invalid.
func parseRetryAfter(v string, now time.Time) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return -1
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return -1
		}
		return secs
	}
	if t, err := http.ParseTime(v); err == nil {
		secs := int(t.Sub(now).Seconds() + 0.999)
		if secs < 0 {
			secs = 0
		}
		return secs
	}
	return -1
}
