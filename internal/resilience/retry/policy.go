// Package retry decides whether a failed operation should run again and how
// long to wait first.
package retry

import (
	"math"
	"strings"
	"time"

	"github.com/vietddude/faultline/internal/core/apperror"
	"github.com/vietddude/faultline/internal/core/clock"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	JitterPercent     float64       `yaml:"jitter_percent"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxAttempts:       3,
	BaseDelay:         1 * time.Second,
	MaxDelay:          30 * time.Second,
	BackoffMultiplier: 2.0,
	JitterPercent:     10,
}

// attempts returns the effective attempt budget. Anything below one still
// runs the operation once.
func (c Config) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// ComputeDelay returns the wait before the attempt following attempt (1-based).
// The exponential value is capped at MaxDelay, then perturbed by a uniform
// ±JitterPercent drawn from r, and never negative. A nil r disables jitter.
func ComputeDelay(attempt int, cfg Config, r clock.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := cfg.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(cfg.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	jitter := math.Min(math.Max(cfg.JitterPercent, 0), 100) / 100
	if jitter > 0 && r != nil {
		delay += delay * jitter * (2*r.Float64() - 1)
	}
	if delay < 0 || math.IsNaN(delay) {
		return 0
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

var (
	retryableTerms = []string{
		"timeout", "timed out", "connection", "unavailable",
		"rate limit", "too many requests", "temporarily",
	}
	nonRetryableTerms = []string{
		"validation", "unauthorized", "forbidden", "not found",
	}
)

// IsRetryableMessage applies the keyword heuristic used for errors that carry
// no classification. A non-retryable term always wins.
func IsRetryableMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, t := range nonRetryableTerms {
		if strings.Contains(lower, t) {
			return false
		}
	}
	for _, t := range retryableTerms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// ShouldRetry reports whether err after attempt (1-based) warrants another try.
func ShouldRetry(err error, attempt, maxAttempts int) bool {
	if err == nil || attempt >= maxAttempts {
		return false
	}
	if ae, ok := apperror.As(err); ok {
		return ae.Retryable()
	}
	return IsRetryableMessage(err.Error())
}
