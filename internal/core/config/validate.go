package config

import (
	"fmt"
	"strings"

	"github.com/vietddude/faultline/internal/core/apperror"
	"github.com/vietddude/faultline/internal/resilience/breaker"
	"github.com/vietddude/faultline/internal/resilience/retry"
)

var knownKinds = map[string]bool{
	KindHTTP:     true,
	KindPostgres: true,
	KindRedis:    true,
	KindGRPC:     true,
}

// Validate reports every invalid setting as a VALIDATION_ERROR.
func (c *AppConfig) Validate() error {
	var errs []apperror.FieldError
	add := func(field, msg string) {
		errs = append(errs, apperror.FieldError{Field: field, Message: msg, Code: string(apperror.CodeInvalidInput)})
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port", "must be between 0 and 65535")
	}
	if c.Profile != ProfileProduction && c.Profile != ProfileDevelopment {
		add("profile", fmt.Sprintf("must be %q or %q", ProfileProduction, ProfileDevelopment))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		add("logging.format", "must be text or json")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "must be debug, info, warn or error")
	}

	validateRetry("retry", c.Retry, add)
	validateBreaker("breaker", c.Breaker, add)

	seen := make(map[string]bool)
	for i, d := range c.Dependencies {
		prefix := fmt.Sprintf("dependencies[%d]", i)
		if d.Name == "" {
			add(prefix+".name", "is required")
		} else if seen[d.Name] {
			add(prefix+".name", fmt.Sprintf("duplicate dependency %q", d.Name))
		}
		seen[d.Name] = true

		if !knownKinds[d.Kind] {
			add(prefix+".kind", fmt.Sprintf("unknown kind %q", d.Kind))
		}
		if d.URL == "" {
			add(prefix+".url", "is required")
		}
		if d.Timeout < 0 {
			add(prefix+".timeout", "must not be negative")
		}
		if d.ProbeInterval < 0 {
			add(prefix+".probe_interval", "must not be negative")
		}
		if d.Retry != nil {
			validateRetry(prefix+".retry", mergeRetry(*d.Retry, c.Retry), add)
		}
		if d.Breaker != nil {
			validateBreaker(prefix+".breaker", mergeBreaker(*d.Breaker, c.Breaker), add)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Field + " " + e.Message
	}
	return apperror.New(apperror.CodeValidation,
		"invalid configuration: "+strings.Join(parts, "; "),
		apperror.WithDetails(&apperror.Details{ValidationErrors: errs}))
}

func validateRetry(prefix string, r retry.Config, add func(field, msg string)) {
	if r.MaxAttempts < 1 {
		add(prefix+".max_attempts", "must be at least 1")
	}
	if r.BaseDelay < 0 || r.MaxDelay < 0 {
		add(prefix+".base_delay", "delays must not be negative")
	}
	if r.BackoffMultiplier < 1 {
		add(prefix+".backoff_multiplier", "must be at least 1")
	}
	if r.JitterPercent < 0 || r.JitterPercent > 100 {
		add(prefix+".jitter_percent", "must be between 0 and 100")
	}
}

func validateBreaker(prefix string, b breaker.Config, add func(field, msg string)) {
	if b.FailureThreshold <= 0 || b.FailureThreshold > 1 {
		add(prefix+".failure_threshold", "must be in (0, 1]")
	}
	if b.RecoveryTimeout <= 0 {
		add(prefix+".recovery_timeout", "must be positive")
	}
	if b.MinimumRequests < 1 {
		add(prefix+".minimum_requests", "must be at least 1")
	}
}
