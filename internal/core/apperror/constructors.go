package apperror

import (
	"fmt"
	"time"
)

// Validation reports one or more failed field rules.
func Validation(errs ...FieldError) *Error {
	d := &Details{
		ValidationErrors: errs,
		Suggestion:       "Check the highlighted fields and try again.",
	}
	if len(errs) == 1 {
		d.Field = errs[0].Field
	}
	return New(CodeValidation, "", WithDetails(d))
}

func InvalidInput(field, message string) *Error {
	return New(CodeInvalidInput, message, WithDetails(&Details{Field: field}))
}

func MissingField(field string) *Error {
	return New(CodeMissingField, fmt.Sprintf("Missing required field %q", field), WithDetails(&Details{
		Field:      field,
		Suggestion: fmt.Sprintf("Provide a value for %s.", field),
	}))
}

func InvalidFormat(field, expected string) *Error {
	return New(CodeInvalidFormat, fmt.Sprintf("Field %q has an invalid format", field), WithDetails(&Details{
		Field:      field,
		Constraint: expected,
		Suggestion: fmt.Sprintf("Use the format %s.", expected),
	}))
}

func OutOfRange(field string, value any, constraint string) *Error {
	return New(CodeValueOutOfRange, fmt.Sprintf("Field %q is out of range", field), WithDetails(&Details{
		Field:      field,
		Value:      value,
		Constraint: constraint,
	}))
}

// NotFound reports a missing resource by kind and id.
func NotFound(resource, id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s %q was not found", resource, id), WithDetails(&Details{
		Resource: resource,
		ID:       id,
	}))
}

func AlreadyExists(resource, id string) *Error {
	return New(CodeAlreadyExists, fmt.Sprintf("%s %q already exists", resource, id), WithDetails(&Details{
		Resource: resource,
		ID:       id,
	}))
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

func Locked(resource, id string) *Error {
	return New(CodeResourceLocked, fmt.Sprintf("%s %q is locked", resource, id), WithDetails(&Details{
		Resource: resource,
		ID:       id,
	}))
}

func Unauthorized(message string) *Error { return New(CodeUnauthorized, message) }
func InvalidToken(message string) *Error { return New(CodeInvalidToken, message) }
func TokenExpired(message string) *Error { return New(CodeTokenExpired, message) }
func Forbidden(message string) *Error { return New(CodeForbidden, message) }
func Internal(cause error) *Error { return New(CodeInternal, "", WithCause(cause)) }
func Timeout(operation string) *Error { return New(CodeTimeout, fmt.Sprintf("%s timed out", operation)) }

// InsufficientPermissions names the permission the caller lacks.
func InsufficientPermissions(required string) *Error {
	return New(CodeInsufficientPermissions, "", WithDetails(&Details{
		Constraint: required,
		Suggestion: "Ask an administrator to grant " + required + ".",
	}))
}

// RateLimited reports a throttled caller. retryAfter is derived from reset.
func RateLimited(limit int, window string, remaining int, reset time.Time) *Error {
	seconds := int(time.Until(reset).Seconds() + 0.999)
	if seconds < 1 {
		seconds = 1
	}
	r := reset.UTC()
	return New(CodeRateLimited, "", WithRetryAfter(seconds), WithDetails(&Details{
		RateLimitValue: limit,
		Window:         window,
		Remaining:      &remaining,
		ResetTime:      &r,
	}))
}

// QuotaExceeded reports consumption beyond a hard quota for the period.
func QuotaExceeded(usage, limit float64, period string) *Error {
	return New(CodeQuotaExceeded, "", WithDetails(usageDetails(usage, limit, period)))
}

// BudgetExceeded reports spend beyond a budget for the period.
func BudgetExceeded(usage, limit float64, period string) *Error {
	return New(CodeBudgetExceeded, "", WithDetails(usageDetails(usage, limit, period)))
}

func usageDetails(usage, limit float64, period string) *Details {
	d := &Details{CurrentUsage: usage, UsageLimit: limit, Period: period}
	if usage > limit {
		d.Overage = usage - limit
	}
	return d
}

// ExternalService reports an upstream failure attributed to service.
func ExternalService(service, upstreamCode, upstreamMessage string) *Error {
	return New(CodeExternalService, fmt.Sprintf("%s request failed", service), WithDetails(&Details{
		Service:         service,
		UpstreamCode:    upstreamCode,
		UpstreamMessage: upstreamMessage,
	}))
}

// Dependency reports a failure of a named internal dependency.
func Dependency(name, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("dependency %s failed", name)
	}
	return New(CodeDependency, message, WithDetails(&Details{Service: name}))
}

// Database reports a storage failure. Only connection-class failures are retryable.
func Database(cause error, connectionClass bool) *Error {
	return New(CodeDatabase, "", WithCause(cause), WithRetryable(connectionClass))
}

// ServiceUnavailable reports temporary unavailability with a retry hint.
func ServiceUnavailable(retryAfterSeconds int) *Error {
	if retryAfterSeconds <= 0 {
		retryAfterSeconds = DefaultRetryAfterSeconds
	}
	return New(CodeServiceUnavailable, "", WithRetryAfter(retryAfterSeconds))
}
