// Package apperror defines the closed error taxonomy and the immutable
// ApplicationError value every failure is translated into.
package apperror

import "net/http"

// Code is a stable, machine-readable error category.
// The set is closed: new failure categories are added here, never invented ad hoc.
type Code string

const (
	// Authentication and authorization.
	CodeUnauthorized            Code = "UNAUTHORIZED"
	CodeForbidden               Code = "FORBIDDEN"
	CodeInvalidToken            Code = "INVALID_TOKEN"
	CodeTokenExpired            Code = "TOKEN_EXPIRED"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"

	// Input validation.
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeMissingField    Code = "MISSING_REQUIRED_FIELD"
	CodeInvalidFormat   Code = "INVALID_FORMAT"
	CodeValueOutOfRange Code = "VALUE_OUT_OF_RANGE"

	// Resource state.
	CodeNotFound       Code = "NOT_FOUND"
	CodeAlreadyExists  Code = "ALREADY_EXISTS"
	CodeConflict       Code = "CONFLICT"
	CodeResourceLocked Code = "RESOURCE_LOCKED"

	// Limits.
	CodeQuotaExceeded  Code = "QUOTA_EXCEEDED"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeBudgetExceeded Code = "BUDGET_EXCEEDED"

	// Infrastructure.
	CodeExternalService    Code = "EXTERNAL_SERVICE_ERROR"
	CodeDependency         Code = "DEPENDENCY_ERROR"
	CodeDatabase           Code = "DATABASE_ERROR"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeTimeout            Code = "TIMEOUT"
)

type binding struct {
	status  int
	message string
}

var bindings = map[Code]binding{
	CodeUnauthorized:            {http.StatusUnauthorized, "Sign-in is required to access this resource"},
	CodeForbidden:               {http.StatusForbidden, "You do not have access to this resource"},
	CodeInvalidToken:            {http.StatusUnauthorized, "The supplied access grant is invalid"},
	CodeTokenExpired:            {http.StatusUnauthorized, "The supplied access grant has expired"},
	CodeInsufficientPermissions: {http.StatusForbidden, "Insufficient permissions for this operation"},

	CodeValidation:      {http.StatusBadRequest, "The request failed validation"},
	CodeInvalidInput:    {http.StatusBadRequest, "The request contains invalid input"},
	CodeMissingField:    {http.StatusBadRequest, "A required field is missing"},
	CodeInvalidFormat:   {http.StatusBadRequest, "A field has an invalid format"},
	CodeValueOutOfRange: {http.StatusBadRequest, "A value is outside the allowed range"},

	CodeNotFound:       {http.StatusNotFound, "The requested resource was not found"},
	CodeAlreadyExists:  {http.StatusConflict, "The resource already exists"},
	CodeConflict:       {http.StatusConflict, "The request conflicts with the current state of the resource"},
	CodeResourceLocked: {http.StatusLocked, "The resource is locked"},

	CodeQuotaExceeded:  {http.StatusForbidden, "Quota exceeded"},
	CodeRateLimited:    {http.StatusTooManyRequests, "Too many requests"},
	CodeBudgetExceeded: {http.StatusForbidden, "Budget exceeded"},

	CodeExternalService:    {http.StatusBadGateway, "An external service failed"},
	CodeDependency:         {http.StatusBadGateway, "A dependency failed"},
	CodeDatabase:           {http.StatusInternalServerError, "A database error occurred"},
	CodeInternal:           {http.StatusInternalServerError, "An unexpected error occurred"},
	CodeServiceUnavailable: {http.StatusServiceUnavailable, "The service is temporarily unavailable"},
	CodeTimeout:            {http.StatusGatewayTimeout, "The operation timed out"},
}

// Codes lists every member of the taxonomy.
func Codes() []Code {
	return []Code{
		CodeUnauthorized, CodeForbidden, CodeInvalidToken, CodeTokenExpired,
		CodeInsufficientPermissions, CodeValidation, CodeInvalidInput, CodeMissingField,
		CodeInvalidFormat, CodeValueOutOfRange, CodeNotFound, CodeAlreadyExists,
		CodeConflict, CodeResourceLocked, CodeQuotaExceeded, CodeRateLimited,
		CodeBudgetExceeded, CodeExternalService, CodeDependency, CodeDatabase,
		CodeInternal, CodeServiceUnavailable, CodeTimeout,
	}
}

// Valid reports whether c is a member of the taxonomy.
func (c Code) Valid() bool {
	_, ok := bindings[c]
	return ok
}

// Status returns the canonical HTTP status for c. Unknown codes report 500.
func (c Code) Status() int {
	if b, ok := bindings[c]; ok {
		return b.status
	}
	return http.StatusInternalServerError
}

// DefaultMessage returns the generic human message for c.
func (c Code) DefaultMessage() string {
	if b, ok := bindings[c]; ok {
		return b.message
	}
	return bindings[CodeInternal].message
}

// Retryable reports whether failures of this category are inherently transient.
// DATABASE_ERROR is excluded: only connection-class database failures are
// retryable and those are marked explicitly at construction.
func (c Code) Retryable() bool {
	switch c {
	case CodeExternalService, CodeDependency, CodeServiceUnavailable, CodeTimeout, CodeRateLimited:
		return true
	}
	return false
}

// statusCodes is the inverse table; where several codes share a status the
// most general one wins.
var statusCodes = map[int]Code{
	http.StatusBadRequest:          CodeValidation,
	http.StatusUnauthorized:        CodeUnauthorized,
	http.StatusForbidden:           CodeForbidden,
	http.StatusNotFound:            CodeNotFound,
	http.StatusConflict:            CodeConflict,
	http.StatusLocked:              CodeResourceLocked,
	http.StatusTooManyRequests:     CodeRateLimited,
	http.StatusInternalServerError: CodeInternal,
	http.StatusBadGateway:          CodeExternalService,
	http.StatusServiceUnavailable:  CodeServiceUnavailable,
	http.StatusGatewayTimeout:      CodeTimeout,
}

// CodeForStatus classifies an HTTP status. Unlisted 4xx statuses map to
// VALIDATION_ERROR, everything else unlisted to INTERNAL_ERROR.
func CodeForStatus(status int) Code {
	if c, ok := statusCodes[status]; ok {
		return c
	}
	if status >= 400 && status < 500 {
		return CodeValidation
	}
	return CodeInternal
}
