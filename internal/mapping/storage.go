// Package mapping translates low-level failures (storage engines, upstream
// HTTP and gRPC services, Redis, plain Go errors) into apperror values.
//
// Mapping happens once, at the boundary where the failure is first observed.
// An error that is already an *apperror.Error is never re-mapped.
package mapping

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/vietddude/faultline/internal/core/apperror"
)

// StorageError is the narrow input shape for storage-engine failures.
// VendorCode is either a symbolic class name ("unique_violation") or a
// Postgres SQLSTATE ("23505").
type StorageError struct {
	VendorCode string
	Message    string
	Detail     string
	Constraint string
	Table      string
	Column     string
}

func (e StorageError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Message, e.VendorCode, e.Detail)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.VendorCode)
}

type storageMapping struct {
	code      apperror.Code
	status    int
	template  string
	retryable bool
	suggest   func(StorageError) string
}

// Symbolic vendor classes.
const (
	UniqueViolation      = "unique_violation"
	ForeignKeyViolation  = "foreign_key_violation"
	CheckViolation       = "check_violation"
	NotNullViolation     = "not_null_violation"
	ConnectionFailure    = "connection_failure"
	ConnectionTimeout    = "connection_timeout"
	SerializationFailure = "serialization_failure"
	DeadlockDetected     = "deadlock_detected"
	QueryCanceled        = "query_canceled"
	TooManyConnections   = "too_many_connections"
	StringTooLong        = "string_data_right_truncation"
	InvalidTextRepr      = "invalid_text_representation"
)

var sqlStateClasses = map[string]string{
	"23505": UniqueViolation,
	"23503": ForeignKeyViolation,
	"23514": CheckViolation,
	"23502": NotNullViolation,
	"08000": ConnectionFailure,
	"08001": ConnectionFailure,
	"08003": ConnectionFailure,
	"08004": ConnectionFailure,
	"08006": ConnectionFailure,
	"57P01": ConnectionFailure,
	"40001": SerializationFailure,
	"40P01": DeadlockDetected,
	"57014": QueryCanceled,
	"53300": TooManyConnections,
	"22001": StringTooLong,
	"22P02": InvalidTextRepr,
}

var storageMappings = map[string]storageMapping{
	UniqueViolation: {
		code:     apperror.CodeAlreadyExists,
		status:   http.StatusConflict,
		template: "Duplicate value violates unique constraint {constraint}",
		suggest:  suggestUnique,
	},
	ForeignKeyViolation: {
		code:     apperror.CodeInvalidInput,
		status:   http.StatusBadRequest,
		template: "Referenced record does not exist (constraint {constraint})",
		suggest:  suggestReference,
	},
	CheckViolation: {
		code:     apperror.CodeValueOutOfRange,
		status:   http.StatusBadRequest,
		template: "Value violates check constraint {constraint}",
		suggest:  suggestCheck,
	},
	NotNullViolation: {
		code:     apperror.CodeMissingField,
		status:   http.StatusBadRequest,
		template: "Missing required value for column {column}",
		suggest:  suggestRequired,
	},
	ConnectionFailure: {
		code:      apperror.CodeDatabase,
		status:    http.StatusServiceUnavailable,
		template:  "Database connection failed",
		retryable: true,
		suggest:   fixed("The database is temporarily unreachable. Retry shortly."),
	},
	ConnectionTimeout: {
		code:      apperror.CodeTimeout,
		status:    http.StatusGatewayTimeout,
		template:  "Database connection timed out",
		retryable: true,
		suggest:   fixed("The database did not respond in time. Retry shortly."),
	},
	SerializationFailure: {
		code:      apperror.CodeConflict,
		status:    http.StatusConflict,
		template:  "Concurrent update conflict",
		retryable: true,
		suggest:   fixed("Another request changed the same data. Retry the operation."),
	},
	DeadlockDetected: {
		code:      apperror.CodeConflict,
		status:    http.StatusConflict,
		template:  "Concurrent update deadlock",
		retryable: true,
		suggest:   fixed("Another request changed the same data. Retry the operation."),
	},
	QueryCanceled: {
		code:      apperror.CodeTimeout,
		status:    http.StatusGatewayTimeout,
		template:  "Database statement timed out",
		retryable: true,
		suggest:   fixed("Narrow the request or retry later."),
	},
	TooManyConnections: {
		code:      apperror.CodeServiceUnavailable,
		status:    http.StatusServiceUnavailable,
		template:  "Database is at capacity",
		retryable: true,
		suggest:   fixed("The database is busy. Retry shortly."),
	},
	StringTooLong: {
		code:     apperror.CodeValueOutOfRange,
		status:   http.StatusBadRequest,
		template: "Value too long for column {column}",
		suggest:  fixed("Shorten the value and try again."),
	},
	InvalidTextRepr: {
		code:     apperror.CodeInvalidFormat,
		status:   http.StatusBadRequest,
		template: "Value has an invalid format",
		suggest:  fixed("Check the value's format, for example identifiers must be valid UUIDs."),
	},
}

const genericStorageSuggestion = "Try again later. If the problem persists, contact support."

// MapStorageError classifies a storage-engine failure by vendor code.
// Unknown codes become a non-retryable DATABASE_ERROR.
func MapStorageError(in StorageError) *apperror.Error {
	class := strings.ToLower(strings.TrimSpace(in.VendorCode))
	if c, ok := sqlStateClasses[strings.ToUpper(class)]; ok {
		class = c
	}

	m, ok := storageMappings[class]
	if !ok {
		return apperror.New(apperror.CodeDatabase, "Database operation failed",
			apperror.WithRetryable(false),
			apperror.WithCause(in),
			apperror.WithDetails(&apperror.Details{
				ConstraintName: in.Constraint,
				Table:          in.Table,
				Column:         in.Column,
				Suggestion:     genericStorageSuggestion,
				Metadata:       map[string]any{"vendorCode": in.VendorCode},
			}),
		)
	}

	details := &apperror.Details{
		ConstraintName: in.Constraint,
		Table:          in.Table,
		Column:         in.Column,
		Suggestion:     m.suggest(in),
		Metadata:       map[string]any{"vendorCode": in.VendorCode},
	}
	if details.Suggestion == "" {
		details.Suggestion = genericStorageSuggestion
	}

	return apperror.New(m.code, interpolate(m.template, in),
		apperror.WithStatus(m.status),
		apperror.WithRetryable(m.retryable),
		apperror.WithCause(in),
		apperror.WithDetails(details),
	)
}

func interpolate(template string, in StorageError) string {
	constraint := in.Constraint
	if constraint == "" {
		constraint = "(unknown)"
	}
	column := in.Column
	if column == "" {
		column = "(unknown)"
	}
	r := strings.NewReplacer("{constraint}", constraint, "{column}", column)
	return r.Replace(template)
}

func haystack(in StorageError) string {
	return strings.ToLower(strings.Join([]string{in.Detail, in.Message, in.Constraint, in.Column}, " "))
}

func fixed(s string) func(StorageError) string {
	return func(StorageError) string { return s }
}

func suggestUnique(in StorageError) string {
	h := haystack(in)
	switch {
	case strings.Contains(h, "email"):
		return "This email address is already registered. Use a different email or sign in to the existing account."
	case strings.Contains(h, "username"):
		return "This username is taken. Choose a different username."
	case strings.Contains(h, "slug"), strings.Contains(h, "name"):
		return "An item with this name already exists. Choose a different name."
	}
	return "A record with the same unique value already exists. Use a different value."
}

func suggestReference(in StorageError) string {
	h := haystack(in)
	switch {
	case strings.Contains(h, "user"):
		return "Make sure the referenced user exists before linking to it."
	case strings.Contains(h, "organization"), strings.Contains(h, "org_id"):
		return "Make sure the referenced organization exists."
	}
	return "Make sure the referenced record exists and has not been deleted."
}

func suggestCheck(in StorageError) string {
	h := haystack(in)
	switch {
	case strings.Contains(h, "email"):
		return "Provide a valid email address."
	case strings.Contains(h, "amount"), strings.Contains(h, "positive"), strings.Contains(h, "budget"):
		return "Provide a positive amount."
	case strings.Contains(h, "date"), strings.Contains(h, "time"):
		return "Make sure the start date is before the end date."
	}
	return "Make sure the value is within the allowed range."
}

func suggestRequired(in StorageError) string {
	if in.Column != "" {
		return fmt.Sprintf("Provide a value for %s.", in.Column)
	}
	return "Provide values for all required fields."
}
