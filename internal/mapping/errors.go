package mapping

import (
	"context"
	"errors"
	"net"

	"github.com/vietddude/faultline/internal/core/apperror"
)

// FromError is the entry point for arbitrary Go errors. Existing
// ApplicationErrors pass through untouched; context, driver and network
// errors are classified; anything else becomes INTERNAL_ERROR with the
// original error kept as the cause.
func FromError(err error, dependency string) *apperror.Error {
	if err == nil {
		return nil
	}
	if ae, ok := apperror.As(err); ok {
		return ae
	}

	op := dependency
	if op == "" {
		op = "operation"
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperror.Timeout(op).With(apperror.WithCause(err))
	case errors.Is(err, context.Canceled):
		return apperror.New(apperror.CodeServiceUnavailable, "request was canceled",
			apperror.WithRetryable(false), apperror.WithCause(err))
	}

	if ae, ok := FromPostgres(err); ok {
		return ae
	}
	if ae, ok := FromRedis(err, dependency); ok {
		return ae
	}
	if ae, ok := FromGRPC(err, dependency); ok {
		return ae
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return apperror.Timeout(op).With(apperror.WithCause(err))
		}
		return apperror.Dependency(op, "").With(apperror.WithCause(err))
	}

	return apperror.Internal(err)
}
