package mapping

import (
	"fmt"
	"math"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/faultline/internal/core/apperror"
)

type grpcMapping struct {
	code      apperror.Code
	retryable bool
}

var grpcMappings = map[codes.Code]grpcMapping{
	codes.Canceled:           {apperror.CodeTimeout, false},
	codes.Unknown:            {apperror.CodeExternalService, true},
	codes.InvalidArgument:    {apperror.CodeInvalidInput, false},
	codes.DeadlineExceeded:   {apperror.CodeTimeout, true},
	codes.NotFound:           {apperror.CodeNotFound, false},
	codes.AlreadyExists:      {apperror.CodeAlreadyExists, false},
	codes.PermissionDenied:   {apperror.CodeForbidden, false},
	codes.ResourceExhausted:  {apperror.CodeRateLimited, true},
	codes.FailedPrecondition: {apperror.CodeConflict, false},
	codes.Aborted:            {apperror.CodeConflict, true},
	codes.OutOfRange:         {apperror.CodeValueOutOfRange, false},
	codes.Unimplemented:      {apperror.CodeExternalService, false},
	codes.Internal:           {apperror.CodeExternalService, true},
	codes.Unavailable:        {apperror.CodeServiceUnavailable, true},
	codes.DataLoss:           {apperror.CodeExternalService, false},
	codes.Unauthenticated:    {apperror.CodeUnauthorized, false},
}

// MapGRPCStatus classifies a failed gRPC call. RetryInfo and ErrorInfo
// details, when the upstream attaches them, supply the retry hint and the
// upstream code. An OK status yields nil.
func MapGRPCStatus(st *status.Status, dependency string) *apperror.Error {
	if st == nil || st.Code() == codes.OK {
		return nil
	}

	m, ok := grpcMappings[st.Code()]
	if !ok {
		m = grpcMapping{code: apperror.CodeExternalService}
	}

	details := &apperror.Details{
		Service:         dependency,
		UpstreamCode:    st.Code().String(),
		UpstreamMessage: truncate(st.Message()),
	}
	opts := []apperror.Option{apperror.WithRetryable(m.retryable)}

	for _, d := range st.Details() {
		switch info := d.(type) {
		case *errdetails.RetryInfo:
			if delay := info.GetRetryDelay(); delay != nil {
				secs := int(math.Ceil(delay.AsDuration().Seconds()))
				opts = append(opts, apperror.WithRetryAfter(secs))
			}
		case *errdetails.ErrorInfo:
			if info.GetReason() != "" {
				details.UpstreamCode = info.GetReason()
			}
		case *errdetails.BadRequest:
			for _, v := range info.GetFieldViolations() {
				details.ValidationErrors = append(details.ValidationErrors, apperror.FieldError{
					Field:   v.GetField(),
					Message: v.GetDescription(),
				})
			}
		}
	}
	opts = append(opts, apperror.WithDetails(details))

	source := "upstream service"
	if dependency != "" {
		source = dependency
	}
	return apperror.New(m.code, fmt.Sprintf("%s responded with gRPC %s", source, st.Code()), opts...)
}

// FromGRPC classifies err when it carries a gRPC status.
func FromGRPC(err error, dependency string) (*apperror.Error, bool) {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return nil, false
	}
	return MapGRPCStatus(st, dependency).With(apperror.WithCause(err)), true
}
