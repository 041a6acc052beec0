package mapping

import (
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/faultline/internal/core/apperror"
)

// Server reply prefixes that indicate a transient condition.
var transientRedisPrefixes = []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "READONLY"}

// FromRedis classifies errors returned by go-redis. The boolean is false when
// err is not recognisably a Redis client or server error.
func FromRedis(err error, dependency string) (*apperror.Error, bool) {
	if err == nil {
		return nil, false
	}
	if dependency == "" {
		dependency = "redis"
	}

	if errors.Is(err, redis.Nil) {
		return apperror.New(apperror.CodeNotFound, "key not found", apperror.WithCause(err)), true
	}

	if errors.Is(err, redis.ErrClosed) || strings.Contains(err.Error(), "pool timeout") {
		return apperror.Dependency(dependency, "redis connection pool unavailable").
			With(apperror.WithCause(err), apperror.WithRetryable(true)), true
	}

	var rerr redis.Error
	if errors.As(err, &rerr) {
		msg := rerr.Error()
		for _, p := range transientRedisPrefixes {
			if strings.HasPrefix(msg, p) {
				return apperror.New(apperror.CodeServiceUnavailable, dependency+" is temporarily unavailable",
					apperror.WithRetryAfter(1),
					apperror.WithCause(err),
					apperror.WithDetails(&apperror.Details{Service: dependency, UpstreamCode: p}),
				), true
			}
		}
		return apperror.Dependency(dependency, dependency+" rejected the command").
			With(apperror.WithCause(err), apperror.WithRetryable(false),
				apperror.WithDetails(&apperror.Details{Service: dependency, UpstreamMessage: truncate(msg)})), true
	}

	return nil, false
}
