package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/faultline/internal/core/apperror"
	"github.com/vietddude/faultline/internal/core/clock"
	"github.com/vietddude/faultline/internal/core/correlation"
	"github.com/vietddude/faultline/internal/mapping"
	"github.com/vietddude/faultline/internal/resilience/breaker"
	"github.com/vietddude/faultline/internal/resilience/metrics"
	"github.com/vietddude/faultline/internal/resilience/retry"
)

// Guard protects calls to one dependency: failures are classified at the
// boundary, retried per policy, and counted by the dependency's breaker.
type Guard struct {
	name    string
	breaker *breaker.Breaker
	retry   retry.Config
	log     *slog.Logger
	rand    clock.Rand
	sleep   retry.SleepFunc
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardLogger sets the logger.
func WithGuardLogger(l *slog.Logger) GuardOption { return func(g *Guard) { g.log = l } }

// WithGuardRand sets the jitter source.
func WithGuardRand(r clock.Rand) GuardOption { return func(g *Guard) { g.rand = r } }

// WithGuardSleep replaces the wait between attempts.
func WithGuardSleep(fn retry.SleepFunc) GuardOption { return func(g *Guard) { g.sleep = fn } }

// NewGuard creates a guard around b.
func NewGuard(b *breaker.Breaker, cfg retry.Config, opts ...GuardOption) *Guard {
	g := &Guard{
		name:    b.Name(),
		breaker: b,
		retry:   cfg,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the dependency name.
func (g *Guard) Name() string { return g.name }

// Breaker returns the dependency's breaker.
func (g *Guard) Breaker() *breaker.Breaker { return g.breaker }

// Call runs op under the guard. Any error returned is an *apperror.Error.
func (g *Guard) Call(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Do(ctx, g, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do runs op under g and returns its result. Each attempt passes through the
// breaker; an open breaker ends the retry loop immediately. The returned
// error is always an *apperror.Error carrying the context's correlation id.
func Do[T any](ctx context.Context, g *Guard, op func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	attempts := 0

	attempt := func(ctx context.Context) (T, error) {
		attempts++
		return breaker.Call(ctx, g.breaker, func(ctx context.Context) (T, error) {
			v, err := op(ctx)
			if err != nil {
				return v, mapping.FromError(err, g.name)
			}
			return v, nil
		})
	}

	opts := []retry.Option{
		retry.WithName(g.name),
		retry.WithLogger(g.log),
		retry.WithShouldRetry(func(err error, n int) bool {
			if errors.Is(err, breaker.ErrOpen) {
				return false
			}
			return retry.ShouldRetry(err, n, g.retry.MaxAttempts)
		}),
		retry.WithOnRetry(func(int, error, time.Duration) {
			metrics.RetryAttemptsTotal.WithLabelValues(g.name, metrics.OutcomeRetried).Inc()
		}),
	}
	if g.rand != nil {
		opts = append(opts, retry.WithRand(g.rand))
	}
	if g.sleep != nil {
		opts = append(opts, retry.WithSleep(g.sleep))
	}

	v, err := retry.Do(ctx, g.retry, attempt, opts...)
	metrics.CallDuration.WithLabelValues(g.name).Observe(time.Since(start).Seconds())

	if err == nil {
		if attempts > 1 {
			metrics.RetryAttemptsTotal.WithLabelValues(g.name, metrics.OutcomeSucceeded).Inc()
		}
		return v, nil
	}

	ae := mapping.FromError(err, g.name)
	if id := correlation.FromContext(ctx); id != "" && ae.CorrelationID() == "" {
		ae = ae.With(apperror.WithCorrelationID(id))
	}

	metrics.ErrorsTotal.WithLabelValues(string(ae.Code())).Inc()
	if errors.Is(ae, breaker.ErrOpen) {
		metrics.BreakerRejectionsTotal.WithLabelValues(g.name).Inc()
	} else if attempts > 1 {
		metrics.RetryAttemptsTotal.WithLabelValues(g.name, metrics.OutcomeExhausted).Inc()
	}
	return v, ae
}

// IsDependencyFailure decides which errors count against a breaker. Caller
// mistakes (4xx other than 408 and 429) say nothing about dependency health.
func IsDependencyFailure(err error) bool {
	if err == nil {
		return false
	}
	ae, ok := apperror.As(err)
	if !ok {
		return true
	}
	status := ae.StatusCode()
	if status >= 400 && status < 500 {
		return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
	}
	return true
}
