package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/faultline/internal/core/clock"
	"github.com/vietddude/faultline/internal/core/correlation"
)

// SleepFunc waits for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// DecideFunc overrides the retryability decision for a failed attempt.
// The attempt budget is enforced regardless.
type DecideFunc func(err error, attempt int) bool

type options struct {
	name        string
	rand        clock.Rand
	sleep       SleepFunc
	shouldRetry DecideFunc
	onRetry     func(attempt int, err error, delay time.Duration)
	logger      *slog.Logger
}

// Option configures Do.
type Option func(*options)

// WithName labels log lines with the operation or dependency name.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithRand sets the jitter source.
func WithRand(r clock.Rand) Option { return func(o *options) { o.rand = r } }

// WithSleep replaces the wait primitive.
func WithSleep(fn SleepFunc) Option { return func(o *options) { o.sleep = fn } }

// WithShouldRetry replaces ShouldRetry's classification.
func WithShouldRetry(fn DecideFunc) Option { return func(o *options) { o.shouldRetry = fn } }

// WithOnRetry registers a hook invoked before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *options) { o.onRetry = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// Sleep is the default SleepFunc. It holds no locks and aborts with ctx.Err()
// when ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op until it succeeds, the attempt budget is spent, or the failure
// is not retryable. The error of the last attempt is returned unchanged; a
// cancelled wait returns ctx.Err().
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{
		rand:   clock.NewRand(),
		sleep:  Sleep,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	maxAttempts := cfg.attempts()

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		retry := attempt < maxAttempts
		if retry {
			if o.shouldRetry != nil {
				retry = o.shouldRetry(err, attempt)
			} else {
				retry = ShouldRetry(err, attempt, maxAttempts)
			}
		}
		if !retry {
			if attempt == maxAttempts && maxAttempts > 1 {
				o.logger.Warn("Retries exhausted",
					"operation", o.name,
					"attempts", attempt,
					"correlation_id", correlation.FromContext(ctx),
					"error", err)
			}
			return zero, err
		}

		delay := ComputeDelay(attempt, cfg, o.rand)
		o.logger.Debug("Retrying",
			"operation", o.name,
			"attempt", attempt,
			"delay", delay,
			"correlation_id", correlation.FromContext(ctx),
			"error", err)
		if o.onRetry != nil {
			o.onRetry(attempt, err, delay)
		}

		if err := o.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// Execute is Do for operations without a result.
func Execute(ctx context.Context, cfg Config, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}
