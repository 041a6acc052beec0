package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/faultline/internal/core/apperror"
	"github.com/vietddude/faultline/internal/core/clock"
)

func TestComputeDelay_Exponential(t *testing.T) {
	cfg := Config{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, ComputeDelay(i+1, cfg, nil), "attempt %d", i+1)
	}
	assert.Equal(t, 100*time.Millisecond, ComputeDelay(0, cfg, nil))
}

func TestComputeDelay_JitterBounds(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 8 * time.Second, BackoffMultiplier: 2, JitterPercent: 10}

	for attempt := 1; attempt <= 6; attempt++ {
		capped := ComputeDelay(attempt, cfg, nil)
		low := ComputeDelay(attempt, cfg, clock.Fixed(0))
		high := ComputeDelay(attempt, cfg, clock.Fixed(0.999999))
		mid := ComputeDelay(attempt, cfg, clock.Fixed(0.5))

		assert.InDelta(t, float64(capped)*0.9, float64(low), 1, "attempt %d", attempt)
		assert.LessOrEqual(t, high, capped+capped/10)
		assert.GreaterOrEqual(t, high, low)
		assert.Equal(t, capped, mid)
	}

	r := clock.NewRand()
	for i := 0; i < 1000; i++ {
		d := ComputeDelay(3, cfg, r)
		assert.GreaterOrEqual(t, d, 3600*time.Millisecond)
		assert.LessOrEqual(t, d, 4400*time.Millisecond)
	}
}

func TestComputeDelay_MonotonicWithoutJitter(t *testing.T) {
	cfg := Config{BaseDelay: 50 * time.Millisecond, MaxDelay: 3 * time.Second, BackoffMultiplier: 1.7}
	prev := time.Duration(0)
	for attempt := 1; attempt < 40; attempt++ {
		d := ComputeDelay(attempt, cfg, nil)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, cfg.MaxDelay)
		prev = d
	}
}

func TestComputeDelay_FullJitterNeverNegative(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: time.Second, BackoffMultiplier: 2, JitterPercent: 250}
	assert.Equal(t, time.Duration(0), ComputeDelay(1, cfg, clock.Fixed(0)))
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil", nil, 1, false},
		{"retryable app error", apperror.New(apperror.CodeServiceUnavailable, ""), 1, true},
		{"non-retryable app error", apperror.NotFound("user", "1"), 1, false},
		{"overridden retryable", apperror.New(apperror.CodeInternal, "", apperror.WithRetryable(true)), 1, true},
		{"budget spent", apperror.New(apperror.CodeTimeout, ""), 3, false},
		{"budget exceeded", apperror.New(apperror.CodeTimeout, ""), 4, false},
		{"timeout message", errors.New("dial tcp: i/o timeout"), 1, true},
		{"connection message", errors.New("connection reset by peer"), 2, true},
		{"rate limit message", errors.New("Rate Limit reached"), 1, true},
		{"exclusion wins", errors.New("validation failed: connection field"), 1, false},
		{"not found with timeout", errors.New("not found after timeout"), 1, false},
		{"unknown message", errors.New("boom"), 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.err, tt.attempt, 3))
		})
	}
}

func noSleep(delays *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	calls := 0
	cfg := Config{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2}

	got, err := Do(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", apperror.New(apperror.CodeTimeout, "")
		}
		return "ok", nil
	}, WithSleep(noSleep(&delays)), WithRand(clock.Fixed(0.5)))

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestDo_PropagatesOriginalErrorOnFinalAttempt(t *testing.T) {
	var delays []time.Duration
	sentinel := apperror.New(apperror.CodeServiceUnavailable, "still down")
	calls := 0

	_, err := Do(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	}, WithSleep(noSleep(&delays)))

	assert.Same(t, sentinel, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	var delays []time.Duration
	calls := 0
	want := apperror.Forbidden("")

	err := Execute(context.Background(), DefaultConfig, func(context.Context) error {
		calls++
		return want
	}, WithSleep(noSleep(&delays)))

	assert.Same(t, want, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestDo_ShouldRetryOverride(t *testing.T) {
	var delays []time.Duration
	calls := 0
	var seen []int

	err := Execute(context.Background(), Config{MaxAttempts: 3}, func(context.Context) error {
		calls++
		return apperror.NotFound("job", "7")
	}, WithSleep(noSleep(&delays)), WithShouldRetry(func(err error, attempt int) bool {
		seen = append(seen, attempt)
		return true
	}))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Execute(context.Background(), Config{}, func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	cfg := Config{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, BackoffMultiplier: 2}

	done := make(chan error, 1)
	go func() {
		done <- Execute(ctx, cfg, func(context.Context) error {
			calls.Add(1)
			return apperror.New(apperror.CodeTimeout, "")
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry wait was not cancelled")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_OnRetryHook(t *testing.T) {
	var attempts []int
	calls := 0
	_, err := Do(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Nanosecond}, func(context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("service unavailable")
		}
		return true, nil
	}, WithOnRetry(func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, attempts)
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}
