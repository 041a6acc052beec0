package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/faultline/internal/core/apperror"
	"github.com/vietddude/faultline/internal/core/clock"
)

var errBoom = errors.New("boom")

var testConfig = Config{
	FailureThreshold: 0.5,
	RecoveryTimeout:  60 * time.Second,
	MonitoringWindow: 60 * time.Second,
	MinimumRequests:  10,
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func newTestBreaker(t *testing.T, opts ...Option) (*Breaker, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New("payments", testConfig, append([]Option{WithClock(fc)}, opts...)...), fc
}

func trip(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	require.Equal(t, StateOpen, b.State())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		op := succeed
		if i < 6 {
			op = fail
		}
		_ = b.Execute(ctx, op)
		assert.Equal(t, StateClosed, b.State(), "call %d", i+1)
	}
	_ = b.Execute(ctx, succeed)
	assert.Equal(t, StateOpen, b.State())

	st := b.Status()
	assert.Equal(t, 6, st.Failures)
	assert.Equal(t, 10, st.Requests)
	assert.InDelta(t, 0.6, st.FailureRate, 1e-9)
	require.NotNil(t, st.NextRetryTime)
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)
	for i := 0; i < 20; i++ {
		op := succeed
		if i%3 == 0 {
			op = fail
		}
		_ = b.Execute(context.Background(), op)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	b, fc := newTestBreaker(t)
	trip(t, b)

	fc.Advance(20 * time.Second)
	invoked := false
	err := b.Execute(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})

	assert.False(t, invoked)
	require.ErrorIs(t, err, ErrOpen)
	ae, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeServiceUnavailable, ae.Code())
	assert.Equal(t, 503, ae.StatusCode())
	assert.True(t, ae.Retryable())
	assert.Equal(t, 40, ae.RetryAfterSeconds())
	assert.Equal(t, "payments", ae.Details().Service)

	fc.Advance(39*time.Second + 500*time.Millisecond)
	ae, _ = apperror.As(b.Execute(context.Background(), succeed))
	require.NotNil(t, ae)
	assert.Equal(t, 1, ae.RetryAfterSeconds())
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	b, fc := newTestBreaker(t)
	trip(t, b)
	fc.Advance(60 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var invoked atomic.Int32
	trialDone := make(chan error, 1)

	go func() {
		trialDone <- b.Execute(context.Background(), func(context.Context) error {
			invoked.Add(1)
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	assert.Equal(t, StateHalfOpen, b.State())

	var wg sync.WaitGroup
	var rejected atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func(context.Context) error {
				invoked.Add(1)
				return nil
			})
			if errors.Is(err, ErrOpen) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(32), rejected.Load())
	assert.Equal(t, int32(1), invoked.Load())

	close(release)
	require.NoError(t, <-trialDone)

	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Zero(t, st.Failures)
	assert.Zero(t, st.Requests)
	assert.Nil(t, st.NextRetryTime)
}

func TestBreaker_ConcurrentRecoveryAdmitsOneTrial(t *testing.T) {
	b, fc := newTestBreaker(t)
	trip(t, b)
	fc.Advance(time.Minute)

	release := make(chan struct{})
	var invoked atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(context.Context) error {
				invoked.Add(1)
				<-release
				return nil
			})
		}()
	}

	require.Eventually(t, func() bool { return invoked.Load() == 1 }, time.Second, time.Millisecond)
	// Every other caller has either been rejected or is about to be.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), invoked.Load())
	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	b, fc := newTestBreaker(t)
	trip(t, b)
	firstRetry := *b.Status().NextRetryTime

	fc.Advance(61 * time.Second)
	require.ErrorIs(t, b.Execute(context.Background(), fail), errBoom)

	st := b.Status()
	assert.Equal(t, StateOpen, st.State)
	require.NotNil(t, st.NextRetryTime)
	assert.Equal(t, fc.Now().Add(60*time.Second).UTC(), *st.NextRetryTime)
	assert.True(t, st.NextRetryTime.After(firstRetry))

	assert.ErrorIs(t, b.Execute(context.Background(), succeed), ErrOpen)
}

func TestBreaker_CanceledTrialKeepsHalfOpen(t *testing.T) {
	b, fc := newTestBreaker(t)
	trip(t, b)
	fc.Advance(time.Minute)

	err := b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailurePredicate(t *testing.T) {
	b, _ := newTestBreaker(t, WithFailurePredicate(func(err error) bool {
		return err != nil && apperror.CodeOf(err) != apperror.CodeNotFound
	}))
	for i := 0; i < 20; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return apperror.NotFound("x", "1") })
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 20, b.Status().Requests)
	assert.Zero(t, b.Status().Failures)
}

func TestBreaker_LateResultsIgnoredAfterTrip(t *testing.T) {
	b, _ := newTestBreaker(t)
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	trip(t, b)
	close(release)
	<-done

	st := b.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, 10, st.Requests)
}

func TestBreaker_PanicCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(t)
	assert.Panics(t, func() {
		_ = b.Execute(context.Background(), func(context.Context) error { panic("bad") })
	})
	assert.Equal(t, 1, b.Status().Failures)
}

func TestBreaker_Reset(t *testing.T) {
	var transitions []string
	b, _ := newTestBreaker(t, OnStateChange(func(name string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))
	trip(t, b)

	b.Reset()
	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Zero(t, st.Requests)
	require.NoError(t, b.Execute(context.Background(), succeed))

	b.Reset()
	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->CLOSED"}, transitions)
}

func TestBreaker_ObserverSeesFullCycle(t *testing.T) {
	var transitions []string
	b, fc := newTestBreaker(t, OnStateChange(func(name string, from, to State) {
		assert.Equal(t, "payments", name)
		transitions = append(transitions, to.String())
	}))
	trip(t, b)
	fc.Advance(time.Minute)
	require.NoError(t, b.Execute(context.Background(), succeed))

	assert.Equal(t, []string{"OPEN", "HALF_OPEN", "CLOSED"}, transitions)
}

func TestCall(t *testing.T) {
	b, _ := newTestBreaker(t)
	got, err := Call(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestStatus_JSON(t *testing.T) {
	b, _ := newTestBreaker(t)
	trip(t, b)

	data, err := json.Marshal(b.Status())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "OPEN", decoded["state"])
	assert.Equal(t, "2026-03-01T12:01:00Z", decoded["nextRetryTime"])

	var back Status
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, StateOpen, back.State)
}

func TestNew_NormalisesConfig(t *testing.T) {
	b := New("x", Config{})
	cfg := b.Config()
	assert.Equal(t, 1, cfg.MinimumRequests)
	assert.Equal(t, 0.5, cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.RecoveryTimeout)
}
