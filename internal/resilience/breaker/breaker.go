// Package breaker implements a per-dependency circuit breaker.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/vietddude/faultline/internal/core/apperror"
	"github.com/vietddude/faultline/internal/core/clock"
)

// State represents the breaker state. The numeric values are exported as
// the faultline_breaker_state gauge.
type State int

const (
	StateClosed   State = iota // Calls pass through and are counted
	StateHalfOpen              // One trial call is allowed through
	StateOpen                  // Calls are rejected without running
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "CLOSED":
		*s = StateClosed
	case "HALF_OPEN":
		*s = StateHalfOpen
	case "OPEN":
		*s = StateOpen
	default:
		return fmt.Errorf("unknown breaker state %q", b)
	}
	return nil
}

// Config defines when the breaker trips and how long it stays open.
type Config struct {
	FailureThreshold float64       `yaml:"failure_threshold"` // ratio in (0, 1]
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	MonitoringWindow time.Duration `yaml:"monitoring_window"` // informational, counters are not windowed
	MinimumRequests  int           `yaml:"minimum_requests"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	FailureThreshold: 0.5,
	RecoveryTimeout:  60 * time.Second,
	MonitoringWindow: 60 * time.Second,
	MinimumRequests:  10,
}

// Status is a read-only snapshot of a breaker.
type Status struct {
	Name          string     `json:"name"`
	State         State      `json:"state"`
	Failures      int        `json:"failures"`
	Requests      int        `json:"requests"`
	FailureRate   float64    `json:"failureRate"`
	NextRetryTime *time.Time `json:"nextRetryTime,omitempty"`
}

// ErrOpen is the cause of every rejection issued by a breaker.
var ErrOpen = errors.New("circuit breaker is open")

// StateChangeFunc observes transitions. It runs outside the breaker lock.
type StateChangeFunc func(name string, from, to State)

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option { return func(b *Breaker) { b.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(b *Breaker) { b.logger = l } }

// OnStateChange registers an observer. May be given more than once.
func OnStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.observers = append(b.observers, fn) }
}

// WithFailurePredicate decides which errors count as dependency failures.
// Errors for which it returns false count as successes. context.Canceled is
// never counted either way.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(b *Breaker) { b.isFailure = fn }
}

// Breaker guards calls to one dependency.
type Breaker struct {
	name      string
	cfg       Config
	clock     clock.Clock
	logger    *slog.Logger
	isFailure func(error) bool
	observers []StateChangeFunc

	mu         sync.Mutex
	state      State
	failures   int
	requests   int
	nextRetry  time.Time
	trialBusy  bool
	generation uint64
}

type transition struct{ from, to State }

// New creates a closed breaker.
func New(name string, cfg Config, opts ...Option) *Breaker {
	if cfg.MinimumRequests < 1 {
		cfg.MinimumRequests = 1
	}
	if cfg.FailureThreshold <= 0 || cfg.FailureThreshold > 1 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig.RecoveryTimeout
	}

	b := &Breaker{
		name:      name,
		cfg:       cfg,
		clock:     clock.Real{},
		logger:    slog.Default(),
		isFailure: func(err error) bool { return err != nil },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// Config returns the effective configuration.
func (b *Breaker) Config() Config { return b.cfg }

// Execute runs op unless the breaker is open. A rejection is a
// SERVICE_UNAVAILABLE *apperror.Error wrapping ErrOpen; op is not invoked.
// Otherwise op's error is returned unchanged.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}

	finished := false
	defer func() {
		if !finished {
			// op panicked
			b.record(gen, true, false)
		}
	}()

	err = op(ctx)
	finished = true

	ignored := errors.Is(err, context.Canceled)
	b.record(gen, !ignored && b.isFailure(err), ignored)
	return err
}

// Call is Execute for operations with a result.
func Call[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = op(ctx)
		return err
	})
	return result, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	now := b.clock.Now()

	var changes []transition
	switch b.state {
	case StateOpen:
		if now.Before(b.nextRetry) {
			rej := b.rejection(now)
			b.mu.Unlock()
			return 0, rej
		}
		changes = append(changes, b.transitionLocked(StateHalfOpen))
		b.trialBusy = true
	case StateHalfOpen:
		if b.trialBusy {
			rej := b.rejection(now)
			b.mu.Unlock()
			return 0, rej
		}
		b.trialBusy = true
	}
	gen := b.generation
	b.mu.Unlock()

	b.notify(changes)
	return gen, nil
}

// record applies the outcome of a call admitted under generation gen.
// Outcomes from calls admitted before the last transition are dropped.
func (b *Breaker) record(gen uint64, failed, ignored bool) {
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return
	}

	var changes []transition
	switch b.state {
	case StateClosed:
		if !ignored {
			b.requests++
			if failed {
				b.failures++
			}
			if b.requests >= b.cfg.MinimumRequests && b.failureRate() >= b.cfg.FailureThreshold {
				changes = append(changes, b.openLocked())
			}
		}
	case StateHalfOpen:
		b.trialBusy = false
		switch {
		case ignored:
		case failed:
			changes = append(changes, b.openLocked())
		default:
			changes = append(changes, b.closeLocked())
		}
	}
	b.mu.Unlock()

	b.notify(changes)
}

func (b *Breaker) openLocked() transition {
	b.nextRetry = b.clock.Now().Add(b.cfg.RecoveryTimeout)
	return b.transitionLocked(StateOpen)
}

func (b *Breaker) closeLocked() transition {
	b.failures = 0
	b.requests = 0
	b.nextRetry = time.Time{}
	return b.transitionLocked(StateClosed)
}

func (b *Breaker) transitionLocked(to State) transition {
	t := transition{from: b.state, to: to}
	b.state = to
	b.generation++
	return t
}

func (b *Breaker) failureRate() float64 {
	if b.requests == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.requests)
}

func (b *Breaker) rejection(now time.Time) *apperror.Error {
	secs := int(math.Ceil(b.nextRetry.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return apperror.New(apperror.CodeServiceUnavailable,
		fmt.Sprintf("%s is unavailable: circuit breaker is open", b.name),
		apperror.WithRetryAfter(secs),
		apperror.WithCause(ErrOpen),
		apperror.WithDetails(&apperror.Details{
			Service:    b.name,
			Suggestion: fmt.Sprintf("Retry after %d seconds.", secs),
		}),
	)
}

func (b *Breaker) notify(changes []transition) {
	for _, c := range changes {
		if c.from == c.to {
			continue
		}
		switch c.to {
		case StateOpen:
			b.logger.Warn("Circuit breaker opened", "dependency", b.name, "from", c.from.String())
		case StateClosed:
			b.logger.Info("Circuit breaker closed", "dependency", b.name, "from", c.from.String())
		default:
			b.logger.Info("Circuit breaker half-open", "dependency", b.name)
		}
		for _, fn := range b.observers {
			fn(b.name, c.from, c.to)
		}
	}
}

// Status returns a snapshot. It never changes state.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		Requests:    b.requests,
		FailureRate: b.failureRate(),
	}
	if !b.nextRetry.IsZero() {
		t := b.nextRetry.UTC()
		s.NextRetryTime = &t
	}
	return s
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed with zeroed counters. In-flight calls
// admitted before the reset are not counted.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.trialBusy = false
	t := b.closeLocked()
	b.mu.Unlock()

	b.notify([]transition{t})
}
