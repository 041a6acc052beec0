// Package clock provides the time and randomness sources used by the resilience
// components so they can be driven deterministically in tests.
package clock

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Rand yields uniformly distributed floats in [0, 1).
type Rand interface {
	Float64() float64
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// NewRand returns a goroutine-safe Rand backed by math/rand/v2.
func NewRand() Rand { return globalRand{} }

// Fixed is a Rand that always returns the same value.
type Fixed float64

// Float64 returns f.
func (f Fixed) Float64() float64 { return float64(f) }

// Fake is a manually advanced clock.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock set to t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
