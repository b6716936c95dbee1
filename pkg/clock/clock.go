// Package clock provides a deterministic clock abstraction.
//
// GUARDRAIL: Core logic packages MUST NOT call time.Now() directly.
// Inject a Clock so balance cutoffs, session expiry, and audit timestamps
// are testable with a fixed time.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Real returns the actual system time.
// Use only at application entry points (cmd/*).
type Real struct{}

// Now returns the current system time in UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always returns the same time. Use in tests.
type Fixed struct {
	T time.Time
}

// Now returns the fixed time.
func (c Fixed) Now() time.Time {
	return c.T
}

// Func wraps a function as a Clock. Useful for incrementing test clocks.
type Func func() time.Time

// Now calls the wrapped function.
func (f Func) Now() time.Time {
	return f()
}

// Manual is a settable clock for tests that need to move time.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

// NewManual returns a Manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{t: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}

// NewReal returns a Clock backed by the system time.
func NewReal() Clock {
	return Real{}
}

// NewFixed returns a Clock that always returns t.
func NewFixed(t time.Time) Clock {
	return Fixed{T: t}
}

// Verify interface compliance at compile time.
var (
	_ Clock = Real{}
	_ Clock = Fixed{}
	_ Clock = (*Manual)(nil)
	_ Clock = Func(nil)
)
