// Package clock injects "now" into the queue engine so tests can pin
// and advance time. All times are UTC; the engine stores millisecond
// precision.
package clock

import (
	"sync"
	"time"
)

// Clock yields the current instant.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Func adapts a plain func, matching the Now-field style used across
// the HTTP clients.
type Func func() time.Time

func (f Func) Now() time.Time { return f().UTC() }

// Mock is a settable clock for tests.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock starts a mock clock at the given instant.
func NewMock(at time.Time) *Mock {
	return &Mock{now: at.UTC()}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward (or backward with a negative d).
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set pins the clock to an absolute instant.
func (m *Mock) Set(at time.Time) {
	m.mu.Lock()
	m.now = at.UTC()
	m.mu.Unlock()
}

var _ Clock = System{}
var _ Clock = (*Mock)(nil)
var _ Clock = Func(nil)
