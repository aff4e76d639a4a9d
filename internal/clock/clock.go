// Package clock supplies monotonic timestamps for the frame loop and timers.
package clock

import (
	"sync"
	"time"
)

// Clock returns a monotonic offset from an arbitrary, fixed origin.
// Only differences between two readings are meaningful.
type Clock interface {
	Now() time.Duration
}

type systemClock struct {
	origin time.Time
}

// System returns a Clock backed by the runtime's monotonic clock reading.
func System() Clock {
	return &systemClock{origin: time.Now()}
}

func (c *systemClock) Now() time.Duration { return time.Since(c.origin) }

// Manual is a Clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

func NewManual(start time.Duration) *Manual { return &Manual{now: start} }

func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d. Negative values are ignored so readings
// never go backwards.
func (m *Manual) Advance(d time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.now += d
	}
	return m.now
}

// Set jumps to t if t is not before the current reading.
func (m *Manual) Set(t time.Duration) {
	m.mu.Lock()
	if t > m.now {
		m.now = t
	}
	m.mu.Unlock()
}
