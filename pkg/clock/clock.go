// Package clock provides the time source used for packet expiry.
package clock

import (
	"sync"
	"time"
)

// Clock returns monotonic readings. Only differences between readings are
// meaningful; callers must compare with Sub, never with wall-clock fields.
type Clock interface {
	Now() time.Time
}

// System reads the process clock. time.Now carries a monotonic reading, so
// Sub between two values is unaffected by wall-clock adjustments.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d. Negative durations are ignored so the
// clock never runs backwards.
func (m *Manual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
