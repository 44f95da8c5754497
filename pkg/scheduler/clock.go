package scheduler

import (
	"sync/atomic"
	"time"
)

// Clock reports milliseconds elapsed since some fixed starting point.
type Clock interface {
	Millis() uint64
}

// SystemClock measures time from its creation using the monotonic clock.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Millis() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

// ManualClock only moves when told to. It is used to drive schedulers
// deterministically.
type ManualClock struct {
	now atomic.Uint64
}

func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

func (c *ManualClock) Millis() uint64 {
	return c.now.Load()
}

// Advance moves the clock forward by d, truncated to milliseconds.
func (c *ManualClock) Advance(d time.Duration) {
	c.now.Add(uint64(d / time.Millisecond))
}

// Set moves the clock to an absolute reading.
func (c *ManualClock) Set(ms uint64) {
	c.now.Store(ms)
}
