package devicescheduler

import (
	"time"

	"k8s.io/apimachinery/pkg/util/clock"
)

// Clock is a monotonic time source producing millisecond-resolution
// timestamps relative to when it was created. It wraps
// k8s.io/apimachinery's clock.Clock so tests can substitute
// clock.NewFakeClock and drive the scheduler deterministically.
type Clock struct {
	inner clock.Clock
	start time.Time
}

// NewClock returns a Clock backed by the real wall clock, pinned to now.
func NewClock() *Clock {
	return NewClockFrom(clock.RealClock{})
}

// NewClockFrom builds a Clock on top of an arbitrary clock.Clock, pinned to
// that clock's current time. Tests typically pass a *clock.FakeClock here.
func NewClockFrom(inner clock.Clock) *Clock {
	return &Clock{inner: inner, start: inner.Now()}
}

// NowMs returns milliseconds elapsed since the Clock was created.
func (c *Clock) NowMs() float64 {
	return float64(c.inner.Since(c.start)) / float64(time.Millisecond)
}

// After returns a channel that fires once after the given duration,
// measured against the underlying clock.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	return c.inner.After(d)
}

// MsToDuration converts a millisecond figure used throughout this package
// into a time.Duration for use with After.
func MsToDuration(ms float64) time.Duration {
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}
