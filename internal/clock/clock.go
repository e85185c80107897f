// Package clock provides the engine's time source for timing-sync
// exchanges. Values are wall-clock milliseconds derived from the process
// monotonic clock, so successive reads never go backwards even when the
// system clock is stepped.
package clock

import (
	"time"
)

// Clock converts monotonic elapsed time into wall-clock milliseconds.
//
// The wall-clock base is captured once at construction; every read adds
// the monotonic time elapsed since then. Reads are safe for concurrent
// use and non-decreasing within the process.
type Clock struct {
	base   time.Time
	baseMs int64
}

// New creates a Clock anchored at the current wall-clock time.
func New() *Clock {
	now := time.Now()
	return &Clock{
		base:   now,
		baseMs: now.UnixMilli(),
	}
}

// NowMs returns the current wall-clock time in milliseconds.
func (c *Clock) NowMs() int64 {
	// time.Since reads the monotonic clock carried inside base.
	return c.baseMs + time.Since(c.base).Milliseconds()
}

// Now returns the current wall-clock time with millisecond stability
// guarantees matching NowMs.
func (c *Clock) Now() time.Time {
	return time.UnixMilli(c.NowMs())
}
