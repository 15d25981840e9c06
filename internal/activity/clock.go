package activity

import "time"

// Clock returns the node time in seconds.
type Clock interface {
	Now() float64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() float64

func (f ClockFunc) Now() float64 {
	return f()
}

// WallClock returns seconds elapsed since start.
func WallClock(start time.Time) Clock {
	return ClockFunc(func() float64 {
		return time.Since(start).Seconds()
	})
}

// ManualClock is a Clock advanced by hand, for simulations and tests.
type ManualClock struct {
	now float64
}

func (c *ManualClock) Now() float64 { return c.now }

// Set moves the clock to t.
func (c *ManualClock) Set(t float64) { c.now = t }

// Advance moves the clock forward by dt.
func (c *ManualClock) Advance(dt float64) { c.now += dt }
