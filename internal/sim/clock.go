// Package sim drives the propagation engine: a simulated clock and the tick
// loop that hands one simulated time to every consumer per tick.
package sim

import (
	"sync"
	"time"

	"github.com/star/orrery/internal/transform"
)

// Clock maps wall time to simulated time: sim = start + (wall − anchor)·rate.
// Changing the rate or jumping re-anchors so simulated time stays continuous.
// Safe for concurrent use.
type Clock struct {
	mu     sync.Mutex
	start  time.Time // simulated time at anchor
	anchor time.Time // wall time
	rate   float64
	paused bool
	wall   func() time.Time
}

// NewClock starts simulated time at start, advancing rate simulated seconds
// per wall second. A nil wall uses time.Now.
func NewClock(start time.Time, rate float64, wall func() time.Time) *Clock {
	if wall == nil {
		wall = time.Now
	}
	return &Clock{start: start, anchor: wall(), rate: rate, wall: wall}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() time.Time {
	if c.paused {
		return c.start
	}
	elapsed := c.wall().Sub(c.anchor)
	return c.start.Add(time.Duration(float64(elapsed) * c.rate))
}

// JD returns the current simulated time as a Julian Date.
func (c *Clock) JD() float64 {
	return transform.JulianDate(c.Now())
}

// Rate returns the simulated seconds per wall second.
func (c *Clock) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// SetRate changes the rate from now on. Negative rates run time backwards.
func (c *Clock) SetRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start, c.anchor = c.nowLocked(), c.wall()
	c.rate = rate
}

// Set jumps simulated time to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start, c.anchor = t, c.wall()
}

// Pause freezes simulated time; Resume continues from the frozen value.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.start = c.nowLocked()
		c.paused = true
	}
}

func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		c.anchor = c.wall()
	}
}
