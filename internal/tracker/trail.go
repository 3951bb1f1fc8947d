package tracker

import "time"

// TrailPoint is one recorded position of the tracked satellite.
type TrailPoint struct {
	Time       time.Time  `json:"time"` // simulated time of the sample
	ECEF       [3]float64 `json:"ecef_km"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	AltitudeKm float64    `json:"altitude_km"`
}

// Trail is a fixed-capacity ring buffer of recent positions. A point is only
// appended when at least interval of wall-clock time has passed since the
// previous append, so the trail's resolution is independent of tick rate.
// Trail is not safe for concurrent use; the tracker guards it.
type Trail struct {
	points   []TrailPoint
	head     int // next write slot
	n        int
	interval time.Duration
	last     time.Time // wall time of the last append
}

// NewTrail creates an empty trail.
func NewTrail(capacity int, interval time.Duration) *Trail {
	if capacity <= 0 {
		capacity = 180
	}
	return &Trail{
		points:   make([]TrailPoint, capacity),
		interval: interval,
	}
}

// Append records p if the minimum interval has elapsed since the previous
// append, and reports whether it did.
func (t *Trail) Append(p TrailPoint, wall time.Time) bool {
	if t.n > 0 && wall.Sub(t.last) < t.interval {
		return false
	}
	t.points[t.head] = p
	t.head = (t.head + 1) % len(t.points)
	if t.n < len(t.points) {
		t.n++
	}
	t.last = wall
	return true
}

// Points returns the recorded points, oldest first.
func (t *Trail) Points() []TrailPoint {
	out := make([]TrailPoint, 0, t.n)
	start := (t.head - t.n + len(t.points)) % len(t.points)
	for i := 0; i < t.n; i++ {
		out = append(out, t.points[(start+i)%len(t.points)])
	}
	return out
}

func (t *Trail) Len() int { return t.n }

func (t *Trail) Cap() int { return len(t.points) }

// Reset drops every point.
func (t *Trail) Reset() {
	clear(t.points)
	t.head, t.n = 0, 0
	t.last = time.Time{}
}
