// Package ephemeris serves body state vectors from a rolling window of
// externally fetched samples, interpolating between them and falling back to
// analytic elements when no fresh samples cover the requested time.
package ephemeris

import (
	"errors"
	"sort"
	"time"

	"github.com/gonum/floats"

	"github.com/star/orrery/internal/orbit"
)

// ErrUpstreamUnavailable marks any failure of the sample source: network,
// HTTP status, or a malformed, empty or non-finite response.
var ErrUpstreamUnavailable = errors.New("ephemeris upstream unavailable")

// ErrUnknownBody is returned when a body has neither samples nor analytic elements.
var ErrUnknownBody = errors.New("unknown body")

// sameTimeTolerance is how close two sample times (days) must be to count as one.
const sameTimeTolerance = 1e-6

// Sample is one authoritative state of a body, heliocentric ecliptic, AU and AU/day.
type Sample struct {
	Time      float64    `json:"jd"`
	Position  orbit.Vec3 `json:"position_au"`
	Velocity  orbit.Vec3 `json:"velocity_au_per_day"`
	FetchedAt time.Time  `json:"fetched_at"`
}

func (s Sample) valid() bool {
	return s.Position.Finite() && s.Velocity.Finite() && finite(s.Time) && s.Time != 0
}

// window holds one body's samples sorted ascending by Time.
type window struct {
	samples []Sample
}

// merge inserts s, replacing any sample within sameTimeTolerance of it, and
// evicts the least recently fetched samples beyond max.
func (w *window) merge(s Sample, max int) {
	i := sort.Search(len(w.samples), func(i int) bool {
		return w.samples[i].Time >= s.Time-sameTimeTolerance
	})
	if i < len(w.samples) && floats.EqualWithinAbs(w.samples[i].Time, s.Time, sameTimeTolerance) {
		w.samples[i] = s
	} else {
		w.samples = append(w.samples, Sample{})
		copy(w.samples[i+1:], w.samples[i:])
		w.samples[i] = s
	}

	for len(w.samples) > max {
		oldest := 0
		for j := 1; j < len(w.samples); j++ {
			if w.samples[j].FetchedAt.Before(w.samples[oldest].FetchedAt) {
				oldest = j
			}
		}
		w.samples = append(w.samples[:oldest], w.samples[oldest+1:]...)
	}
}

// evictStale drops samples fetched more than ttl before now.
func (w *window) evictStale(now time.Time, ttl time.Duration) int {
	kept := w.samples[:0]
	for _, s := range w.samples {
		if now.Sub(s.FetchedAt) <= ttl {
			kept = append(kept, s)
		}
	}
	removed := len(w.samples) - len(kept)
	clear(w.samples[len(kept):])
	w.samples = kept
	return removed
}

// has reports whether a sample exists at t.
func (w *window) has(t float64) bool {
	for _, s := range w.samples {
		if floats.EqualWithinAbs(s.Time, t, sameTimeTolerance) {
			return true
		}
	}
	return false
}

type lookupKind int

const (
	lookupNone lookupKind = iota
	lookupNearest
	lookupBracketed
)

// lookup interpolates linearly between the samples bracketing t, or returns
// the nearest sample unchanged when t is outside the window.
func (w *window) lookup(t float64) (orbit.StateVector, lookupKind) {
	n := len(w.samples)
	if n == 0 {
		return orbit.StateVector{}, lookupNone
	}

	i := sort.Search(n, func(i int) bool { return w.samples[i].Time >= t })
	switch {
	case i < n && w.samples[i].Time == t:
		s := w.samples[i]
		return stateOf(s.Position, s.Velocity, t), lookupBracketed
	case i == 0:
		s := w.samples[0]
		return stateOf(s.Position, s.Velocity, t), lookupNearest
	case i == n:
		s := w.samples[n-1]
		return stateOf(s.Position, s.Velocity, t), lookupNearest
	}

	s0, s1 := w.samples[i-1], w.samples[i]
	frac := (t - s0.Time) / (s1.Time - s0.Time)
	return stateOf(orbit.Lerp(s0.Position, s1.Position, frac), orbit.Lerp(s0.Velocity, s1.Velocity, frac), t), lookupBracketed
}

func stateOf(p, v orbit.Vec3, t float64) orbit.StateVector {
	return orbit.StateVector{
		Position:  p,
		Velocity:  v,
		Time:      t,
		Converged: true,
		Radius:    p.Norm(),
	}
}

func (w *window) snapshot() []Sample {
	return append([]Sample(nil), w.samples...)
}
