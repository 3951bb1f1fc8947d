// Package orbit propagates classical orbital elements to Cartesian state
// vectors for elliptic, parabolic and hyperbolic orbits.
package orbit

import (
	"math"

	"github.com/star/orrery/internal/conic"
)

// Elements is a canonical set of classical orbital elements. It is a value
// type: a new Elements is built whenever source data changes, never edited.
//
// Distances are in AU and times in Julian Dates unless Mu says otherwise; the
// propagator only requires that Mu, A/Q and the day-based times agree.
type Elements struct {
	A    float64 // semi-major axis, signed (negative for hyperbolic)
	E    float64 // eccentricity
	I    float64 // inclination (rad)
	Node float64 // longitude of ascending node Ω (rad)
	Peri float64 // argument of periapsis ω (rad)

	// Mean-anomaly form. Epoch == 0 means no mean anomaly reference is set.
	M     float64 // mean anomaly at Epoch (rad)
	Epoch float64 // JD

	// Periapsis form, required for parabolic and hyperbolic orbits.
	Q  float64 // periapsis distance, 0 when unknown
	Tp float64 // JD of periapsis passage, 0 when unknown

	// Mu is the gravitational parameter in distance³/day². Zero means the Sun in AU (k²).
	Mu float64

	// Provenance records which upstream shape produced these elements.
	Provenance string
}

// Regime reports the conic regime selected by the eccentricity.
func (e Elements) Regime() conic.Regime {
	return conic.ClassifyRegime(e.E)
}

// GM returns the gravitational parameter used for propagation.
func (e Elements) GM() float64 {
	if e.Mu > 0 {
		return e.Mu
	}
	return conic.SunMu
}

// SemiMajorAxis returns a, derived from q when a is not given.
// The second result is false when neither is usable.
func (e Elements) SemiMajorAxis() (float64, bool) {
	switch e.Regime() {
	case conic.Elliptic:
		if e.A > 0 {
			return e.A, true
		}
		if e.Q > 0 {
			return e.Q / (1 - e.E), true
		}
	case conic.Hyperbolic:
		if e.A < 0 {
			return e.A, true
		}
		if e.Q > 0 {
			return -e.Q / (e.E - 1), true
		}
	}
	return 0, false
}

// Periapsis returns q, derived from a when q is not given.
func (e Elements) Periapsis() (float64, bool) {
	if e.Q > 0 {
		return e.Q, true
	}
	if e.Regime() == conic.Parabolic {
		return 0, false
	}
	if a, ok := e.SemiMajorAxis(); ok {
		return a * (1 - e.E), true
	}
	return 0, false
}

// MeanMotion returns n = √(μ/|a|³) in rad/day, or 0 when a is unknown.
func (e Elements) MeanMotion() float64 {
	a, ok := e.SemiMajorAxis()
	if !ok {
		return 0
	}
	return math.Sqrt(e.GM() / math.Abs(a*a*a))
}

// Period returns the orbital period in days for elliptic orbits, 0 otherwise.
func (e Elements) Period() float64 {
	if e.Regime() != conic.Elliptic {
		return 0
	}
	if n := e.MeanMotion(); n > 0 {
		return 2 * math.Pi / n
	}
	return 0
}
