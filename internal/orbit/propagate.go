package orbit

import (
	"math"

	"github.com/star/orrery/internal/conic"
	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/transform"
)

// Propagate computes the state vector for els at Julian Date jd.
//
// It is a pure function of its inputs: the same (els, jd) always yields the
// same bits. Structurally invalid elements return *DegenerateOrbitError; a
// solver that hits its iteration cap still returns a state, flagged with
// Converged=false.
func Propagate(els Elements, jd float64) (StateVector, error) {
	regime := els.Regime()

	sv, err := propagate(els, jd, regime)
	if err != nil {
		metrics.RecordPropagation(regime.String(), "degenerate")
		return StateVector{}, err
	}
	metrics.RecordPropagation(regime.String(), "ok")
	if !sv.Converged {
		metrics.IncSolverNonConverged(regime.String())
	}
	return sv, nil
}

func propagate(els Elements, jd float64, regime conic.Regime) (StateVector, error) {
	if !finite(els.E, els.I, els.Node, els.Peri, els.M, jd) || els.E < 0 {
		return StateVector{}, degenerate(regime, "non-finite or negative element")
	}

	mu := els.GM()

	var (
		r, nu, p float64
		sol      conic.Solution
	)

	switch regime {
	case conic.Elliptic:
		a, ok := els.SemiMajorAxis()
		if !ok || !(a > 0) {
			return StateVector{}, degenerate(regime, "semi-major axis must be positive")
		}
		n := math.Sqrt(mu / (a * a * a))
		m, ok := meanAnomaly(els, n, jd)
		if !ok {
			return StateVector{}, degenerate(regime, "missing epoch and periapsis time")
		}
		sol = conic.SolveElliptic(m, els.E)
		sinE, cosE := math.Sincos(sol.Anomaly)
		r = a * (1 - els.E*cosE)
		nu = math.Atan2(math.Sqrt(1-els.E*els.E)*sinE, cosE-els.E)
		p = a * (1 - els.E*els.E)

	case conic.Hyperbolic:
		a, ok := els.SemiMajorAxis()
		if !ok || !(a < 0) {
			return StateVector{}, degenerate(regime, "semi-major axis must be negative or periapsis distance given")
		}
		n := math.Sqrt(mu / -(a * a * a))
		m, ok := meanAnomaly(els, n, jd)
		if !ok {
			return StateVector{}, degenerate(regime, "missing epoch and periapsis time")
		}
		sol = conic.SolveHyperbolic(m, els.E)
		r = -a * (els.E*math.Cosh(sol.Anomaly) - 1)
		nu = 2 * math.Atan(math.Sqrt((els.E+1)/(els.E-1))*math.Tanh(sol.Anomaly/2))
		p = a * (1 - els.E*els.E)

	case conic.Parabolic:
		if !(els.Q > 0) || els.Tp == 0 {
			return StateVector{}, degenerate(regime, "missing periapsis distance or time")
		}
		q := els.Q
		b := (jd - els.Tp) * math.Sqrt(mu/(2*q*q*q))
		sol = conic.SolveParabolic(b)
		r = q * (1 + sol.Anomaly*sol.Anomaly)
		nu = 2 * math.Atan(sol.Anomaly)
		p = 2 * q
	}

	sinNu, cosNu := math.Sincos(nu)
	xp, yp := r*cosNu, r*sinNu

	// Perifocal velocity from the angular momentum h = √(μp).
	h := math.Sqrt(mu * p)
	vxp := -mu / h * sinNu
	vyp := mu / h * (els.E + cosNu)

	rot := transform.NewPerifocal(els.I, els.Node, els.Peri)
	x, y, z := rot.Rotate(xp, yp)
	vx, vy, vz := rot.RotateVelocity(vxp, vyp)

	sv := StateVector{
		Position:    Vec3{x, y, z},
		Velocity:    Vec3{vx, vy, vz},
		Time:        jd,
		Regime:      regime,
		Converged:   sol.Converged,
		TrueAnomaly: nu,
		Radius:      r,
	}
	if !sv.Position.Finite() || !sv.Velocity.Finite() {
		return StateVector{}, degenerate(regime, "non-finite state")
	}
	return sv, nil
}

// meanAnomaly returns the mean anomaly at jd. The epoch form wins when an
// epoch is set; otherwise time since periapsis is used.
func meanAnomaly(els Elements, n, jd float64) (float64, bool) {
	switch {
	case els.Epoch != 0:
		return els.M + n*(jd-els.Epoch), true
	case els.Tp != 0:
		return n * (jd - els.Tp), true
	default:
		return 0, false
	}
}

func degenerate(regime conic.Regime, reason string) error {
	return &DegenerateOrbitError{Regime: regime.String(), Reason: reason}
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
