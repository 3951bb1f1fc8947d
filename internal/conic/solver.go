// Package conic solves the Kepler-like equations that map a mean-anomaly-like
// quantity to the anomaly variable of an elliptic, hyperbolic or parabolic orbit.
//
// All functions are pure and deterministic. Solvers never return an error: when
// the iteration cap is reached the last iterate is returned with Converged=false
// so callers and tests can detect a convergence failure.
package conic

import (
	"math"
)

// Regime identifies the conic section an orbit follows.
type Regime int

const (
	Elliptic Regime = iota
	Parabolic
	Hyperbolic
)

// String returns the regime name used in logs and metric labels.
func (r Regime) String() string {
	switch r {
	case Elliptic:
		return "elliptic"
	case Parabolic:
		return "parabolic"
	case Hyperbolic:
		return "hyperbolic"
	default:
		return "unknown"
	}
}

// ParabolicBand is the half-width of the eccentricity band around 1 that is
// treated as parabolic.
const ParabolicBand = 1e-12

// Bounds are precomputed so that e = 1±1e-12 written as a literal lands exactly on them.
var (
	parabolicLow  = 1 - ParabolicBand
	parabolicHigh = 1 + ParabolicBand
)

// Gaussian gravitational constant k (AU^3/2 / day) and the solar parameter μ = k².
const (
	GaussK = 0.01720209895
	SunMu  = GaussK * GaussK
)

// Iteration caps and step tolerances per regime.
const (
	ellipticMaxIter   = 30
	ellipticTol       = 1e-12
	hyperbolicMaxIter = 50
	hyperbolicTol     = 1e-12
	parabolicMaxIter  = 60
	parabolicTol      = 1e-13

	// ResidualTolerance is the residual a converged solution must satisfy.
	ResidualTolerance = 1e-10
)

// Solution is the result of one root-finding run.
type Solution struct {
	Anomaly    float64 // E, H or D depending on regime
	Iterations int
	Residual   float64 // |f(anomaly)| of the regime's equation
	Converged  bool
}

// ClassifyRegime picks the regime for an eccentricity.
func ClassifyRegime(e float64) Regime {
	switch {
	case e >= parabolicLow && e <= parabolicHigh:
		return Parabolic
	case e < 1:
		return Elliptic
	default:
		return Hyperbolic
	}
}

// Solve dispatches to the regime's solver. For the parabolic regime meanLike is
// Barker's B and e is ignored.
func Solve(meanLike, e float64, regime Regime) Solution {
	switch regime {
	case Hyperbolic:
		return SolveHyperbolic(meanLike, e)
	case Parabolic:
		return SolveParabolic(meanLike)
	default:
		return SolveElliptic(meanLike, e)
	}
}

// WrapAngle wraps an angle into [-π, π].
func WrapAngle(x float64) float64 {
	x = math.Mod(x+math.Pi, 2*math.Pi)
	if x < 0 {
		x += 2 * math.Pi
	}
	return x - math.Pi
}

// SolveElliptic solves E − e·sin(E) = M by Newton-Raphson. M is wrapped into
// [-π, π] first, so the returned E lies near that interval as well.
func SolveElliptic(m, e float64) Solution {
	m = WrapAngle(m)

	E := m
	if e >= 0.8 {
		// Kepler's function is convex on [0, π] and concave on [-π, 0];
		// starting at the far end of M's half gives monotone convergence.
		E = math.Copysign(math.Pi, m)
	}

	var iter int
	converged := false
	for iter = 1; iter <= ellipticMaxIter; iter++ {
		f := E - e*math.Sin(E) - m
		fp := 1 - e*math.Cos(E)
		delta := f / fp
		E -= delta
		if math.Abs(delta) < ellipticTol {
			converged = true
			break
		}
	}
	if iter > ellipticMaxIter {
		iter = ellipticMaxIter
	}

	residual := math.Abs(E - e*math.Sin(E) - m)
	return Solution{
		Anomaly:    E,
		Iterations: iter,
		Residual:   residual,
		Converged:  converged && residual < ResidualTolerance,
	}
}

// SolveHyperbolic solves e·sinh(H) − H = M by Newton-Raphson.
func SolveHyperbolic(m, e float64) Solution {
	H := 0.0
	if m != 0 {
		H = math.Copysign(math.Log(2*math.Abs(m)/e+1.8), m)
	}

	var iter int
	converged := false
	for iter = 1; iter <= hyperbolicMaxIter; iter++ {
		f := e*math.Sinh(H) - H - m
		fp := e*math.Cosh(H) - 1
		delta := f / fp
		H -= delta
		if math.Abs(delta) < hyperbolicTol {
			converged = true
			break
		}
	}
	if iter > hyperbolicMaxIter {
		iter = hyperbolicMaxIter
	}

	residual := math.Abs(e*math.Sinh(H) - H - m)
	// Large |M| gives large absolute residuals from rounding alone.
	tol := ResidualTolerance * math.Max(1, math.Abs(m))
	return Solution{
		Anomaly:    H,
		Iterations: iter,
		Residual:   residual,
		Converged:  converged && residual < tol,
	}
}

// SolveParabolic solves Barker's equation B = D + D³/3 for D.
func SolveParabolic(b float64) Solution {
	D := math.Cbrt(b)

	var iter int
	converged := false
	for iter = 1; iter <= parabolicMaxIter; iter++ {
		f := D + D*D*D/3 - b
		fp := 1 + D*D
		delta := f / fp
		D -= delta
		if math.Abs(delta) < parabolicTol {
			converged = true
			break
		}
	}
	if iter > parabolicMaxIter {
		iter = parabolicMaxIter
	}

	residual := math.Abs(D + D*D*D/3 - b)
	tol := ResidualTolerance * math.Max(1, math.Abs(b))
	return Solution{
		Anomaly:    D,
		Iterations: iter,
		Residual:   residual,
		Converged:  converged && residual < tol,
	}
}
