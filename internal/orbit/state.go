package orbit

import (
	"math"

	"github.com/star/orrery/internal/conic"
)

// Vec3 is a Cartesian 3-vector.
type Vec3 [3]float64

// Norm returns the Euclidean length.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Finite reports whether all components are finite.
func (v Vec3) Finite() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Lerp blends a and b by f: a + (b−a)·f.
func Lerp(a, b Vec3, f float64) Vec3 {
	return Vec3{
		a[0] + (b[0]-a[0])*f,
		a[1] + (b[1]-a[1])*f,
		a[2] + (b[2]-a[2])*f,
	}
}

// StateVector is a derived position/velocity at a Julian Date. It is never
// persisted; recompute it when needed.
type StateVector struct {
	Position Vec3    // AU (or the distance unit of Elements.Mu)
	Velocity Vec3    // AU/day
	Time     float64 // JD

	Regime conic.Regime
	// Converged is false when the anomaly solver hit its iteration cap.
	Converged bool
	// TrueAnomaly and Radius are kept for diagnostics.
	TrueAnomaly float64
	Radius      float64
}
