package transform

import "math"

// Perifocal is the rotation from the orbital (perifocal) plane into the
// reference frame, R3(-Ω)·R1(-i)·R3(-ω). Only the first two columns are kept
// because perifocal vectors have no z component.
//
// Position and velocity both go through the same matrix, so there is exactly
// one place where the rotation can be wrong.
type Perifocal struct {
	// Column P points to periapsis, column Q is 90° ahead in the direction of motion.
	px, py, pz float64
	qx, qy, qz float64
}

// NewPerifocal builds the rotation for inclination i, longitude of the
// ascending node node and argument of periapsis peri (radians).
func NewPerifocal(i, node, peri float64) Perifocal {
	cosO, sinO := math.Cos(node), math.Sin(node)
	cosI, sinI := math.Cos(i), math.Sin(i)
	cosW, sinW := math.Cos(peri), math.Sin(peri)

	return Perifocal{
		px: cosO*cosW - sinO*sinW*cosI,
		py: sinO*cosW + cosO*sinW*cosI,
		pz: sinW * sinI,
		qx: -cosO*sinW - sinO*cosW*cosI,
		qy: -sinO*sinW + cosO*cosW*cosI,
		qz: cosW * sinI,
	}
}

// Rotate maps a perifocal position (xp, yp) into the reference frame.
func (r Perifocal) Rotate(xp, yp float64) (x, y, z float64) {
	return r.px*xp + r.qx*yp,
		r.py*xp + r.qy*yp,
		r.pz*xp + r.qz*yp
}

// RotateVelocity maps a perifocal velocity (vxp, vyp) into the reference frame.
// It is the same linear map as Rotate.
func (r Perifocal) RotateVelocity(vxp, vyp float64) (vx, vy, vz float64) {
	return r.Rotate(vxp, vyp)
}

// RotatePerifocal is a convenience for one-off rotations.
func RotatePerifocal(xp, yp, i, node, peri float64) (x, y, z float64) {
	return NewPerifocal(i, node, peri).Rotate(xp, yp)
}
