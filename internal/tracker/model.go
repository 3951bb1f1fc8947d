package tracker

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/orrery/internal/orbit"
	"github.com/star/orrery/internal/tle"
	"github.com/star/orrery/internal/transform"
)

// ErrPropagation marks a model that produced no usable state.
var ErrPropagation = errors.New("satellite propagation failed")

// Model propagates one satellite to a UTC time, returning TEME km and km/s.
// Implementations are immutable once built and safe for concurrent use.
type Model interface {
	Propagate(t time.Time) (transform.PositionTEME, error)
}

// ModelFactory builds the propagation model for a catalog entry.
type ModelFactory func(e tle.Entry) (Model, error)

// Factory returns the factory for a model name: "sgp4" (default) or "kepler".
func Factory(name string) (ModelFactory, error) {
	switch strings.ToLower(name) {
	case "", "sgp4":
		return NewSGP4Model, nil
	case "kepler":
		return NewKeplerModel, nil
	default:
		return nil, fmt.Errorf("unknown propagation model %q", name)
	}
}

// SGP4Model wraps go-satellite for one satellite.
//
// go-satellite's Propagate takes the Satellite by value, so its error codes
// are not visible to the caller; failures are detected from non-finite or
// implausible output instead.
type SGP4Model struct {
	sat     satellite.Satellite
	noradID int
}

// NewSGP4Model initializes SGP4 from the entry's TLE lines. The lines are
// validated first because go-satellite aborts the process on malformed input.
func NewSGP4Model(e tle.Entry) (Model, error) {
	if err := validateLines(e.Line1, e.Line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", e.NORADID, err)
	}

	sat := satellite.TLEToSat(e.Line1, e.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", e.NORADID, sat.Error, sat.ErrorStr)
	}
	return &SGP4Model{sat: sat, noradID: e.NORADID}, nil
}

func validateLines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != tle.LineLength {
		return fmt.Errorf("line1 length %d, expected %d", len(line1), tle.LineLength)
	}
	if len(line2) != tle.LineLength {
		return fmt.Errorf("line2 length %d, expected %d", len(line2), tle.LineLength)
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// Resolution is the time step SGP4 is evaluated at: whole seconds.
func (m *SGP4Model) Resolution() time.Duration {
	return time.Second
}

// Propagate runs SGP4 at t, rounded to the whole second the library accepts.
func (m *SGP4Model) Propagate(t time.Time) (transform.PositionTEME, error) {
	t = t.UTC().Round(m.Resolution())
	pos, vel := satellite.Propagate(m.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	teme := transform.PositionTEME{X: pos.X, Y: pos.Y, Z: pos.Z, VX: vel.X, VY: vel.Y, VZ: vel.Z}
	if !teme.Finite() {
		return transform.PositionTEME{}, fmt.Errorf("%w: NORAD %d: output is NaN/Inf", ErrPropagation, m.noradID)
	}

	// Between the Earth's surface and beyond GEO.
	if r := teme.Radius(); r < 6200 || r > 50000 {
		return transform.PositionTEME{}, fmt.Errorf("%w: NORAD %d: unreasonable position magnitude %.1f km", ErrPropagation, m.noradID, r)
	}
	return teme, nil
}

// EarthMu is the Earth's gravitational parameter in km³/day², the unit
// system the Kepler model hands to orbit.Propagate.
const EarthMu = 398600.4418 * 86400 * 86400

// KeplerModel propagates the TLE mean elements as an unperturbed two-body
// orbit through the same conic propagator used for heliocentric bodies.
// It drifts from SGP4 within hours but has no dependence on TLE internals.
type KeplerModel struct {
	els orbit.Elements
}

// NewKeplerModel converts an entry's mean elements into Earth-centred
// orbital elements in km.
func NewKeplerModel(e tle.Entry) (Model, error) {
	a := e.SemiMajorAxisKm()
	if !(a > 0) {
		return nil, fmt.Errorf("NORAD %d: mean motion %v gives no semi-major axis", e.NORADID, e.MeanMotion)
	}
	return NewKeplerModelFromElements(orbit.Elements{
		A:          a,
		E:          e.Eccentricity,
		I:          e.Inclination * deg,
		Node:       e.RAAN * deg,
		Peri:       e.ArgPerigee * deg,
		M:          e.MeanAnomaly * deg,
		Epoch:      transform.JulianDate(e.Epoch),
		Mu:         EarthMu,
		Provenance: fmt.Sprintf("tle:%d", e.NORADID),
	}), nil
}

// NewKeplerModelFromElements wraps elements already expressed in km and
// km³/day² (Mu must be set).
func NewKeplerModelFromElements(els orbit.Elements) *KeplerModel {
	return &KeplerModel{els: els}
}

func (m *KeplerModel) Propagate(t time.Time) (transform.PositionTEME, error) {
	sv, err := orbit.Propagate(m.els, transform.JulianDate(t))
	if err != nil {
		return transform.PositionTEME{}, fmt.Errorf("%w: %w", ErrPropagation, err)
	}
	const perDay = 86400.0
	return transform.PositionTEME{
		X:  sv.Position[0],
		Y:  sv.Position[1],
		Z:  sv.Position[2],
		VX: sv.Velocity[0] / perDay,
		VY: sv.Velocity[1] / perDay,
		VZ: sv.Velocity[2] / perDay,
	}, nil
}

const deg = math.Pi / 180
