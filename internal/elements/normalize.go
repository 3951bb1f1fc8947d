// Package elements turns upstream orbital-element records of any known shape
// into canonical orbit.Elements, and holds the approximate planetary table
// used when no live ephemeris is available.
package elements

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/soniakeys/meeus/v3/julian"

	"github.com/star/orrery/internal/orbit"
)

// Shape identifies the upstream record layout a Raw came from.
type Shape string

const (
	ShapeSBDB        Shape = "sbdb"         // JPL SBDB orbit.elements name/value list
	ShapeMPCAsteroid Shape = "mpc-asteroid" // MPC extended JSON (mpcorb_extended)
	ShapeMPCComet    Shape = "mpc-comet"    // MPC comet elements JSON
)

var errMissingField = errors.New("missing field")

const deg = math.Pi / 180

// Raw is a partial element record exactly as an upstream source provided it.
// Values may be numbers or numeric strings.
type Raw struct {
	Shape      Shape
	Designator string
	Fields     map[string]any
}

// Normalize maps every known upstream shape into orbit.Elements. The result
// carries a Provenance of the form "<shape>:<designator>". Missing or
// unparseable required fields return *orbit.ParseError.
func Normalize(raw Raw) (orbit.Elements, error) {
	var (
		els orbit.Elements
		err error
	)
	switch raw.Shape {
	case ShapeSBDB:
		els, err = fromSBDB(raw)
	case ShapeMPCAsteroid:
		els, err = fromMPCAsteroid(raw)
	case ShapeMPCComet:
		els, err = fromMPCComet(raw)
	default:
		return orbit.Elements{}, &orbit.ParseError{Source: string(raw.Shape), Err: fmt.Errorf("unknown element shape %q", raw.Shape)}
	}
	if err != nil {
		return orbit.Elements{}, err
	}
	els.Provenance = string(raw.Shape) + ":" + raw.Designator
	return els, nil
}

// SBDB gives angles in degrees, tp and epoch as JD, and either a or q (or both).
func fromSBDB(raw Raw) (orbit.Elements, error) {
	r := reader{raw: raw}
	els := orbit.Elements{
		E:     r.req("e"),
		I:     r.req("i") * deg,
		Node:  r.req("om") * deg,
		Peri:  r.req("w") * deg,
		A:     r.opt("a"),
		Q:     r.opt("q"),
		Tp:    r.opt("tp"),
		Epoch: r.opt("epoch"),
	}
	if ma, ok := r.get("ma"); ok {
		els.M = ma * deg
	} else {
		// Without a mean anomaly the epoch form is meaningless; fall back to tp.
		els.Epoch = 0
	}
	if r.err != nil {
		return orbit.Elements{}, r.err
	}
	if els.A == 0 && els.Q == 0 {
		return orbit.Elements{}, r.fail("a", errMissingField)
	}
	return els, nil
}

func fromMPCAsteroid(raw Raw) (orbit.Elements, error) {
	r := reader{raw: raw}
	els := orbit.Elements{
		A:     r.req("a"),
		E:     r.req("e"),
		I:     r.req("i") * deg,
		Node:  r.req("Node") * deg,
		Peri:  r.req("Peri") * deg,
		M:     r.req("M") * deg,
		Epoch: r.req("Epoch"),
	}
	if q, ok := r.get("Perihelion_dist"); ok {
		els.Q = q
	}
	if r.err != nil {
		return orbit.Elements{}, r.err
	}
	return els, nil
}

// MPC comet records give perihelion time as calendar fields.
func fromMPCComet(raw Raw) (orbit.Elements, error) {
	r := reader{raw: raw}
	els := orbit.Elements{
		Q:    r.req("Perihelion_dist"),
		E:    r.req("e"),
		I:    r.req("i") * deg,
		Node: r.req("Node") * deg,
		Peri: r.req("Peri") * deg,
	}
	y := r.req("Year_of_perihelion")
	m := r.req("Month_of_perihelion")
	d := r.req("Day_of_perihelion")
	if r.err != nil {
		return orbit.Elements{}, r.err
	}
	els.Tp = julian.CalendarGregorianToJD(int(y), int(m), d)
	return els, nil
}

// FromMeanLongitude builds elements from the planetary form (degrees): mean
// longitude L, longitude of periapsis ϖ and node Ω, using M = L − ϖ and ω = ϖ − Ω.
func FromMeanLongitude(a, e, iDeg, lDeg, varpiDeg, nodeDeg, epoch float64) orbit.Elements {
	return orbit.Elements{
		A:     a,
		E:     e,
		I:     iDeg * deg,
		Node:  nodeDeg * deg,
		Peri:  (varpiDeg - nodeDeg) * deg,
		M:     (lDeg - varpiDeg) * deg,
		Epoch: epoch,
	}
}

// reader pulls numeric fields and remembers the first failure.
type reader struct {
	raw Raw
	err error
}

func (r *reader) get(key string) (float64, bool) {
	v, ok := r.raw.Fields[key]
	if !ok || v == nil {
		return 0, false
	}
	f, err := toFloat(v)
	if err != nil {
		if r.err == nil {
			r.err = r.fail(key, err)
		}
		return 0, false
	}
	return f, true
}

func (r *reader) req(key string) float64 {
	f, ok := r.get(key)
	if !ok && r.err == nil {
		r.err = r.fail(key, errMissingField)
	}
	return f
}

func (r *reader) opt(key string) float64 {
	f, _ := r.get(key)
	return f
}

func (r *reader) fail(key string, err error) error {
	return &orbit.ParseError{Source: string(r.raw.Shape), Field: key, Err: err}
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case json.Number:
		var err error
		if f, err = x.Float64(); err != nil {
			return 0, err
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}
