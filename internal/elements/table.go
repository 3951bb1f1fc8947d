package elements

import (
	"fmt"
	"sort"
	"sync"

	"github.com/star/orrery/internal/orbit"
	"github.com/star/orrery/internal/transform"
)

// Planet holds mean elements at J2000 and their rates per Julian century, in
// the planetary form: a (AU), e, I, L, ϖ, Ω (degrees).
type Planet struct {
	Name string

	A, E, I, L, Varpi, Node       float64
	DA, DE, DI, DL, DVarpi, DNode float64
}

// At evaluates the mean elements at jd.
func (p Planet) At(jd float64) orbit.Elements {
	t := (jd - transform.J2000) / 36525
	els := FromMeanLongitude(
		p.A+p.DA*t,
		p.E+p.DE*t,
		p.I+p.DI*t,
		p.L+p.DL*t,
		p.Varpi+p.DVarpi*t,
		p.Node+p.DNode*t,
		jd,
	)
	els.Provenance = "table:" + p.Name
	return els
}

// Table is the approximate analytic element set for bodies keyed by their
// Horizons id. It is the secondary tier whenever sampled ephemerides are
// missing or stale. Planets are fixed at construction; small bodies with
// osculating elements may be added later. Safe for concurrent use.
type Table struct {
	planets map[string]Planet

	mu    sync.RWMutex
	small map[string]smallBody
}

type smallBody struct {
	name string
	els  orbit.Elements
}

// NewTable returns a table holding the given planets.
func NewTable(planets map[string]Planet) *Table {
	return &Table{planets: planets, small: make(map[string]smallBody)}
}

// DefaultTable returns the approximate planetary elements (valid 1800-2050,
// heliocentric ecliptic J2000). Earth uses the mean elements published for
// the Earth rather than the Earth-Moon barycenter.
func DefaultTable() *Table {
	return NewTable(map[string]Planet{
		"199": {Name: "Mercury",
			A: 0.38709927, E: 0.20563593, I: 7.00497902, L: 252.25032350, Varpi: 77.45779628, Node: 48.33076593,
			DA: 0.00000037, DE: 0.00001906, DI: -0.00594749, DL: 149472.67411175, DVarpi: 0.16047689, DNode: -0.12534081},
		"299": {Name: "Venus",
			A: 0.72333566, E: 0.00677672, I: 3.39467605, L: 181.97909950, Varpi: 131.60246718, Node: 76.67984255,
			DA: 0.00000390, DE: -0.00004107, DI: -0.00078890, DL: 58517.81538729, DVarpi: 0.00268329, DNode: -0.27769418},
		"399": {Name: "Earth",
			A: 1.00000261, E: 0.01671123, I: -0.00001531, L: 100.46435, Varpi: 102.94719, Node: -11.26064,
			DA: 0.00000562, DE: -0.00004392, DI: -0.01294668, DL: 35999.37244981, DVarpi: 0.32327364},
		"499": {Name: "Mars",
			A: 1.52371034, E: 0.09339410, I: 1.84969142, L: -4.55343205, Varpi: -23.94362959, Node: 49.55953891,
			DA: 0.00001847, DE: 0.00007882, DI: -0.00813131, DL: 19140.30268499, DVarpi: 0.44441088, DNode: -0.29257343},
		"599": {Name: "Jupiter",
			A: 5.20288700, E: 0.04838624, I: 1.30439695, L: 34.39644051, Varpi: 14.72847983, Node: 100.47390909,
			DA: -0.00011607, DE: -0.00013253, DI: -0.00183714, DL: 3034.74612775, DVarpi: 0.21252668, DNode: 0.20469106},
		"699": {Name: "Saturn",
			A: 9.53667594, E: 0.05386179, I: 2.48599187, L: 49.95424423, Varpi: 92.59887831, Node: 113.66242448,
			DA: -0.00125060, DE: -0.00050991, DI: 0.00193609, DL: 1222.49362201, DVarpi: -0.41897216, DNode: -0.28867794},
		"799": {Name: "Uranus",
			A: 19.18916464, E: 0.04725744, I: 0.77263783, L: 313.23810451, Varpi: 170.95427630, Node: 74.01692503,
			DA: -0.00196176, DE: -0.00004397, DI: -0.00242939, DL: 428.48202785, DVarpi: 0.40805281, DNode: 0.04240589},
		"899": {Name: "Neptune",
			A: 30.06992276, E: 0.00859048, I: 1.77004347, L: -55.12002969, Varpi: 44.96476227, Node: 131.78422574,
			DA: 0.00026291, DE: 0.00005105, DI: 0.00035372, DL: 218.45945325, DVarpi: -0.32241464, DNode: -0.00508664},
	})
}

// ElementsAt builds fresh elements for body at jd. Small bodies return their
// osculating elements unchanged; the propagator carries them to jd.
func (t *Table) ElementsAt(body string, jd float64) (orbit.Elements, bool) {
	if p, ok := t.planets[body]; ok {
		return p.At(jd), true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	sb, ok := t.small[body]
	return sb.els, ok
}

// AddBody registers a small body under id. Planet ids cannot be replaced.
func (t *Table) AddBody(id, name string, els orbit.Elements) error {
	if _, ok := t.planets[id]; ok {
		return fmt.Errorf("body %q is a planet", id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.small[id] = smallBody{name: name, els: els}
	return nil
}

// Name returns the display name for body.
func (t *Table) Name(body string) (string, bool) {
	if p, ok := t.planets[body]; ok {
		return p.Name, true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	sb, ok := t.small[body]
	return sb.name, ok
}

// Bodies lists the table's body ids in sorted order.
func (t *Table) Bodies() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.planets)+len(t.small))
	for id := range t.planets {
		ids = append(ids, id)
	}
	for id := range t.small {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
