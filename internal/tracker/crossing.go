package tracker

import (
	"math"
	"time"

	"github.com/star/orrery/internal/transform"
)

// Equator-crossing search parameters.
const (
	crossingStep       = 60 * time.Second
	crossingSteps      = 360 // 6 h horizon
	crossingBisections = 6
	crossingAcceptDeg  = 0.05
	// A cached prediction is reused until simulated time drifts this far.
	crossingMaxDrift = 60 * time.Second
)

// Crossing is a predicted equator crossing.
type Crossing struct {
	Time      time.Time `json:"time"`
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"` // residual latitude at Time
	Ascending bool      `json:"ascending"`
}

// PredictEquatorCrossing steps forward from `from` in 60 s increments over a
// 6 h horizon watching the sign of geodetic latitude. A step already within
// 0.05° of the equator is accepted as is; otherwise the first sign change is
// refined by 6 bisections. It reports false when no crossing is found.
// Steps where the model fails are skipped.
func PredictEquatorCrossing(m Model, from time.Time) (Crossing, bool) {
	var (
		prev     time.Time
		prevLat  float64
		havePrev bool
	)
	for i := 0; i <= crossingSteps; i++ {
		t := from.Add(time.Duration(i) * crossingStep)
		geo, err := geodeticAt(m, t)
		if err != nil {
			havePrev = false
			continue
		}

		if math.Abs(geo.LatDeg) < crossingAcceptDeg {
			asc := havePrev && prevLat < 0
			if !havePrev {
				asc = ascendingAt(m, t)
			}
			return Crossing{Time: t, Longitude: geo.LonDeg, Latitude: geo.LatDeg, Ascending: asc}, true
		}

		if havePrev && (prevLat < 0) != (geo.LatDeg < 0) {
			if c, ok := bisectCrossing(m, prev, t, prevLat); ok {
				return c, true
			}
		}
		prev, prevLat, havePrev = t, geo.LatDeg, true
	}
	return Crossing{}, false
}

// quantizedModel is implemented by models that only evaluate at whole
// multiples of a resolution.
type quantizedModel interface {
	Resolution() time.Duration
}

// bisectCrossing narrows [lo, hi], whose endpoints straddle the equator,
// and returns the midpoint of the final interval. For a quantized model it
// returns the representable instant nearest the equator instead.
func bisectCrossing(m Model, lo, hi time.Time, loLat float64) (Crossing, bool) {
	ascending := loLat < 0
	for i := 0; i < crossingBisections; i++ {
		mid := lo.Add(hi.Sub(lo) / 2)
		geo, err := geodeticAt(m, mid)
		if err != nil {
			return Crossing{}, false
		}
		if (geo.LatDeg < 0) == (loLat < 0) {
			lo, loLat = mid, geo.LatDeg
		} else {
			hi = mid
		}
	}

	if q, ok := m.(quantizedModel); ok && q.Resolution() > 0 {
		return closestQuantum(m, lo, hi, q.Resolution(), ascending)
	}

	t := lo.Add(hi.Sub(lo) / 2)
	geo, err := geodeticAt(m, t)
	if err != nil {
		return Crossing{}, false
	}
	return Crossing{Time: t, Longitude: geo.LonDeg, Latitude: geo.LatDeg, Ascending: ascending}, true
}

// closestQuantum evaluates every multiple of res from lo to hi, both rounded,
// and keeps the one with the smallest |latitude|.
func closestQuantum(m Model, lo, hi time.Time, res time.Duration, ascending bool) (Crossing, bool) {
	var (
		best  Crossing
		found bool
	)
	end := hi.Round(res)
	for t := lo.Round(res); !t.After(end); t = t.Add(res) {
		geo, err := geodeticAt(m, t)
		if err != nil {
			continue
		}
		if !found || math.Abs(geo.LatDeg) < math.Abs(best.Latitude) {
			best = Crossing{Time: t, Longitude: geo.LonDeg, Latitude: geo.LatDeg, Ascending: ascending}
			found = true
		}
	}
	return best, found
}

// ascendingAt reports whether latitude is increasing at t.
func ascendingAt(m Model, t time.Time) bool {
	teme, err := m.Propagate(t)
	if err != nil {
		return false
	}
	return teme.VZ > 0
}

func geodeticAt(m Model, t time.Time) (transform.GeodeticPoint, error) {
	teme, err := m.Propagate(t)
	if err != nil {
		return transform.GeodeticPoint{}, err
	}
	ecef := transform.TEMEToECEF(teme, t)
	return transform.ECEFToGeodetic(ecef.X, ecef.Y, ecef.Z), nil
}

// crossingCache remembers the last prediction for one record, including a
// negative result.
type crossingCache struct {
	computedAt time.Time // simulated time of the search
	crossing   Crossing
	found      bool
	valid      bool
}

func (c *crossingCache) fresh(simTime time.Time) bool {
	if !c.valid {
		return false
	}
	d := simTime.Sub(c.computedAt)
	if d < 0 {
		d = -d
	}
	return d <= crossingMaxDrift
}
