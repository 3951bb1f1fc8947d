package tracker

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/star/orrery/internal/tle"
	"github.com/star/orrery/internal/transform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

const (
	issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
)

func issEntry(t *testing.T) tle.Entry {
	t.Helper()
	e, err := tle.ParseEntry("ISS (ZARYA)", issLine1, issLine2)
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	return e
}

// countingModel sits on the equator and counts propagations.
type countingModel struct {
	calls atomic.Int64
	fail  bool
}

func (m *countingModel) Propagate(time.Time) (transform.PositionTEME, error) {
	m.calls.Add(1)
	if m.fail {
		return transform.PositionTEME{}, ErrPropagation
	}
	return transform.PositionTEME{X: 7000, VY: 7.5}, nil
}

// fakeCatalog returns a tracker of n records backed by counting models,
// keyed by NORAD id 1..n.
func fakeCatalog(t *testing.T, n int, config Config, opts ...Option) (*Tracker, map[int]*countingModel) {
	t.Helper()
	models := make(map[int]*countingModel, n)
	factory := func(e tle.Entry) (Model, error) {
		m := &countingModel{fail: e.Name == "broken"}
		models[e.NORADID] = m
		return m, nil
	}
	tr := New(config, factory, testLogger(), opts...)
	for id := 1; id <= n; id++ {
		if err := tr.Add(tle.Entry{NORADID: id, Name: "sat"}); err != nil {
			t.Fatal(err)
		}
	}
	return tr, models
}

func TestTickRoundRobin(t *testing.T) {
	for _, workers := range []int{1, 4} {
		tr, models := fakeCatalog(t, 10, Config{Budget: 3, Workers: workers})

		for tick := 0; tick < 4; tick++ {
			stats := tr.Tick(simStart.Add(time.Duration(tick)*time.Second), 0)
			if stats.Propagated != 3 || stats.Failed != 0 {
				t.Errorf("workers=%d tick %d: stats = %+v, want 3 propagated", workers, tick, stats)
			}
		}

		// ⌈10/3⌉ = 4 ticks refresh every record.
		var total int64
		for id, m := range models {
			c := m.calls.Load()
			if c < 1 {
				t.Errorf("workers=%d: record %d never propagated", workers, id)
			}
			total += c
		}
		if total != 12 {
			t.Errorf("workers=%d: total propagations = %d, want 12", workers, total)
		}
	}
}

func TestTickBudgetLargerThanCatalog(t *testing.T) {
	tr, models := fakeCatalog(t, 3, Config{Budget: 50})
	stats := tr.Tick(simStart, 0)
	if stats.Propagated != 3 {
		t.Errorf("Propagated = %d, want 3", stats.Propagated)
	}
	for id, m := range models {
		if m.calls.Load() != 1 {
			t.Errorf("record %d propagated %d times, want once", id, m.calls.Load())
		}
	}

	if stats := New(Config{}, NewSGP4Model, testLogger()).Tick(simStart, 10); stats != (TickStats{}) {
		t.Errorf("empty catalog stats = %+v", stats)
	}
}

func TestTickSharesSimTime(t *testing.T) {
	tr, _ := fakeCatalog(t, 5, Config{Budget: 5, Workers: 3})
	tr.Tick(simStart, 0)
	for _, s := range tr.Snapshot() {
		if !s.UpdatedAt.Equal(simStart) {
			t.Errorf("record %d UpdatedAt = %v, want %v", s.NORADID, s.UpdatedAt, simStart)
		}
		if !s.Valid {
			t.Errorf("record %d not valid after tick", s.NORADID)
		}
	}
}

func TestTickRecordsFailures(t *testing.T) {
	tr, _ := fakeCatalog(t, 2, Config{})
	if err := tr.Add(tle.Entry{NORADID: 3, Name: "broken"}); err != nil {
		t.Fatal(err)
	}

	stats := tr.Tick(simStart, 0)
	if stats.Propagated != 2 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 2 ok 1 failed", stats)
	}
	s, ok := tr.Get(3)
	if !ok {
		t.Fatal("record 3 missing")
	}
	if s.Valid || s.Error == "" {
		t.Errorf("broken record state = %+v, want invalid with error", s)
	}
}

func TestTrackedTrail(t *testing.T) {
	wall := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return wall }
	tr, models := fakeCatalog(t, 5, Config{Budget: 1}, WithClock(clock))

	if err := tr.SetTracked(4); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		tr.Tick(simStart.Add(time.Duration(i)*time.Minute), 0)
		wall = wall.Add(time.Second)
	}

	// Propagated every tick despite the budget of one.
	if got := models[4].calls.Load(); got != 10 {
		t.Errorf("tracked propagations = %d, want 10", got)
	}
	id, pts := tr.Trail()
	if id != 4 {
		t.Errorf("trail id = %d, want 4", id)
	}
	if len(pts) != 5 {
		t.Fatalf("trail points = %d, want 5 with a 2s minimum interval", len(pts))
	}
	for i := 1; i < len(pts); i++ {
		if !pts[i].Time.After(pts[i-1].Time) {
			t.Errorf("trail not chronological at %d", i)
		}
	}

	if err := tr.SetTracked(2); err != nil {
		t.Fatal(err)
	}
	if _, pts := tr.Trail(); len(pts) != 0 {
		t.Errorf("trail kept %d points after changing tracked body", len(pts))
	}

	if err := tr.SetTracked(99); !errors.Is(err, ErrUnknownSatellite) {
		t.Errorf("SetTracked(99) err = %v, want ErrUnknownSatellite", err)
	}

	tr.Tick(simStart.Add(time.Hour), 0)
	if !tr.Remove(2) {
		t.Fatal("Remove(2) = false")
	}
	if id, pts := tr.Trail(); id != 0 || pts != nil {
		t.Errorf("Trail after removing tracked = %d, %v", id, pts)
	}
	if err := tr.SetTracked(0); err != nil {
		t.Errorf("SetTracked(0) = %v", err)
	}
}

func TestRemoveKeepsCursor(t *testing.T) {
	tr, models := fakeCatalog(t, 6, Config{Budget: 2})
	tr.Tick(simStart, 0) // 1, 2; cursor -> 3

	if !tr.Remove(1) {
		t.Fatal("Remove(1) = false")
	}
	if tr.Remove(1) {
		t.Error("second Remove(1) = true")
	}
	tr.Tick(simStart, 0) // 3, 4
	if models[3].calls.Load() != 1 || models[4].calls.Load() != 1 || models[5].calls.Load() != 0 {
		t.Errorf("cursor moved off record 3 after removal")
	}
	if tr.Len() != 5 {
		t.Errorf("Len = %d, want 5", tr.Len())
	}

	if _, ok := tr.Get(1); ok {
		t.Error("removed record still returned by Get")
	}
	if s, ok := tr.Get(6); !ok || s.NORADID != 6 {
		t.Errorf("Get(6) = %+v, %v", s, ok)
	}
}

func TestCrossingIsCachedBySimDrift(t *testing.T) {
	tr, models := fakeCatalog(t, 1, Config{})

	c, found, err := tr.Crossing(1, simStart)
	if err != nil || !found {
		t.Fatalf("Crossing = %+v, %v, %v", c, found, err)
	}
	after := models[1].calls.Load()

	if _, _, err := tr.Crossing(1, simStart.Add(30*time.Second)); err != nil {
		t.Fatal(err)
	}
	if got := models[1].calls.Load(); got != after {
		t.Errorf("cached crossing recomputed: calls %d -> %d", after, got)
	}

	if _, _, err := tr.Crossing(1, simStart.Add(90*time.Second)); err != nil {
		t.Fatal(err)
	}
	if got := models[1].calls.Load(); got == after {
		t.Errorf("crossing not recomputed after drift beyond 60s")
	}

	if _, _, err := tr.Crossing(42, simStart); !errors.Is(err, ErrUnknownSatellite) {
		t.Errorf("err = %v, want ErrUnknownSatellite", err)
	}
}

func TestSGP4ModelISS(t *testing.T) {
	e := issEntry(t)
	tr := New(Config{}, NewSGP4Model, testLogger())
	if err := tr.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}

	at := e.Epoch.Add(time.Hour)
	tr.Tick(at, 0)
	s, _ := tr.Get(25544)
	if !s.Valid {
		t.Fatalf("state invalid: %s", s.Error)
	}
	if s.AltitudeKm < 300 || s.AltitudeKm > 420 {
		t.Errorf("altitude = %.1f km, want 300-420", s.AltitudeKm)
	}
	if math.Abs(s.Latitude) > 52 {
		t.Errorf("|latitude| = %.2f exceeds inclination", math.Abs(s.Latitude))
	}
	speed := math.Sqrt(s.VelocityKmS[0]*s.VelocityKmS[0] + s.VelocityKmS[1]*s.VelocityKmS[1] + s.VelocityKmS[2]*s.VelocityKmS[2])
	if speed < 7.0 || speed > 8.0 {
		t.Errorf("ECEF speed = %.3f km/s, want 7-8", speed)
	}
}

func TestKeplerModelTracksSGP4NearEpoch(t *testing.T) {
	e := issEntry(t)
	sgp4, err := NewSGP4Model(e)
	if err != nil {
		t.Fatal(err)
	}
	kepler, err := NewKeplerModel(e)
	if err != nil {
		t.Fatal(err)
	}

	at := e.Epoch.Round(time.Second)
	a, err := sgp4.Propagate(at)
	if err != nil {
		t.Fatal(err)
	}
	b, err := kepler.Propagate(at)
	if err != nil {
		t.Fatal(err)
	}
	d := math.Sqrt((a.X-b.X)*(a.X-b.X) + (a.Y-b.Y)*(a.Y-b.Y) + (a.Z-b.Z)*(a.Z-b.Z))
	if d > 150 {
		t.Errorf("Kepler vs SGP4 at epoch differ by %.1f km, want < 150", d)
	}
	if r := b.Radius(); r < 6650 || r > 6800 {
		t.Errorf("Kepler radius = %.1f km", r)
	}
}

func TestModelFactory(t *testing.T) {
	for _, name := range []string{"", "sgp4", "SGP4", "kepler"} {
		if _, err := Factory(name); err != nil {
			t.Errorf("Factory(%q) = %v", name, err)
		}
	}
	if _, err := Factory("n-body"); err == nil {
		t.Error("Factory(n-body) succeeded")
	}

	bad := tle.Entry{NORADID: 1, Line1: issLine1[:60], Line2: issLine2}
	if _, err := NewSGP4Model(bad); err == nil {
		t.Error("NewSGP4Model accepted a short line")
	}
	if _, err := NewKeplerModel(tle.Entry{NORADID: 1}); err == nil {
		t.Error("NewKeplerModel accepted zero mean motion")
	}
}

func TestLoadSkipsBadEntries(t *testing.T) {
	tr := New(Config{}, NewSGP4Model, testLogger())
	e := issEntry(t)
	added, skipped := tr.Load([]tle.Entry{e, {NORADID: 7, Line1: "1 short", Line2: "2 short"}})
	if added != 1 || skipped != 1 {
		t.Errorf("Load = %d, %d, want 1, 1", added, skipped)
	}
}
