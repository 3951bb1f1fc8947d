// Package tracker keeps a catalog of Earth satellites built from two-line
// elements and propagates a bounded, rotating subset of it on every tick.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/tle"
	"github.com/star/orrery/internal/transform"
)

// ErrUnknownSatellite is returned for catalog numbers not in the catalog.
var ErrUnknownSatellite = errors.New("satellite not in catalog")

// Config holds tracker configuration loaded from environment variables.
type Config struct {
	Budget        int           // Records propagated per tick (default: 200)
	Workers       int           // Goroutines per tick; 1 propagates inline (default: 1)
	TrailCapacity int           // Trail ring size (default: 180)
	TrailInterval time.Duration // Minimum wall time between trail points (default: 2s)
}

func (c *Config) applyDefaults() {
	if c.Budget <= 0 {
		c.Budget = 200
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.TrailCapacity <= 0 {
		c.TrailCapacity = 180
	}
	if c.TrailInterval <= 0 {
		c.TrailInterval = 2 * time.Second
	}
}

// Record is one catalog satellite and its most recent propagated state.
// Records are updated in place by Tick.
type Record struct {
	NORADID   int
	Name      string
	Epoch     time.Time
	Position  transform.PositionECEF // km, km/s
	Geodetic  transform.GeodeticPoint
	UpdatedAt time.Time // simulated time of the last successful propagation
	Err       error     // last propagation failure, cleared on success

	model    Model
	crossing crossingCache
}

// State is a read-only copy of a record for callers outside the tracker.
type State struct {
	NORADID     int        `json:"norad_id"`
	Name        string     `json:"name"`
	Epoch       time.Time  `json:"epoch"`
	PositionKm  [3]float64 `json:"position_ecef_km"`
	VelocityKmS [3]float64 `json:"velocity_ecef_km_s"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	AltitudeKm  float64    `json:"altitude_km"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Valid       bool       `json:"valid"`
	Error       string     `json:"error,omitempty"`
	Tracked     bool       `json:"tracked"`
}

// TickStats summarizes one tick.
type TickStats struct {
	Propagated int
	Failed     int
	Duration   time.Duration
}

// Tracker owns the satellite catalog. Tick and the catalog mutators take the
// write lock; readers take the read lock. Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	records []*Record
	index   map[int]int // NORAD id -> position in records
	cursor  int
	tracked int // 0 when no satellite is tracked
	trail   *Trail

	newModel ModelFactory
	pool     *workerPool
	config   Config
	logger   *slog.Logger
	now      func() time.Time // wall clock, for trail spacing only
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides the wall clock used to space trail points.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New creates an empty tracker that builds models with newModel.
func New(config Config, newModel ModelFactory, logger *slog.Logger, opts ...Option) *Tracker {
	config.applyDefaults()
	t := &Tracker{
		index:    make(map[int]int),
		newModel: newModel,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	if config.Workers > 1 {
		t.pool = newWorkerPool(config.Workers)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add builds a model for e and inserts it, replacing any record with the
// same catalog number.
func (t *Tracker) Add(e tle.Entry) error {
	model, err := t.newModel(e)
	if err != nil {
		return err
	}
	rec := &Record{NORADID: e.NORADID, Name: e.Name, Epoch: e.Epoch, model: model}

	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := t.index[e.NORADID]; ok {
		t.records[i] = rec
		if t.tracked == e.NORADID {
			t.trail = nil
		}
	} else {
		t.index[e.NORADID] = len(t.records)
		t.records = append(t.records, rec)
	}
	metrics.SetTrackerRecords(len(t.records))
	return nil
}

// Load adds every entry, skipping the ones whose model cannot be built.
func (t *Tracker) Load(entries []tle.Entry) (added, skipped int) {
	for _, e := range entries {
		if err := t.Add(e); err != nil {
			t.logger.Warn("skipping catalog entry", "component", "tracker", "norad_id", e.NORADID, "error", err)
			skipped++
			continue
		}
		added++
	}
	t.logger.Info("catalog loaded", "component", "tracker", "added", added, "skipped", skipped, "records", t.Len())
	return added, skipped
}

// Remove deletes a record. Removing the tracked satellite stops tracking.
func (t *Tracker) Remove(noradID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[noradID]
	if !ok {
		return false
	}
	t.records = append(t.records[:i], t.records[i+1:]...)
	delete(t.index, noradID)
	for j := i; j < len(t.records); j++ {
		t.index[t.records[j].NORADID] = j
	}

	// Keep the cursor on the record it pointed at.
	if i < t.cursor {
		t.cursor--
	}
	if t.cursor >= len(t.records) {
		t.cursor = 0
	}
	if t.tracked == noradID {
		t.tracked = 0
		t.trail = nil
	}
	metrics.SetTrackerRecords(len(t.records))
	return true
}

// SetTracked selects the satellite whose trail is recorded; 0 disables
// tracking. The trail is cleared whenever the selection changes.
func (t *Tracker) SetTracked(noradID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if noradID != 0 {
		if _, ok := t.index[noradID]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownSatellite, noradID)
		}
	}
	if noradID != t.tracked {
		t.tracked = noradID
		t.trail = nil
	}
	return nil
}

// Tracked returns the tracked catalog number, or 0.
func (t *Tracker) Tracked() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tracked
}

// Tick propagates at most budget records to simTime, continuing round-robin
// from where the previous tick stopped, so with N records every record is
// refreshed at least once every ⌈N/budget⌉ ticks. budget <= 0 uses the
// configured budget. The tracked satellite is propagated on every tick on
// top of the budget so its trail keeps its resolution.
func (t *Tracker) Tick(simTime time.Time, budget int) TickStats {
	start := time.Now()
	if budget <= 0 {
		budget = t.config.Budget
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.records)
	if n == 0 {
		return TickStats{}
	}
	if budget > n {
		budget = n
	}

	batch := make([]*Record, 0, budget+1)
	trackedInBatch := false
	for i := 0; i < budget; i++ {
		rec := t.records[(t.cursor+i)%n]
		trackedInBatch = trackedInBatch || rec.NORADID == t.tracked
		batch = append(batch, rec)
	}
	t.cursor = (t.cursor + budget) % n

	var tracked *Record
	if t.tracked != 0 {
		tracked = t.records[t.index[t.tracked]]
		if !trackedInBatch {
			batch = append(batch, tracked)
		}
	}

	// One sidereal angle per tick: every record sees the same simulated time.
	gmst := transform.GMST(simTime)
	var ok, failed int
	if t.pool != nil && len(batch) > 1 {
		ok, failed = t.pool.run(batch, simTime, gmst)
	} else {
		for _, rec := range batch {
			if propagateRecord(rec, simTime, gmst) == nil {
				ok++
			} else {
				failed++
			}
		}
	}

	if tracked != nil && tracked.Err == nil && tracked.UpdatedAt.Equal(simTime) {
		if t.trail == nil {
			t.trail = NewTrail(t.config.TrailCapacity, t.config.TrailInterval)
		}
		t.trail.Append(TrailPoint{
			Time:       simTime,
			ECEF:       [3]float64{tracked.Position.X, tracked.Position.Y, tracked.Position.Z},
			Latitude:   tracked.Geodetic.LatDeg,
			Longitude:  tracked.Geodetic.LonDeg,
			AltitudeKm: tracked.Geodetic.AltKm,
		}, t.now())
	}

	stats := TickStats{Propagated: ok, Failed: failed, Duration: time.Since(start)}
	metrics.RecordTick(stats.Duration, ok, failed)
	if failed > 0 {
		t.logger.Debug("tick had propagation failures", "component", "tracker",
			"propagated", ok, "failed", failed, "sim_time", simTime.UTC().Format(time.RFC3339))
	}
	return stats
}

func propagateRecord(rec *Record, simTime time.Time, gmst float64) error {
	teme, err := rec.model.Propagate(simTime)
	if err != nil {
		rec.Err = err
		return err
	}
	ecef := transform.TEMEToECEFWithGMST(teme, gmst)
	rec.Position = ecef
	rec.Geodetic = transform.ECEFToGeodetic(ecef.X, ecef.Y, ecef.Z)
	rec.UpdatedAt = simTime
	rec.Err = nil
	return nil
}

// Len returns the catalog size.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Snapshot copies every record's current state, in catalog order.
func (t *Tracker) Snapshot() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]State, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, t.stateOf(rec))
	}
	return out
}

// Get returns one record's state.
func (t *Tracker) Get(noradID int) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i, ok := t.index[noradID]
	if !ok {
		return State{}, false
	}
	return t.stateOf(t.records[i]), true
}

func (t *Tracker) stateOf(rec *Record) State {
	s := State{
		NORADID:     rec.NORADID,
		Name:        rec.Name,
		Epoch:       rec.Epoch,
		PositionKm:  [3]float64{rec.Position.X, rec.Position.Y, rec.Position.Z},
		VelocityKmS: [3]float64{rec.Position.VX, rec.Position.VY, rec.Position.VZ},
		Latitude:    rec.Geodetic.LatDeg,
		Longitude:   rec.Geodetic.LonDeg,
		AltitudeKm:  rec.Geodetic.AltKm,
		UpdatedAt:   rec.UpdatedAt,
		Valid:       !rec.UpdatedAt.IsZero() && rec.Err == nil,
		Tracked:     rec.NORADID == t.tracked,
	}
	if rec.Err != nil {
		s.Error = rec.Err.Error()
	}
	return s
}

// Trail returns the tracked satellite's trail, oldest first. The catalog
// number is 0 when nothing is tracked.
func (t *Tracker) Trail() (int, []TrailPoint) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.trail == nil {
		return t.tracked, nil
	}
	return t.tracked, t.trail.Points()
}

// Crossing returns the next equator crossing of a satellite after simTime.
// A prediction is reused until simTime drifts more than 60 s from the time
// it was computed for.
func (t *Tracker) Crossing(noradID int, simTime time.Time) (Crossing, bool, error) {
	t.mu.RLock()
	i, ok := t.index[noradID]
	if !ok {
		t.mu.RUnlock()
		return Crossing{}, false, fmt.Errorf("%w: %d", ErrUnknownSatellite, noradID)
	}
	rec := t.records[i]
	cached := rec.crossing
	model := rec.model
	t.mu.RUnlock()

	if cached.fresh(simTime) {
		return cached.crossing, cached.found, nil
	}

	// The search runs without the lock so ticks are not held up.
	c, found := PredictEquatorCrossing(model, simTime)

	t.mu.Lock()
	if i, ok := t.index[noradID]; ok && t.records[i] == rec {
		rec.crossing = crossingCache{computedAt: simTime, crossing: c, found: found, valid: true}
	}
	t.mu.Unlock()
	return c, found, nil
}
