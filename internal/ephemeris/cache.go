package ephemeris

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/orbit"
)

// Config holds cache configuration loaded from environment variables.
type Config struct {
	Window        int           // Max samples per body (default: 10)
	TTL           time.Duration // Sample freshness, by fetch time (default: 24h)
	BucketDays    float64       // Refill granularity in days (default: 1)
	RefillTimeout time.Duration // Per-refill upstream deadline (default: 30s)
	RetryAfter    time.Duration // Pause before refetching a bucket whose refill failed (default: 1m)
}

func (c *Config) applyDefaults() {
	if c.Window <= 1 {
		c.Window = 10
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.BucketDays <= 0 {
		c.BucketDays = 1
	}
	if c.RefillTimeout <= 0 {
		c.RefillTimeout = 30 * time.Second
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = time.Minute
	}
}

// State is a body's state vector along with how it was produced.
type State struct {
	orbit.StateVector
	Body   string
	Source Source
}

// Cache keeps a per-body window of samples. Get never blocks on the network:
// it answers from the window or from analytic elements and schedules a
// background refill. Safe for concurrent use by multiple goroutines.
type Cache struct {
	mu      sync.Mutex
	windows map[string]*window

	config   Config
	resolver *Resolver
	store    SampleStore
	logger   *slog.Logger
	now      func() time.Time

	// One refill per body and bucket at a time; failed buckets wait RetryAfter.
	refillMu sync.Mutex
	pending  map[string]struct{}
	failedAt map[string]time.Time

	// Adjacent buckets share an edge; fetches of the same edge share one call.
	inflight singleflight.Group
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	// Counters (lock-free).
	interpolated atomic.Int64
	nearest      atomic.Int64
	analytic     atomic.Int64
	refills      atomic.Int64
	failures     atomic.Int64
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the wall clock used for sample freshness.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithStore sets the persistent sample store. The default is a MemoryStore.
func WithStore(s SampleStore) Option {
	return func(c *Cache) {
		c.store = s
	}
}

// NewCache creates a cache that refills through resolver.
func NewCache(config Config, resolver *Resolver, logger *slog.Logger, opts ...Option) *Cache {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Cache{
		windows:  make(map[string]*window),
		pending:  make(map[string]struct{}),
		failedAt: make(map[string]time.Time),
		config:   config,
		resolver: resolver,
		store:    NewMemoryStore(),
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	logger.Info("ephemeris cache initialized",
		"window", config.Window,
		"ttl_hours", config.TTL.Hours(),
		"bucket_days", config.BucketDays,
		"retry_after_s", config.RetryAfter.Seconds(),
	)
	return c
}

// Get returns the state of body at jd. Two samples bracketing jd are blended
// linearly; a one-sided window returns its nearest sample unchanged; with no
// fresh samples the analytic tier answers. Whenever jd is not bracketed a
// background refill is scheduled. The only errors come from the analytic tier.
func (c *Cache) Get(body string, jd float64) (State, error) {
	now := c.now()

	c.mu.Lock()
	var (
		sv   orbit.StateVector
		kind = lookupNone
	)
	if w, ok := c.windows[body]; ok {
		if removed := w.evictStale(now, c.config.TTL); removed > 0 {
			c.logger.Debug("stale samples evicted", "body_id", body, "removed", removed)
		}
		sv, kind = w.lookup(jd)
	}
	c.mu.Unlock()

	switch kind {
	case lookupBracketed:
		c.interpolated.Add(1)
		metrics.IncEphemerisLookup(string(SourceInterpolated))
		return State{StateVector: sv, Body: body, Source: SourceInterpolated}, nil
	case lookupNearest:
		c.nearest.Add(1)
		metrics.IncEphemerisLookup(string(SourceNearest))
		c.refill(body, jd)
		return State{StateVector: sv, Body: body, Source: SourceNearest}, nil
	}

	c.refill(body, jd)
	c.analytic.Add(1)
	metrics.IncEphemerisLookup(string(SourceAnalytic))
	sv, err := c.resolver.Analytic(body, jd)
	if err != nil {
		return State{}, err
	}
	return State{StateVector: sv, Body: body, Source: SourceAnalytic}, nil
}

// bucketStart returns the JD at the start of the refill bucket holding jd.
// With 1-day buckets the edges fall on 0h UTC.
func (c *Cache) bucketStart(jd float64) float64 {
	b := c.config.BucketDays
	return math.Floor((jd-0.5)/b)*b + 0.5
}

// refill fetches the samples at both edges of jd's bucket in the background.
// A bucket already being refilled is left alone, and a bucket whose last
// refill failed is not retried until RetryAfter has passed.
// Nothing is cancelled when a newer request arrives; late results are merged.
func (c *Cache) refill(body string, jd float64) {
	if c.ctx.Err() != nil {
		return
	}
	start := c.bucketStart(jd)
	key := fmt.Sprintf("%s@%.6f", body, start)

	c.refillMu.Lock()
	if _, ok := c.pending[key]; ok {
		c.refillMu.Unlock()
		metrics.IncEphemerisRefill("coalesced")
		return
	}
	if at, ok := c.failedAt[key]; ok && c.now().Sub(at) < c.config.RetryAfter {
		c.refillMu.Unlock()
		metrics.IncEphemerisRefill("backoff")
		return
	}
	c.pending[key] = struct{}{}
	c.refillMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.fetchBucket(body, start)

		c.refillMu.Lock()
		delete(c.pending, key)
		if err != nil {
			c.failedAt[key] = c.now()
		} else {
			delete(c.failedAt, key)
		}
		c.refillMu.Unlock()
	}()
}

func (c *Cache) fetchBucket(body string, start float64) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.config.RefillTimeout)
	defer cancel()

	c.refills.Add(1)
	var firstErr error
	for _, t := range []float64{start, start + c.config.BucketDays} {
		if err := c.fetchEdge(ctx, body, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fetchEdge fetches and merges the sample at t unless the window already
// holds it.
func (c *Cache) fetchEdge(ctx context.Context, body string, t float64) error {
	c.mu.Lock()
	w, ok := c.windows[body]
	have := ok && w.has(t)
	c.mu.Unlock()
	if have {
		return nil
	}

	key := fmt.Sprintf("%s@%.6f", body, t)
	_, err, shared := c.inflight.Do(key, func() (any, error) {
		s, err := c.resolver.Fetch(ctx, body, t)
		if err != nil {
			c.failures.Add(1)
			metrics.IncEphemerisRefill("failed")
			c.logger.Warn("ephemeris refill failed", "component", "ephemeris", "body_id", body, "jd", t, "error", err)
			return nil, err
		}
		if s.FetchedAt.IsZero() {
			s.FetchedAt = c.now()
		}
		c.Merge(body, s)
		metrics.IncEphemerisRefill("merged")
		return nil, nil
	})
	if shared {
		metrics.IncEphemerisRefill("coalesced")
	}
	return err
}

// Merge inserts a sample into body's window and writes the window through to
// the store.
func (c *Cache) Merge(body string, s Sample) {
	c.mu.Lock()
	w, ok := c.windows[body]
	if !ok {
		w = &window{}
		c.windows[body] = w
	}
	w.merge(s, c.config.Window)
	snapshot := w.snapshot()
	total := c.sampleCountLocked()
	c.mu.Unlock()

	metrics.SetEphemerisSamples(total)
	if err := c.store.Save(c.ctx, body, snapshot); err != nil {
		c.logger.Warn("persisting samples failed", "component", "ephemeris", "body_id", body, "error", err)
	}
}

// Warm loads persisted samples for bodies, or for every stored body when
// bodies is empty. Stale samples are dropped on load.
func (c *Cache) Warm(ctx context.Context, bodies []string) error {
	if len(bodies) == 0 {
		var err error
		if bodies, err = c.store.Bodies(ctx); err != nil {
			return fmt.Errorf("listing stored bodies: %w", err)
		}
	}

	now := c.now()
	loaded := 0
	for _, body := range bodies {
		samples, err := c.store.Load(ctx, body)
		if err != nil {
			c.logger.Warn("loading stored samples failed", "component", "ephemeris", "body_id", body, "error", err)
			continue
		}

		c.mu.Lock()
		w, ok := c.windows[body]
		if !ok {
			w = &window{}
			c.windows[body] = w
		}
		for _, s := range samples {
			if s.valid() && now.Sub(s.FetchedAt) <= c.config.TTL {
				w.merge(s, c.config.Window)
				loaded++
			}
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	total := c.sampleCountLocked()
	c.mu.Unlock()
	metrics.SetEphemerisSamples(total)

	c.logger.Info("ephemeris cache warmed", "component", "ephemeris", "bodies", len(bodies), "samples", loaded)
	return nil
}

// Samples returns a copy of body's current window.
func (c *Cache) Samples(body string) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.windows[body]; ok {
		return w.snapshot()
	}
	return nil
}

// Wait blocks until every scheduled refill has finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Close aborts outstanding refills and waits for them. Used at process teardown.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Cache) sampleCountLocked() int {
	n := 0
	for _, w := range c.windows {
		n += len(w.samples)
	}
	return n
}

// Stats holds cache statistics for the stats endpoint.
type Stats struct {
	Bodies       int   `json:"bodies"`
	Samples      int   `json:"samples"`
	Interpolated int64 `json:"interpolated"`
	Nearest      int64 `json:"nearest"`
	Analytic     int64 `json:"analytic"`
	Refills      int64 `json:"refills"`
	Failures     int64 `json:"failures"`
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	bodies, samples := len(c.windows), c.sampleCountLocked()
	c.mu.Unlock()

	return Stats{
		Bodies:       bodies,
		Samples:      samples,
		Interpolated: c.interpolated.Load(),
		Nearest:      c.nearest.Load(),
		Analytic:     c.analytic.Load(),
		Refills:      c.refills.Load(),
		Failures:     c.failures.Load(),
	}
}
