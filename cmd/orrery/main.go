package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/orrery/internal/api"
	"github.com/star/orrery/internal/elements"
	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/health"
	"github.com/star/orrery/internal/sim"
	"github.com/star/orrery/internal/stream"
	"github.com/star/orrery/internal/tle"
	"github.com/star/orrery/internal/tracker"
	"github.com/star/orrery/internal/transform"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: loadLogLevel(),
	}))

	if err := run(logger); err != nil {
		logger.Error("orrery exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(logger *slog.Logger) error {
	addr := os.Getenv("ORRERY_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		return fmt.Errorf("invalid auth configuration: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Satellite catalog.
	trackerCfg := loadTrackerConfig(logger)
	factory, err := tracker.Factory(trackerCfg.Model)
	if err != nil {
		return fmt.Errorf("tracker config: %w", err)
	}
	tr := tracker.New(trackerCfg.Config, factory, logger)

	tleCfg := loadTLEConfig(logger)
	tleStore := tle.NewStore()
	tleCache := tle.NewCache(tleCfg.CacheDir, tleCfg.MaxFiles)
	tleFetcher := tle.NewFetcher(tleCfg.SourceURL, logger)
	loadCachedTLE(tleCache, tleStore, tr, tleCfg.Group, logger)

	// Bodies: analytic table, Horizons samples, optional small bodies.
	table := elements.DefaultTable()
	elemCfg := loadElementsConfig(logger)
	sbdb := elements.NewSBDBClient(elemCfg.SBDBURL, elemCfg.SBDBRPS, logger)
	var index *elements.Index
	if elemCfg.IndexPath != "" {
		if index, err = elements.LoadIndex(elemCfg.IndexPath); err != nil {
			logger.Warn("small-body index unavailable", "path", elemCfg.IndexPath, "error", err)
		} else {
			logger.Info("small-body index loaded", "asteroids", index.Metadata.AsteroidCount,
				"comets", index.Metadata.CometCount)
		}
	}

	ephemCfg := loadEphemerisConfig(logger)
	horizons := ephemeris.NewHorizonsFetcher(ephemCfg.HorizonsURL, ephemCfg.HorizonsRPS, logger)
	var cacheOpts []ephemeris.Option
	if ephemCfg.StoreDir != "" {
		disk, err := ephemeris.NewDiskStore(ephemCfg.StoreDir)
		if err != nil {
			return fmt.Errorf("ephemeris store: %w", err)
		}
		cacheOpts = append(cacheOpts, ephemeris.WithStore(disk))
	}
	ephem := ephemeris.NewCache(ephemCfg.Config, ephemeris.NewResolver(horizons, table), logger, cacheOpts...)
	if err := ephem.Warm(ctx, nil); err != nil {
		logger.Warn("ephemeris warm-up failed", "error", err)
	}

	// Sim loop and frame push.
	simCfg := loadSimConfig(logger)
	clock := sim.NewClock(simCfg.Start, simCfg.Rate, nil)
	hub := stream.NewHub(loadStreamConfig(logger), tr, logger)
	loop := sim.NewLoop(clock, simCfg.TickInterval, logger,
		func(_ context.Context, simTime time.Time) { tr.Tick(simTime, 0) },
		frameHandler(hub, ephem, table, tr, logger),
	)

	checker := health.NewChecker()
	checker.Add("satellite_catalog", func() error {
		if tr.Len() == 0 {
			return errors.New("no satellites loaded")
		}
		return nil
	})
	checker.Add("sim_loop", func() error {
		if loop.Ticks() == 0 {
			return errors.New("no tick completed")
		}
		return nil
	})

	srv := api.NewServer(addr, logger, api.Deps{
		Clock:       clock,
		States:      ephem,
		Catalog:     table,
		Tracker:     tr,
		Stream:      hub,
		Health:      checker,
		SmallBodies: sbdb,
		Index:       index,
		Auth:        authCfg,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("starting server", "addr", addr, "auth_enabled", authCfg.Enabled, "tle_fetch_enabled", tleCfg.EnableFetch)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	})

	if tleCfg.EnableFetch {
		g.Go(func() error {
			refreshTLELoop(gctx, tleFetcher, tleCache, tleStore, tr, tleCfg, logger)
			return nil
		})
	}

	if len(elemCfg.SmallBodies) > 0 {
		g.Go(func() error {
			addSmallBodies(gctx, sbdb, table, elemCfg.SmallBodies, logger)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		hub.Close()
		ephem.Close()
		if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		ephem.Wait()
		return nil
	})

	return g.Wait()
}

// frameHandler builds one frame per tick from the same simulated time the
// tracker was ticked with. Nothing is computed while no one is subscribed.
func frameHandler(hub *stream.Hub, ephem *ephemeris.Cache, table *elements.Table, tr *tracker.Tracker, logger *slog.Logger) sim.Handler {
	return func(_ context.Context, simTime time.Time) {
		if hub.Clients() == 0 {
			return
		}
		jd := transform.JulianDate(simTime)

		frame := stream.Frame{SimTime: simTime, JD: jd}
		for _, id := range table.Bodies() {
			st, err := ephem.Get(id, jd)
			if err != nil {
				logger.Debug("body state unavailable", "component", "sim", "body_id", id, "error", err)
				continue
			}
			frame.Bodies = append(frame.Bodies, stream.BodyFrom(st))
		}
		frame.Satellites = tr.Snapshot()
		frame.Tracked, frame.Trail = tr.Trail()

		if err := hub.Broadcast(frame); err != nil {
			logger.Warn("frame broadcast failed", "component", "sim", "error", err)
		}
	}
}

// loadCachedTLE seeds the catalog from the newest cached download, if any.
func loadCachedTLE(cache *tle.Cache, store *tle.Store, tr *tracker.Tracker, group string, logger *slog.Logger) {
	data, ts, err := cache.LoadLatest(group)
	if err != nil {
		logger.Info("no TLE cache found, starting without TLE data", "error", err)
		return
	}
	entries, err := tle.Parse(bytes.NewReader(data), logger)
	if err != nil {
		logger.Warn("failed to parse cached TLE data", "error", err)
		return
	}
	store.Set(tle.NewDataset("cache", ts, entries))
	added, skipped := tr.Load(entries)
	logger.Info("loaded TLE data from cache", "count", added, "skipped", skipped,
		"cached_at", ts.Format(time.RFC3339))
}

// refreshTLELoop downloads the group whenever the loaded dataset is missing
// or older than MaxAge, checking once a minute.
func refreshTLELoop(ctx context.Context, f *tle.Fetcher, cache *tle.Cache, store *tle.Store,
	tr *tracker.Tracker, cfg tleConfig, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		if age, ok := store.Age(time.Now()); !ok || age > cfg.MaxAge {
			if err := refreshTLE(ctx, f, cache, store, tr, cfg.Group, logger); err != nil {
				logger.Warn("TLE refresh failed", "group", cfg.Group, "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func refreshTLE(ctx context.Context, f *tle.Fetcher, cache *tle.Cache, store *tle.Store,
	tr *tracker.Tracker, group string, logger *slog.Logger) error {
	store.Lock()
	defer store.Unlock()

	data, err := f.FetchGroup(ctx, group)
	if err != nil {
		return err
	}
	entries, err := tle.Parse(bytes.NewReader(data), logger)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", group, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w in group %s", tle.ErrNotFound, group)
	}

	now := time.Now().UTC()
	if err := cache.Write(group, data, now); err != nil {
		logger.Warn("failed to write TLE cache", "error", err)
	}
	store.Set(tle.NewDataset(f.BaseURL(), now, entries))
	added, skipped := tr.Load(entries)
	logger.Info("TLE data refreshed", "group", group, "count", added, "skipped", skipped)
	return nil
}

// addSmallBodies resolves configured designators through SBDB and adds them
// to the analytic table. Failures are logged and skipped.
func addSmallBodies(ctx context.Context, sbdb *elements.SBDBClient, table *elements.Table, designators []string, logger *slog.Logger) {
	for _, des := range designators {
		els, err := sbdb.Resolve(ctx, des)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("small body lookup failed", "designator", des, "error", err)
			continue
		}
		if err := table.AddBody(des, des, els); err != nil {
			logger.Warn("small body rejected", "designator", des, "error", err)
			continue
		}
		logger.Info("small body added", "designator", des, "provenance", els.Provenance)
	}
}
