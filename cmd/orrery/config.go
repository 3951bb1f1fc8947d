package main

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/star/orrery/internal/auth"
	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/stream"
	"github.com/star/orrery/internal/tracker"
)

type simConfig struct {
	TickInterval time.Duration
	Rate         float64
	Start        time.Time
}

type trackerConfig struct {
	tracker.Config
	Model string
}

type ephemerisConfig struct {
	ephemeris.Config
	StoreDir    string
	HorizonsURL string
	HorizonsRPS float64
}

type tleConfig struct {
	EnableFetch bool
	SourceURL   string
	CacheDir    string
	Group       string
	MaxFiles    int
	MaxAge      time.Duration
}

type elementsConfig struct {
	SBDBURL     string
	SBDBRPS     float64
	IndexPath   string
	SmallBodies []string
}

// envInt, envFloat and envDuration keep def when the variable is unset or
// invalid, logging a warning for the latter.
func envInt(logger *slog.Logger, name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", def)
		return def
	}
	return n
}

func envFloat(logger *slog.Logger, name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", def)
		return def
	}
	return f
}

func envDuration(logger *slog.Logger, name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", def.String())
		return def
	}
	return d
}

func envList(name string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(name), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func loadLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("ORRERY_LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("ORRERY_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("ORRERY_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("ORRERY_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("ORRERY_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled for state-changing requests")
	}

	return cfg, nil
}

func loadSimConfig(logger *slog.Logger) simConfig {
	cfg := simConfig{
		TickInterval: time.Duration(envInt(logger, "ORRERY_TICK_INTERVAL_MS", 100)) * time.Millisecond,
		Rate:         1,
		Start:        time.Now().UTC(),
	}

	// Rate may be zero (frozen) or negative (running backwards).
	if v := os.Getenv("ORRERY_SIM_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			logger.Warn("invalid ORRERY_SIM_RATE value, using default", "value", v, "default", 1)
		} else {
			cfg.Rate = f
		}
	}

	if v := os.Getenv("ORRERY_SIM_START"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			logger.Warn("invalid ORRERY_SIM_START value, using wall time", "value", v)
		} else {
			cfg.Start = t.UTC()
		}
	}

	logger.Info("sim config",
		"tick_interval_ms", cfg.TickInterval.Milliseconds(),
		"rate", cfg.Rate,
		"start", cfg.Start.Format(time.RFC3339),
	)
	return cfg
}

func loadTrackerConfig(logger *slog.Logger) trackerConfig {
	cfg := trackerConfig{
		Config: tracker.Config{
			Budget:        envInt(logger, "ORRERY_TRACKER_BUDGET", 200),
			Workers:       envInt(logger, "ORRERY_TRACKER_WORKERS", 1),
			TrailCapacity: envInt(logger, "ORRERY_TRAIL_CAPACITY", 180),
			TrailInterval: envDuration(logger, "ORRERY_TRAIL_INTERVAL", 2*time.Second),
		},
		Model: "sgp4",
	}
	if v := os.Getenv("ORRERY_TRACKER_MODEL"); v != "" {
		cfg.Model = strings.ToLower(v)
	}

	logger.Info("tracker config",
		"budget", cfg.Budget,
		"workers", cfg.Workers,
		"model", cfg.Model,
		"trail_capacity", cfg.TrailCapacity,
		"trail_interval_seconds", cfg.TrailInterval.Seconds(),
	)
	return cfg
}

func loadEphemerisConfig(logger *slog.Logger) ephemerisConfig {
	cfg := ephemerisConfig{
		Config: ephemeris.Config{
			Window:     envInt(logger, "ORRERY_EPHEM_WINDOW", 10),
			TTL:        envDuration(logger, "ORRERY_EPHEM_TTL", 24*time.Hour),
			RetryAfter: envDuration(logger, "ORRERY_EPHEM_RETRY_AFTER", time.Minute),
		},
		StoreDir:    os.Getenv("ORRERY_EPHEM_STORE_DIR"),
		HorizonsURL: ephemeris.DefaultHorizonsURL,
		HorizonsRPS: envFloat(logger, "ORRERY_HORIZONS_RPS", 2),
	}
	if v := os.Getenv("ORRERY_HORIZONS_URL"); v != "" {
		cfg.HorizonsURL = v
	}

	logger.Info("ephemeris config",
		"window", cfg.Window,
		"ttl_seconds", cfg.TTL.Seconds(),
		"retry_after_seconds", cfg.RetryAfter.Seconds(),
		"store_dir", cfg.StoreDir,
		"horizons_url", cfg.HorizonsURL,
		"horizons_rps", cfg.HorizonsRPS,
	)
	return cfg
}

func loadTLEConfig(logger *slog.Logger) tleConfig {
	cfg := tleConfig{
		EnableFetch: true,
		CacheDir:    "/tmp/orrery/tle",
		Group:       "stations",
		MaxFiles:    5,
		MaxAge:      envDuration(logger, "ORRERY_TLE_MAX_AGE", 24*time.Hour),
	}

	if v := os.Getenv("ORRERY_ENABLE_TLE_FETCH"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid ORRERY_ENABLE_TLE_FETCH value, defaulting to false", "value", v)
			cfg.EnableFetch = false
		} else {
			cfg.EnableFetch = enabled
		}
	}
	if v := os.Getenv("ORRERY_TLE_SOURCE_URL"); v != "" {
		cfg.SourceURL = v
	}
	if v := os.Getenv("ORRERY_TLE_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("ORRERY_TLE_GROUP"); v != "" {
		cfg.Group = v
	}

	logger.Info("TLE config",
		"fetch_enabled", cfg.EnableFetch,
		"source_url", cfg.SourceURL,
		"group", cfg.Group,
		"cache_dir", cfg.CacheDir,
		"max_age_seconds", cfg.MaxAge.Seconds(),
	)
	return cfg
}

func loadElementsConfig(logger *slog.Logger) elementsConfig {
	cfg := elementsConfig{
		SBDBURL:     os.Getenv("ORRERY_SBDB_URL"),
		SBDBRPS:     envFloat(logger, "ORRERY_SBDB_RPS", 1),
		IndexPath:   os.Getenv("ORRERY_SBDB_INDEX"),
		SmallBodies: envList("ORRERY_SMALL_BODIES"),
	}

	logger.Info("elements config",
		"sbdb_url", cfg.SBDBURL,
		"index_path", cfg.IndexPath,
		"small_bodies", cfg.SmallBodies,
	)
	return cfg
}

func loadStreamConfig(logger *slog.Logger) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: envInt(logger, "ORRERY_STREAM_MAX_CONCURRENT", 10),
		MaxConcurrent:      envInt(logger, "ORRERY_STREAM_MAX_TOTAL", 1000),
		FrameRate:          envFloat(logger, "ORRERY_STREAM_FRAME_RATE", 10),
		PingInterval:       envDuration(logger, "ORRERY_STREAM_PING_INTERVAL", 30*time.Second),
	}

	if v := os.Getenv("ORRERY_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid ORRERY_TRUST_PROXY value, defaulting to false", "value", v)
		} else {
			cfg.TrustProxy = trust
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"max_concurrent", cfg.MaxConcurrent,
		"frame_rate", cfg.FrameRate,
		"ping_interval_seconds", cfg.PingInterval.Seconds(),
		"trust_proxy", cfg.TrustProxy,
	)
	return cfg
}
