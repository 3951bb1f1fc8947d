// Package metrics exposes the Prometheus collectors for the orrery service and
// small helper functions so callers never touch collector vectors directly.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orrery_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	propagationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_propagations_total",
			Help: "Element propagations by conic regime and result.",
		},
		[]string{"regime", "result"},
	)

	solverNonConvergedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_solver_nonconverged_total",
			Help: "Anomaly solves that hit the iteration cap without meeting the residual tolerance.",
		},
		[]string{"regime"},
	)

	ephemerisLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_ephemeris_lookups_total",
			Help: "Ephemeris cache lookups by how the state was produced.",
		},
		[]string{"source"},
	)

	ephemerisRefillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_ephemeris_refills_total",
			Help: "Background ephemeris refills by outcome.",
		},
		[]string{"result"},
	)

	ephemerisSamples = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orrery_ephemeris_samples",
			Help: "Samples currently held across all body windows.",
		},
	)

	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_upstream_requests_total",
			Help: "Requests to upstream data providers by source and result.",
		},
		[]string{"source", "result"},
	)

	upstreamDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orrery_upstream_duration_seconds",
			Help:    "Upstream request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	trackerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orrery_tracker_tick_duration_seconds",
			Help:    "Time spent propagating one tick's share of the catalog.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)

	trackerPropagatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_tracker_propagated_total",
			Help: "Catalog record propagations by result.",
		},
		[]string{"result"},
	)

	trackerRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orrery_tracker_records",
			Help: "Records currently in the satellite catalog.",
		},
	)

	tleEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orrery_tle_entries",
			Help: "Entries in the current TLE dataset.",
		},
	)

	tleParseErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_tle_parse_errors_total",
			Help: "TLE entries skipped because they failed to parse.",
		},
	)

	streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orrery_stream_clients",
			Help: "Connected websocket stream clients.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_connections_total",
			Help: "Websocket connection events.",
		},
		[]string{"event"},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_stream_messages_total",
			Help: "Frames written to stream clients.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_stream_bytes_total",
			Help: "Bytes written to stream clients.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_errors_total",
			Help: "Stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		propagationsTotal,
		solverNonConvergedTotal,
		ephemerisLookupsTotal,
		ephemerisRefillsTotal,
		ephemerisSamples,
		upstreamRequestsTotal,
		upstreamDurationSeconds,
		trackerTickDuration,
		trackerPropagatedTotal,
		trackerRecords,
		tleEntries,
		tleParseErrorsTotal,
		streamClients,
		streamConnectionsTotal,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPropagation counts one propagation. result is "ok" or "degenerate".
func RecordPropagation(regime, result string) {
	propagationsTotal.WithLabelValues(regime, result).Inc()
}

// IncSolverNonConverged counts a solve that returned a best-effort iterate.
func IncSolverNonConverged(regime string) {
	solverNonConvergedTotal.WithLabelValues(regime).Inc()
}

// IncEphemerisLookup counts a cache lookup served as "interpolated", "nearest" or "analytic".
func IncEphemerisLookup(source string) {
	ephemerisLookupsTotal.WithLabelValues(source).Inc()
}

// IncEphemerisRefill counts a refill outcome: "merged", "failed", "coalesced"
// or "backoff".
func IncEphemerisRefill(result string) {
	ephemerisRefillsTotal.WithLabelValues(result).Inc()
}

func SetEphemerisSamples(n int) {
	ephemerisSamples.Set(float64(n))
}

// ObserveUpstream records one request to an upstream provider.
func ObserveUpstream(source string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	upstreamRequestsTotal.WithLabelValues(source, result).Inc()
	upstreamDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// RecordTick records one tracker tick: its duration and per-record results.
func RecordTick(d time.Duration, ok, failed int) {
	trackerTickDuration.Observe(d.Seconds())
	if ok > 0 {
		trackerPropagatedTotal.WithLabelValues("ok").Add(float64(ok))
	}
	if failed > 0 {
		trackerPropagatedTotal.WithLabelValues("error").Add(float64(failed))
	}
}

func SetTrackerRecords(n int) {
	trackerRecords.Set(float64(n))
}

func SetTLEEntries(n int) {
	tleEntries.Set(float64(n))
}

func AddTLEParseErrors(n int) {
	tleParseErrorsTotal.Add(float64(n))
}

func IncStreamClients() { streamClients.Inc() }
func DecStreamClients() { streamClients.Dec() }

// IncStreamConnections counts a "connect" or "disconnect" event.
func IncStreamConnections(event string) {
	streamConnectionsTotal.WithLabelValues(event).Inc()
}

// RecordStreamMessage counts one frame of n bytes.
func RecordStreamMessage(n int) {
	streamMessagesTotal.Inc()
	streamBytesTotal.Add(float64(n))
}

func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

var exactRoutes = map[string]bool{
	"/":                    true,
	"/healthz":             true,
	"/readyz":              true,
	"/metrics":             true,
	"/api/v1/satellites":   true,
	"/api/v1/stream":       true,
	"/api/v1/bodies":       true,
	"/api/v1/small-bodies": true,
	"/api/v1/tracked":      true,
}

// normalizeRoute collapses parameterized paths into their route pattern so
// that body and catalog ids do not explode label cardinality.
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}

	if rest, ok := strings.CutPrefix(path, "/api/v1/bodies/"); ok {
		id, tail, _ := strings.Cut(rest, "/")
		if id != "" && tail == "state" {
			return "/api/v1/bodies/{id}/state"
		}
		return "other"
	}

	if id, ok := strings.CutPrefix(path, "/api/v1/tracked/"); ok {
		if _, err := strconv.Atoi(id); err == nil {
			return "/api/v1/tracked/{id}"
		}
		return "other"
	}

	if rest, ok := strings.CutPrefix(path, "/api/v1/satellites/"); ok {
		id, tail, hasTail := strings.Cut(rest, "/")
		if _, err := strconv.Atoi(id); err != nil {
			return "other"
		}
		if !hasTail {
			return "/api/v1/satellites/{id}"
		}
		switch tail {
		case "trail", "crossing":
			return "/api/v1/satellites/{id}/" + tail
		}
	}

	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer (websocket hijack).
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack passes through to the underlying writer so websocket upgrades work
// behind the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
