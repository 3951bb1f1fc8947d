package api

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/star/orrery/internal/auth"
	"github.com/star/orrery/internal/elements"
	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/health"
	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/orbit"
	"github.com/star/orrery/internal/sim"
	"github.com/star/orrery/internal/tracker"
)

// BodyStates answers per-body state queries.
type BodyStates interface {
	Get(body string, jd float64) (ephemeris.State, error)
}

// BodyCatalog lists the bodies that can be queried.
type BodyCatalog interface {
	Bodies() []string
	Name(body string) (string, bool)
	AddBody(id, name string, els orbit.Elements) error
}

// ElementResolver looks up the elements of a small body by designator.
type ElementResolver interface {
	Resolve(ctx context.Context, designator string) (orbit.Elements, error)
}

// Deps are the components the HTTP surface reads from.
type Deps struct {
	Clock   *sim.Clock
	States  BodyStates
	Catalog BodyCatalog
	Tracker *tracker.Tracker
	Stream  http.Handler    // websocket frame stream; optional
	Health  *health.Checker // readiness checks; optional

	SmallBodies ElementResolver // SBDB lookups; optional
	Index       *elements.Index // small-body search index; optional

	Auth auth.Config // guards state-changing routes
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(logger, deps),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed handler with its middleware chain.
func NewHandler(logger *slog.Logger, deps Deps) http.Handler {
	checker := deps.Health
	if checker == nil {
		checker = health.NewChecker()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", checker.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/bodies", bodiesHandler(deps.Catalog))
	mux.HandleFunc("POST /api/v1/bodies", addBodyHandler(logger, deps.SmallBodies, deps.Catalog))
	mux.HandleFunc("GET /api/v1/small-bodies", searchHandler(deps.Index))
	mux.HandleFunc("GET /api/v1/bodies/{id}/state", bodyStateHandler(logger, deps.States, deps.Catalog, deps.Clock))

	mux.HandleFunc("GET /api/v1/satellites", satellitesHandler(deps.Tracker))
	mux.HandleFunc("POST /api/v1/satellites", addSatelliteHandler(logger, deps.Tracker))
	mux.HandleFunc("GET /api/v1/satellites/{norad_id}", satelliteHandler(deps.Tracker))
	mux.HandleFunc("DELETE /api/v1/satellites/{norad_id}", removeSatelliteHandler(logger, deps.Tracker))
	mux.HandleFunc("GET /api/v1/satellites/{norad_id}/trail", trailHandler(deps.Tracker))
	mux.HandleFunc("GET /api/v1/satellites/{norad_id}/crossing", crossingHandler(logger, deps.Tracker, deps.Clock))
	mux.HandleFunc("PUT /api/v1/tracked/{norad_id}", trackHandler(deps.Tracker))
	mux.HandleFunc("DELETE /api/v1/tracked", untrackHandler(deps.Tracker))

	if deps.Stream != nil {
		mux.Handle("GET /api/v1/stream", deps.Stream)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(deps.Auth)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Hijack lets the websocket upgrade take over the connection.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sr.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
