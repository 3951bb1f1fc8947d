package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		// Known exact routes.
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/", "/"},
		{"/api/v1/satellites", "/api/v1/satellites"},
		{"/api/v1/stream", "/api/v1/stream"},
		{"/api/v1/small-bodies", "/api/v1/small-bodies"},
		{"/api/v1/tracked", "/api/v1/tracked"},

		// Parameterized routes collapse to one label.
		{"/api/v1/bodies/399/state", "/api/v1/bodies/{id}/state"},
		{"/api/v1/bodies/1P/state", "/api/v1/bodies/{id}/state"},
		{"/api/v1/satellites/25544", "/api/v1/satellites/{id}"},
		{"/api/v1/satellites/25544/trail", "/api/v1/satellites/{id}/trail"},
		{"/api/v1/satellites/44713/crossing", "/api/v1/satellites/{id}/crossing"},
		{"/api/v1/tracked/25544", "/api/v1/tracked/{id}"},

		// Unknown/bot paths collapse to "other".
		{"/wp-admin", "other"},
		{"/robots.txt", "other"},
		{"/.env", "other"},
		{"/api/v1/bodies/399", "other"},
		{"/api/v1/satellites/abc", "other"},
		{"/api/v1/tracked/iss", "other"},
		{"/api/v1/satellites/25544/secrets", "other"},
		{"/api/v2/something", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := normalizeRoute(tt.path)
			if got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestMetricsCardinality verifies that 100 unique catalog ids produce
// exactly 1 distinct path label, not 100.
func TestMetricsCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		label := normalizeRoute("/api/v1/satellites/" + string(rune('0'+i%10)) + string(rune('0'+i/10)))
		seen[label] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 unique label for parameterized paths, got %d: %v", len(seen), seen)
	}
}

func TestMiddlewareCountsByRoute(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/api/v1/satellites/{id}", "GET", "418"))
	for _, id := range []string{"1", "2", "3"} {
		req := httptest.NewRequest("GET", "/api/v1/satellites/"+id, nil)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/api/v1/satellites/{id}", "GET", "418"))

	if after-before != 3 {
		t.Errorf("request counter delta = %v, want 3", after-before)
	}
}

func TestHelpers(t *testing.T) {
	before := testutil.ToFloat64(solverNonConvergedTotal.WithLabelValues("hyperbolic"))
	IncSolverNonConverged("hyperbolic")
	if got := testutil.ToFloat64(solverNonConvergedTotal.WithLabelValues("hyperbolic")) - before; got != 1 {
		t.Errorf("nonconverged delta = %v, want 1", got)
	}

	errBefore := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("horizons", "error"))
	ObserveUpstream("horizons", 10*time.Millisecond, errors.New("boom"))
	if got := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("horizons", "error")) - errBefore; got != 1 {
		t.Errorf("upstream error delta = %v, want 1", got)
	}

	SetTrackerRecords(42)
	if got := testutil.ToFloat64(trackerRecords); got != 42 {
		t.Errorf("tracker records = %v, want 42", got)
	}
}
