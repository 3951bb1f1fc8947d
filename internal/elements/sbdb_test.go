package elements

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"

	"github.com/star/orrery/internal/conic"
	"github.com/star/orrery/internal/orbit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

const erosResponse = `{
  "signature": {"source": "NASA/JPL Small-Body Database (SBDB) API", "version": "1.3"},
  "object": {"fullname": "433 Eros (A898 PA)", "des": "433", "kind": "an"},
  "orbit": {
    "epoch": "2460600.5",
    "elements": [
      {"name": "e", "value": ".2227", "label": "e"},
      {"name": "a", "value": "1.458", "label": "a", "units": "au"},
      {"name": "q", "value": "1.133", "label": "q", "units": "au"},
      {"name": "i", "value": "10.83", "label": "i", "units": "deg"},
      {"name": "om", "value": "304.3", "label": "node", "units": "deg"},
      {"name": "w", "value": "178.9", "label": "peri", "units": "deg"},
      {"name": "ma", "value": "310.5", "label": "M", "units": "deg"},
      {"name": "tp", "value": "2460402.1", "label": "tp", "units": "TDB"},
      {"name": "per", "value": "643.1", "label": "period", "units": "d"}
    ]
  }
}`

func sbdbServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("sstr") {
		case "433":
			w.Write([]byte(erosResponse))
		case "ceres*":
			w.WriteHeader(http.StatusMultipleChoices)
			w.Write([]byte(`{"code":"300","message":"specified search string matched multiple objects","list":[]}`))
		case "broken":
			w.Write([]byte(`{"orbit": {"elements": [`))
		case "down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Write([]byte(`{"code":"200","message":"specified object was not found"}`))
		}
	}))
}

func newTestClient(url string) *SBDBClient {
	c := NewSBDBClient(url, 1, testLogger())
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestSBDBResolve(t *testing.T) {
	server := sbdbServer(t)
	defer server.Close()

	els, err := newTestClient(server.URL).Resolve(context.Background(), "433")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if els.A != 1.458 || els.E != 0.2227 || els.Epoch != 2460600.5 {
		t.Errorf("elements = %+v", els)
	}
	if els.Regime() != conic.Elliptic {
		t.Errorf("regime = %v, want elliptic", els.Regime())
	}
	if els.Provenance != "sbdb:433" {
		t.Errorf("Provenance = %q, want sbdb:433", els.Provenance)
	}
}

func TestSBDBLookupErrors(t *testing.T) {
	server := sbdbServer(t)
	defer server.Close()
	c := newTestClient(server.URL)

	if _, err := c.Lookup(context.Background(), "nothing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("not found: err = %v, want ErrNotFound", err)
	}
	if _, err := c.Lookup(context.Background(), "ceres*"); !errors.Is(err, ErrAmbiguous) {
		t.Errorf("ambiguous: err = %v, want ErrAmbiguous", err)
	}

	var pe *orbit.ParseError
	if _, err := c.Lookup(context.Background(), "broken"); !errors.As(err, &pe) {
		t.Errorf("broken: err = %v, want *orbit.ParseError", err)
	}
	if _, err := c.Lookup(context.Background(), "down"); err == nil {
		t.Error("down: expected error, got nil")
	}
}
