package ephemeris

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/orrery/internal/orbit"
)

const earthVectors = `*******************************************************************************
Ephemeris / API_USER Sat Jan  1 00:00:00 2000 Pasadena, USA      / Horizons
*******************************************************************************
Target body name: Earth (399)                     {source: DE441}
Center body name: Sun (10)                        {source: DE441}
*******************************************************************************
            JDTDB,            Calendar Date (TDB),                      X,                      Y,                      Z,                     VX,                     VY,                     VZ,
**************************************************************************************************************************************************************************************
$$SOE
2451545.000000000, A.D. 2000-Jan-01 12:00:00.0000, -1.771354370936820E-01,  9.672416239831374E-01, -4.020936047060047E-06, -1.720762416456774E-02, -3.158782678765880E-03,  1.049888532003150E-07,
$$EOE
**************************************************************************************************************************************************************************************
`

func horizonsServer(t *testing.T, status int, result, apiErr string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("EPHEM_TYPE") != "'VECTORS'" || q.Get("CENTER") != "'500@10'" || q.Get("format") != "json" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"result": result, "error": apiErr})
	}))
}

func newTestHorizons(url string) *HorizonsFetcher {
	h := NewHorizonsFetcher(url, 0, testLogger())
	h.limiter = rate.NewLimiter(rate.Inf, 1)
	h.now = func() time.Time { return t0 }
	return h
}

func TestHorizonsFetch(t *testing.T) {
	var gotCommand, gotTList string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCommand = r.URL.Query().Get("COMMAND")
		gotTList = r.URL.Query().Get("TLIST")
		json.NewEncoder(w).Encode(map[string]string{"result": earthVectors})
	}))
	defer srv.Close()

	s, err := newTestHorizons(srv.URL).Fetch(context.Background(), earth, j2000)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotCommand != "'399'" {
		t.Errorf("COMMAND = %q, want '399'", gotCommand)
	}
	if gotTList != "'2451545.000000'" {
		t.Errorf("TLIST = %q", gotTList)
	}
	if s.Time != j2000 {
		t.Errorf("Time = %v, want %v", s.Time, j2000)
	}
	wantPos := orbit.Vec3{-1.771354370936820e-01, 9.672416239831374e-01, -4.020936047060047e-06}
	if s.Position != wantPos {
		t.Errorf("Position = %v, want %v", s.Position, wantPos)
	}
	if s.Velocity[0] != -1.720762416456774e-02 {
		t.Errorf("VX = %v", s.Velocity[0])
	}
	if !s.FetchedAt.Equal(t0) {
		t.Errorf("FetchedAt = %v, want %v", s.FetchedAt, t0)
	}
}

func TestHorizonsFetchFailures(t *testing.T) {
	nanRow := "$$SOE\n2451545.0, A.D. 2000-Jan-01, NaN, 0, 0, 0, 0, 0,\n$$EOE\n"
	shortRow := "$$SOE\n2451545.0, A.D. 2000-Jan-01, 1.0, 0.0,\n$$EOE\n"

	tests := []struct {
		name    string
		status  int
		result  string
		apiErr  string
		isParse bool
	}{
		{"server error", http.StatusServiceUnavailable, "", "", false},
		{"api error", http.StatusOK, "", "No ephemeris for target \"Pluto\"", false},
		{"no block", http.StatusOK, "no matches found", "", true},
		{"empty block", http.StatusOK, "$$SOE\n$$EOE\n", "", true},
		{"non-finite", http.StatusOK, nanRow, "", true},
		{"short row", http.StatusOK, shortRow, "", true},
	}
	for _, tt := range tests {
		srv := horizonsServer(t, tt.status, tt.result, tt.apiErr)
		_, err := newTestHorizons(srv.URL).Fetch(context.Background(), earth, j2000)
		srv.Close()

		if !errors.Is(err, ErrUpstreamUnavailable) {
			t.Errorf("%s: err = %v, want ErrUpstreamUnavailable", tt.name, err)
		}
		var pe *orbit.ParseError
		if got := errors.As(err, &pe); got != tt.isParse {
			t.Errorf("%s: ParseError = %v, want %v (err %v)", tt.name, got, tt.isParse, err)
		}
	}
}

func TestHorizonsFetchCancelled(t *testing.T) {
	srv := horizonsServer(t, http.StatusOK, earthVectors, "")
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestHorizons(srv.URL).Fetch(ctx, earth, j2000); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("err = %v, want ErrUpstreamUnavailable", err)
	}
}
