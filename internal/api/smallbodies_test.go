package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/star/orrery/internal/elements"
	"github.com/star/orrery/internal/orbit"
)

const testIndex = `{"metadata":{"asteroidCount":1,"cometCount":1,"source":"test"},"entries":[
	{"type":"ast","number":"1","name":"Ceres","principal":"A801 AA","packed":"00001"},
	{"type":"com","designation":"1P/Halley (Halley)","name":"Halley"}
]}`

const deg = math.Pi / 180

type fakeResolver map[string]orbit.Elements

func (f fakeResolver) Resolve(_ context.Context, designator string) (orbit.Elements, error) {
	switch designator {
	case "ambiguous":
		return orbit.Elements{}, fmt.Errorf("%w: %q", elements.ErrAmbiguous, designator)
	case "garbled":
		return orbit.Elements{}, &orbit.ParseError{Source: "sbdb", Field: "e"}
	}
	els, ok := f[designator]
	if !ok {
		return orbit.Elements{}, fmt.Errorf("%w: %q", elements.ErrNotFound, designator)
	}
	return els, nil
}

func newSmallBodyHandler(t *testing.T) (http.Handler, *elements.Table) {
	t.Helper()
	idx, err := elements.ReadIndex(strings.NewReader(testIndex))
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	table := elements.DefaultTable()
	resolver := fakeResolver{
		"1P": {E: 0.967, Q: 0.575, I: 162.2 * deg, Node: 59.4 * deg, Peri: 112.0 * deg,
			Tp: 2446470.5, Provenance: "sbdb:1P"},
	}
	return NewHandler(testLogger(), Deps{Catalog: table, SmallBodies: resolver, Index: idx}), table
}

func TestSearchSmallBodies(t *testing.T) {
	h, _ := newSmallBodyHandler(t)

	tests := []struct {
		query     string
		wantCode  int
		wantCount int
	}{
		{"?q=ceres", http.StatusOK, 1},
		{"?q=1P", http.StatusOK, 1},
		{"?q=zzz", http.StatusOK, 0},
		{"", http.StatusBadRequest, 0},
		{"?q=ceres&limit=0", http.StatusBadRequest, 0},
		{"?q=ceres&limit=1000", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/small-bodies"+tt.query, nil))
		if w.Code != tt.wantCode {
			t.Errorf("%s: status = %d, want %d", tt.query, w.Code, tt.wantCode)
			continue
		}
		if tt.wantCode != http.StatusOK {
			continue
		}
		resp := decode[struct {
			Count int `json:"count"`
		}](t, w)
		if resp.Count != tt.wantCount {
			t.Errorf("%s: count = %d, want %d", tt.query, resp.Count, tt.wantCount)
		}
	}
}

func TestAddBody(t *testing.T) {
	h, table := newSmallBodyHandler(t)

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/bodies", strings.NewReader(body)))
		return w
	}

	w := post(`{"designator":"1P","name":"Halley"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	resp := decode[addBodyResponse](t, w)
	if resp.Regime != "elliptic" || resp.Provenance != "sbdb:1P" || resp.Q != 0.575 {
		t.Errorf("response = %+v", resp)
	}
	if name, ok := table.Name("1P"); !ok || name != "Halley" {
		t.Errorf("table Name(1P) = %q, %v", name, ok)
	}

	// The new body is now served by the state endpoint.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/bodies/1P/state?jd=2446470.5", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("state without ephemeris = %d, want 503", w.Code)
	}

	tests := []struct {
		body string
		want int
	}{
		{`{"designator":"unknown"}`, http.StatusNotFound},
		{`{"designator":"ambiguous"}`, http.StatusConflict},
		{`{"designator":"garbled"}`, http.StatusBadGateway},
		{`{"designator":" "}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := post(tt.body); w.Code != tt.want {
			t.Errorf("POST %s = %d, want %d", tt.body, w.Code, tt.want)
		}
	}
}
