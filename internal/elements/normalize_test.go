package elements

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/gonum/floats"

	"github.com/star/orrery/internal/conic"
	"github.com/star/orrery/internal/orbit"
)

const j2k = 2451545.0

func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name       string
		raw        Raw
		wantRegime conic.Regime
		wantA      float64
		wantQ      float64
		provenance string
	}{
		{
			name: "sbdb asteroid with string values",
			raw: Raw{Shape: ShapeSBDB, Designator: "433", Fields: map[string]any{
				"e": ".2227", "a": "1.458", "q": "1.133", "i": "10.83", "om": "304.3",
				"w": "178.9", "ma": "310.5", "tp": "2460402.1", "epoch": json.Number("2460600.5"),
			}},
			wantRegime: conic.Elliptic, wantA: 1.458, wantQ: 1.133, provenance: "sbdb:433",
		},
		{
			name: "sbdb hyperbolic with q only",
			raw: Raw{Shape: ShapeSBDB, Designator: "2I", Fields: map[string]any{
				"e": "3.356", "q": "2.006", "i": "44.05", "om": "308.1", "w": "209.1", "tp": "2458826.05",
			}},
			wantRegime: conic.Hyperbolic, wantQ: 2.006, provenance: "sbdb:2I",
		},
		{
			name: "mpc asteroid numeric",
			raw: Raw{Shape: ShapeMPCAsteroid, Designator: "1", Fields: map[string]any{
				"a": 2.7675, "e": 0.0785, "i": 10.588, "Node": 80.27, "Peri": 73.73, "M": 291.38, "Epoch": 2460600.5,
			}},
			wantRegime: conic.Elliptic, wantA: 2.7675, provenance: "mpc-asteroid:1",
		},
		{
			name: "mpc comet parabolic",
			raw: Raw{Shape: ShapeMPCComet, Designator: "C/2020 F3", Fields: map[string]any{
				"Perihelion_dist": 0.2946, "e": 1.0, "i": 128.94, "Node": 61.01, "Peri": 37.28,
				"Year_of_perihelion": 2020, "Month_of_perihelion": 7, "Day_of_perihelion": 3.6797,
			}},
			wantRegime: conic.Parabolic, wantQ: 0.2946, provenance: "mpc-comet:C/2020 F3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			els, err := Normalize(tt.raw)
			if err != nil {
				t.Fatalf("Normalize error: %v", err)
			}
			if els.Regime() != tt.wantRegime {
				t.Errorf("regime = %v, want %v", els.Regime(), tt.wantRegime)
			}
			if els.A != tt.wantA || els.Q != tt.wantQ {
				t.Errorf("a, q = %v, %v, want %v, %v", els.A, els.Q, tt.wantA, tt.wantQ)
			}
			if els.Provenance != tt.provenance {
				t.Errorf("Provenance = %q, want %q", els.Provenance, tt.provenance)
			}

			// Every normalized shape must propagate without any source-specific handling.
			sv, err := orbit.Propagate(els, 2460650.5)
			if err != nil {
				t.Fatalf("Propagate error: %v", err)
			}
			if !sv.Position.Finite() || sv.Position.Norm() <= 0 {
				t.Errorf("position = %v, want finite non-zero", sv.Position)
			}
		})
	}
}

func TestNormalizeCometPerihelionDate(t *testing.T) {
	els, err := Normalize(Raw{Shape: ShapeMPCComet, Designator: "x", Fields: map[string]any{
		"Perihelion_dist": 1.0, "e": 0.9, "i": 0.0, "Node": 0.0, "Peri": 0.0,
		"Year_of_perihelion": 2000, "Month_of_perihelion": 1, "Day_of_perihelion": 1.5,
	}})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if els.Tp != j2k {
		t.Errorf("Tp = %v, want %v", els.Tp, j2k)
	}
	// Elliptic comet without a mean anomaly propagates from tp and sits at perihelion there.
	sv, err := orbit.Propagate(els, j2k)
	if err != nil {
		t.Fatalf("Propagate error: %v", err)
	}
	if !floats.EqualWithinRel(sv.Position.Norm(), 1, 1e-9) {
		t.Errorf("|r| at tp = %v, want 1", sv.Position.Norm())
	}
}

func TestNormalizeErrors(t *testing.T) {
	tests := []struct {
		name  string
		raw   Raw
		field string
	}{
		{"unknown shape", Raw{Shape: "horizons-osc"}, ""},
		{"sbdb missing e", Raw{Shape: ShapeSBDB, Fields: map[string]any{"a": "1", "i": "0", "om": "0", "w": "0"}}, "e"},
		{"sbdb missing a and q", Raw{Shape: ShapeSBDB, Fields: map[string]any{"e": "0.1", "i": "0", "om": "0", "w": "0"}}, "a"},
		{"mpc bad number", Raw{Shape: ShapeMPCAsteroid, Fields: map[string]any{
			"a": "two", "e": 0.1, "i": 1.0, "Node": 1.0, "Peri": 1.0, "M": 1.0, "Epoch": j2k}}, "a"},
		{"mpc non-finite", Raw{Shape: ShapeMPCAsteroid, Fields: map[string]any{
			"a": 1.0, "e": math.NaN(), "i": 1.0, "Node": 1.0, "Peri": 1.0, "M": 1.0, "Epoch": j2k}}, "e"},
		{"comet missing date", Raw{Shape: ShapeMPCComet, Fields: map[string]any{
			"Perihelion_dist": 1.0, "e": 1.0, "i": 1.0, "Node": 1.0, "Peri": 1.0}}, "Year_of_perihelion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw)
			var pe *orbit.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *orbit.ParseError", err)
			}
			if pe.Field != tt.field {
				t.Errorf("Field = %q, want %q", pe.Field, tt.field)
			}
		})
	}
}

// Planetary-form Earth elements at J2000 put the Earth ~0.983 AU from the Sun.
func TestFromMeanLongitudeEarth(t *testing.T) {
	els := FromMeanLongitude(1.00000261, 0.01671123, 0, 100.46435, 102.94719, -11.26064, j2k)

	sv, err := orbit.Propagate(els, j2k)
	if err != nil {
		t.Fatalf("Propagate error: %v", err)
	}
	if got := sv.Position.Norm(); math.Abs(got-0.983) > 0.01 {
		t.Errorf("|r| = %.5f AU, want 0.983 ± 0.01", got)
	}
	wantM := (100.46435 - 102.94719) * deg
	if !floats.EqualWithinAbs(els.M, wantM, 1e-15) {
		t.Errorf("M = %v, want %v", els.M, wantM)
	}
}
