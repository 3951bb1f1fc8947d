package conic

import (
	"math"
	"testing"

	"github.com/gonum/floats"
)

func TestSolveEllipticGrid(t *testing.T) {
	for ei := 0; ei <= 99; ei++ {
		e := float64(ei) / 100
		for mi := 0; mi <= 72; mi++ {
			m := -math.Pi + 2*math.Pi*float64(mi)/72

			sol := SolveElliptic(m, e)
			if !sol.Converged {
				t.Errorf("e=%.2f M=%.4f: not converged after %d iterations (residual %g)", e, m, sol.Iterations, sol.Residual)
				continue
			}
			if sol.Residual >= ResidualTolerance {
				t.Errorf("e=%.2f M=%.4f: residual %g, want < %g", e, m, sol.Residual, ResidualTolerance)
			}
			if sol.Iterations > ellipticMaxIter {
				t.Errorf("e=%.2f M=%.4f: %d iterations exceeds cap", e, m, sol.Iterations)
			}
		}
	}
}

func TestSolveEllipticKnownValues(t *testing.T) {
	tests := []struct {
		m, e, want float64
	}{
		// Meeus, Astronomical Algorithms, example 30.a.
		{5 * math.Pi / 180, 0.1, 0.0969458711},
		{0, 0.5, 0},
		{math.Pi, 0.9, math.Pi},
		{1, 0, 1},
	}
	for _, tt := range tests {
		sol := SolveElliptic(tt.m, tt.e)
		if !floats.EqualWithinAbs(math.Abs(WrapAngle(sol.Anomaly)), math.Abs(tt.want), 1e-9) {
			t.Errorf("SolveElliptic(%v, %v) = %v, want %v", tt.m, tt.e, sol.Anomaly, tt.want)
		}
	}
}

func TestSolveEllipticWrapsMeanAnomaly(t *testing.T) {
	base := SolveElliptic(0.7, 0.3)
	for _, k := range []float64{-3, -1, 1, 5} {
		sol := SolveElliptic(0.7+2*math.Pi*k, 0.3)
		if !floats.EqualWithinAbs(sol.Anomaly, base.Anomaly, 1e-9) {
			t.Errorf("M+%v·2π: E = %v, want %v", k, sol.Anomaly, base.Anomaly)
		}
	}
}

func TestSolveHyperbolic(t *testing.T) {
	for _, e := range []float64{1 + 1e-6, 1.001, 1.1, 1.5, 3, 10, 100} {
		for _, m := range []float64{-500, -20, -1, -1e-3, 0, 1e-6, 0.5, 7, 1000} {
			sol := SolveHyperbolic(m, e)
			if math.IsNaN(sol.Anomaly) || math.IsInf(sol.Anomaly, 0) {
				t.Fatalf("SolveHyperbolic(%v, %v) = %v, want finite", m, e, sol.Anomaly)
			}
			got := e*math.Sinh(sol.Anomaly) - sol.Anomaly
			if !floats.EqualWithinAbsOrRel(got, m, 1e-9, 1e-9) {
				t.Errorf("e=%v M=%v: e·sinh(H)−H = %v", e, m, got)
			}
			if !sol.Converged {
				t.Errorf("e=%v M=%v: not converged (residual %g, %d iterations)", e, m, sol.Residual, sol.Iterations)
			}
		}
	}
}

func TestSolveParabolic(t *testing.T) {
	for _, b := range []float64{-1e4, -30, -1, -1e-8, 0, 1e-8, 0.3, 2, 50, 1e5} {
		sol := SolveParabolic(b)
		got := sol.Anomaly + sol.Anomaly*sol.Anomaly*sol.Anomaly/3
		if !floats.EqualWithinAbsOrRel(got, b, 1e-12, 1e-12) {
			t.Errorf("B=%v: D + D³/3 = %v", b, got)
		}
		if !sol.Converged {
			t.Errorf("B=%v: not converged (residual %g)", b, sol.Residual)
		}
	}

	// D = 1 solves B = 4/3 exactly.
	if sol := SolveParabolic(4.0 / 3); !floats.EqualWithinAbs(sol.Anomaly, 1, 1e-13) {
		t.Errorf("SolveParabolic(4/3) = %v, want 1", sol.Anomaly)
	}
}

func TestClassifyRegime(t *testing.T) {
	tests := []struct {
		e    float64
		want Regime
	}{
		{0, Elliptic},
		{0.5, Elliptic},
		{1 - 1e-6, Elliptic},
		{1 - 2e-12, Elliptic},
		{1 - 1e-12, Parabolic},
		{1, Parabolic},
		{1 + 1e-12, Parabolic},
		{1 + 2e-12, Hyperbolic},
		{1 + 1e-6, Hyperbolic},
		{4.2, Hyperbolic},
	}
	for _, tt := range tests {
		if got := ClassifyRegime(tt.e); got != tt.want {
			t.Errorf("ClassifyRegime(%v) = %v, want %v", tt.e, got, tt.want)
		}
	}
}

func TestSolveDispatch(t *testing.T) {
	if got, want := Solve(1, 0.2, Elliptic), SolveElliptic(1, 0.2); got != want {
		t.Errorf("Solve elliptic = %+v, want %+v", got, want)
	}
	if got, want := Solve(1, 2, Hyperbolic), SolveHyperbolic(1, 2); got != want {
		t.Errorf("Solve hyperbolic = %+v, want %+v", got, want)
	}
	if got, want := Solve(1, 1, Parabolic), SolveParabolic(1); got != want {
		t.Errorf("Solve parabolic = %+v, want %+v", got, want)
	}
}

func TestWrapAngle(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi / 2, math.Pi / 2},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-3 * math.Pi / 2, math.Pi / 2},
		{7 * math.Pi, math.Pi},
	}
	for _, tt := range tests {
		got := WrapAngle(tt.in)
		if got < -math.Pi || got > math.Pi {
			t.Errorf("WrapAngle(%v) = %v, outside [-π, π]", tt.in, got)
		}
		if !floats.EqualWithinAbs(math.Cos(got), math.Cos(tt.want), 1e-12) ||
			!floats.EqualWithinAbs(math.Sin(got), math.Sin(tt.want), 1e-12) {
			t.Errorf("WrapAngle(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRegimeString(t *testing.T) {
	if Elliptic.String() != "elliptic" || Parabolic.String() != "parabolic" || Hyperbolic.String() != "hyperbolic" {
		t.Errorf("unexpected regime names: %v %v %v", Elliptic, Parabolic, Hyperbolic)
	}
}
