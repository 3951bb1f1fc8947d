package tle

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gonum/floats"

	"github.com/star/orrery/internal/orbit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

const (
	issName  = "ISS (ZARYA)"
	issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"

	iss24Line1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9009"
	iss24Line2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    01"

	starlinkName  = "STARLINK-1007"
	starlinkLine1 = "1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9998"
	starlinkLine2 = "2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    07"
)

func TestParseEntry(t *testing.T) {
	e, err := ParseEntry(issName, issLine1, issLine2)
	if err != nil {
		t.Fatalf("ParseEntry error: %v", err)
	}

	if e.NORADID != 25544 {
		t.Errorf("NORADID = %d, want 25544", e.NORADID)
	}
	if e.Name != issName {
		t.Errorf("Name = %q, want %q", e.Name, issName)
	}
	if e.IntlDesignator != "98067A" {
		t.Errorf("IntlDesignator = %q, want 98067A", e.IntlDesignator)
	}

	wantEpoch := time.Date(2008, 9, 20, 12, 25, 40, 104192000, time.UTC)
	if d := e.Epoch.Sub(wantEpoch); d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("Epoch = %v, want %v", e.Epoch, wantEpoch)
	}

	checks := []struct {
		name      string
		got, want float64
	}{
		{"MeanMotionDot", e.MeanMotionDot, -0.00002182},
		{"Bstar", e.Bstar, -0.11606e-4},
		{"Inclination", e.Inclination, 51.6416},
		{"RAAN", e.RAAN, 247.4627},
		{"Eccentricity", e.Eccentricity, 0.0006703},
		{"ArgPerigee", e.ArgPerigee, 130.5360},
		{"MeanAnomaly", e.MeanAnomaly, 325.0288},
		{"MeanMotion", e.MeanMotion, 15.72125391},
	}
	for _, c := range checks {
		if !floats.EqualWithinAbs(c.got, c.want, 1e-12) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if e.RevNumber != 56353 {
		t.Errorf("RevNumber = %d, want 56353", e.RevNumber)
	}
}

func TestParseEntryErrors(t *testing.T) {
	badChecksum := issLine1[:68] + "0"
	mismatched := strings.Replace(starlinkLine2, "44713", "25544", 1)
	mismatched = mismatched[:68] + string(rune('0'+checksum(mismatched[:68])))

	tests := []struct {
		name    string
		l1, l2  string
		field   string
		wantErr error
	}{
		{"short line", issLine1[:40], issLine2, "line1", ErrLineTooShort},
		{"bad checksum", badChecksum, issLine2, "line1", ErrInvalidChecksum},
		{"swapped lines", issLine2, issLine1, "line_number", ErrInvalidFormat},
		{"id mismatch", starlinkLine1, mismatched, "catalog_number", ErrIDMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEntry("X", tt.l1, tt.l2)
			var pe *orbit.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *orbit.ParseError", err)
			}
			if pe.Source != "tle" || pe.Field != tt.field {
				t.Errorf("ParseError{Source: %q, Field: %q}, want {tle, %q}", pe.Source, pe.Field, tt.field)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want wrapping %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseBulk(t *testing.T) {
	input := strings.Join([]string{
		issName, iss24Line1, iss24Line2,
		"BROKEN", "garbage line", "more garbage",
		starlinkName, starlinkLine1, starlinkLine2,
		// 2-line form without a name.
		issLine1, issLine2,
		"BAD CHECKSUM", issLine1[:68] + "0", issLine2,
	}, "\r\n")

	entries, err := Parse(strings.NewReader(input), testLogger())
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3: %+v", len(entries), entries)
	}

	wantIDs := []int{25544, 44713, 25544}
	wantNames := []string{issName, starlinkName, ""}
	for i, e := range entries {
		if e.NORADID != wantIDs[i] || e.Name != wantNames[i] {
			t.Errorf("entries[%d] = {%d, %q}, want {%d, %q}", i, e.NORADID, e.Name, wantIDs[i], wantNames[i])
		}
	}
}

func TestParseCatalogNumberAlpha5(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"25544", 25544, false},
		{"00005", 5, false},
		{"A0000", 100000, false},
		{"Z9999", 339999, false},
		{"I0001", 0, true},
		{"E12", 0, true},
	}
	for _, tt := range tests {
		got, err := parseCatalogNumber(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseCatalogNumber(%q) = %d, %v, want %d, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestParseExponent(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{" 00000-0", 0},
		{"-11606-4", -0.11606e-4},
		{" 10270-3", 0.10270e-3},
		{"+12345+1", 1.2345},
	}
	for _, tt := range tests {
		got, err := parseExponent(tt.in)
		if err != nil || !floats.EqualWithinAbs(got, tt.want, 1e-15) {
			t.Errorf("parseExponent(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestEntryDerived(t *testing.T) {
	e, err := ParseEntry(issName, iss24Line1, iss24Line2)
	if err != nil {
		t.Fatalf("ParseEntry error: %v", err)
	}
	if p := e.PeriodMinutes(); !floats.EqualWithinAbs(p, 1440/15.5, 1e-12) {
		t.Errorf("PeriodMinutes = %v, want %v", p, 1440/15.5)
	}
	// 15.5 rev/day is roughly 400 km altitude.
	if a := e.SemiMajorAxisKm(); a < 6700 || a > 6850 {
		t.Errorf("SemiMajorAxisKm = %v, want ~6780", a)
	}
}

func TestNewDatasetEpochRange(t *testing.T) {
	a, _ := ParseEntry(issName, issLine1, issLine2)
	b, _ := ParseEntry(starlinkName, starlinkLine1, starlinkLine2)
	ds := NewDataset("test", time.Now(), []Entry{b, a})

	if !ds.EpochRange.Min.Equal(a.Epoch) || !ds.EpochRange.Max.Equal(b.Epoch) {
		t.Errorf("EpochRange = %v..%v, want %v..%v", ds.EpochRange.Min, ds.EpochRange.Max, a.Epoch, b.Epoch)
	}
	if got, ok := ds.Find(44713); !ok || got.Name != starlinkName {
		t.Errorf("Find(44713) = %+v, %v", got, ok)
	}
	if _, ok := ds.Find(1); ok {
		t.Error("Find(1) found an entry, want none")
	}
}
