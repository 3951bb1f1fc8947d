package tle

import (
	"math"
	"time"
)

// Entry is one parsed two-line element set. Angles are in degrees, as
// written in the TLE; mean motion is in revolutions per day.
type Entry struct {
	NORADID        int
	Name           string
	IntlDesignator string
	Epoch          time.Time
	Line1          string
	Line2          string

	MeanMotionDot float64 // rev/day²
	Bstar         float64 // 1/earth radii

	Inclination  float64
	RAAN         float64
	Eccentricity float64
	ArgPerigee   float64
	MeanAnomaly  float64
	MeanMotion   float64
	RevNumber    int
}

// earthMu is the Earth's gravitational parameter in km³/s².
const earthMu = 398600.4418

// SemiMajorAxisKm derives a from the mean motion, a = (μ/n²)^(1/3).
func (e Entry) SemiMajorAxisKm() float64 {
	n := e.MeanMotion * 2 * math.Pi / 86400
	if n == 0 {
		return 0
	}
	return math.Cbrt(earthMu / (n * n))
}

// PeriodMinutes returns the orbital period in minutes, or 0 when mean motion is unset.
func (e Entry) PeriodMinutes() float64 {
	if e.MeanMotion == 0 {
		return 0
	}
	return 1440 / e.MeanMotion
}

// EpochRange represents the minimum and maximum epoch times in a dataset.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Dataset is a complete set of TLE data from one source.
type Dataset struct {
	Source     string
	FetchedAt  time.Time
	EpochRange EpochRange
	Satellites []Entry
}

// NewDataset builds a dataset and computes its epoch range.
func NewDataset(source string, fetchedAt time.Time, entries []Entry) *Dataset {
	ds := &Dataset{
		Source:     source,
		FetchedAt:  fetchedAt,
		Satellites: entries,
	}
	for i, e := range entries {
		if i == 0 || e.Epoch.Before(ds.EpochRange.Min) {
			ds.EpochRange.Min = e.Epoch
		}
		if i == 0 || e.Epoch.After(ds.EpochRange.Max) {
			ds.EpochRange.Max = e.Epoch
		}
	}
	return ds
}

// Find returns the entry with the given catalog number.
func (d *Dataset) Find(noradID int) (Entry, bool) {
	for _, e := range d.Satellites {
		if e.NORADID == noradID {
			return e, true
		}
	}
	return Entry{}, false
}
