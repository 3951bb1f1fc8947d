package orbit

import "fmt"

// DegenerateOrbitError reports structurally invalid elements: a wrong-signed
// semi-major axis for the regime, missing periapsis data, or non-finite output.
// It is not transient; the caller must supply corrected elements.
type DegenerateOrbitError struct {
	Regime string
	Reason string
}

func (e *DegenerateOrbitError) Error() string {
	return fmt.Sprintf("degenerate %s orbit: %s", e.Regime, e.Reason)
}

// ParseError reports malformed upstream element, vector or TLE text.
type ParseError struct {
	Source string // e.g. "tle", "horizons", "sbdb"
	Field  string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("parse %s field %s: %v", e.Source, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
