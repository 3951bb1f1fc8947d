package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/star/orrery/internal/orbit"
)

// Fetcher retrieves one authoritative sample of body at jd. It is expected to
// be slow and fallible.
type Fetcher interface {
	Fetch(ctx context.Context, body string, jd float64) (Sample, error)
}

// ElementSource supplies approximate analytic elements for a body at jd.
type ElementSource interface {
	ElementsAt(body string, jd float64) (orbit.Elements, bool)
}

// Source says how a state was produced.
type Source string

const (
	SourceInterpolated Source = "interpolated"
	SourceNearest      Source = "nearest"
	SourceSampled      Source = "sampled"
	SourceAnalytic     Source = "analytic"
)

// Resolver is the two-tier lookup used for every body: the primary sample
// fetcher and the secondary analytic element table.
type Resolver struct {
	primary   Fetcher
	secondary ElementSource
}

// NewResolver builds a resolver. primary may be nil, leaving only the analytic tier.
func NewResolver(primary Fetcher, secondary ElementSource) *Resolver {
	return &Resolver{primary: primary, secondary: secondary}
}

// Fetch asks the primary tier for a sample. Every failure, including a
// malformed or non-finite sample, wraps ErrUpstreamUnavailable.
func (r *Resolver) Fetch(ctx context.Context, body string, jd float64) (Sample, error) {
	if r.primary == nil {
		return Sample{}, fmt.Errorf("%w: no sample source configured", ErrUpstreamUnavailable)
	}
	s, err := r.primary.Fetch(ctx, body, jd)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			return Sample{}, err
		}
		return Sample{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if !s.valid() {
		return Sample{}, fmt.Errorf("%w: invalid sample for %s at %v", ErrUpstreamUnavailable, body, jd)
	}
	return s, nil
}

// Analytic propagates the secondary tier's elements for body to jd.
func (r *Resolver) Analytic(body string, jd float64) (orbit.StateVector, error) {
	if r.secondary == nil {
		return orbit.StateVector{}, fmt.Errorf("%w: %s", ErrUnknownBody, body)
	}
	els, ok := r.secondary.ElementsAt(body, jd)
	if !ok {
		return orbit.StateVector{}, fmt.Errorf("%w: %s", ErrUnknownBody, body)
	}
	return orbit.Propagate(els, jd)
}

// Resolve tries the primary tier synchronously and falls back to the
// analytic tier when it fails.
func (r *Resolver) Resolve(ctx context.Context, body string, jd float64) (orbit.StateVector, Source, error) {
	if s, err := r.Fetch(ctx, body, jd); err == nil {
		return stateOf(s.Position, s.Velocity, s.Time), SourceSampled, nil
	}
	sv, err := r.Analytic(body, jd)
	if err != nil {
		return orbit.StateVector{}, "", err
	}
	return sv, SourceAnalytic, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
