package ephemeris

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/orbit"
)

// DefaultHorizonsURL is the JPL Horizons API endpoint.
const DefaultHorizonsURL = "https://ssd.jpl.nasa.gov/api/horizons.api"

var errNoVectors = errors.New("no vector rows between $$SOE and $$EOE")

// HorizonsFetcher fetches heliocentric ecliptic state vectors from JPL Horizons.
type HorizonsFetcher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// NewHorizonsFetcher creates a fetcher limited to rps requests per second.
func NewHorizonsFetcher(baseURL string, rps float64, logger *slog.Logger) *HorizonsFetcher {
	if baseURL == "" {
		baseURL = DefaultHorizonsURL
	}
	if rps <= 0 {
		rps = 2
	}
	return &HorizonsFetcher{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
		now:     time.Now,
	}
}

type horizonsResponse struct {
	Result string `json:"result"`
	Error  string `json:"error"`
}

// Fetch requests a single VECTORS row for body at jd.
func (h *HorizonsFetcher) Fetch(ctx context.Context, body string, jd float64) (Sample, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return Sample{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	params := url.Values{
		"format":     {"json"},
		"COMMAND":    {"'" + body + "'"},
		"OBJ_DATA":   {"'NO'"},
		"MAKE_EPHEM": {"'YES'"},
		"EPHEM_TYPE": {"'VECTORS'"},
		"CENTER":     {"'500@10'"},
		"REF_PLANE":  {"'ECLIPTIC'"},
		"OUT_UNITS":  {"'AU-D'"},
		"VEC_TABLE":  {"'2'"},
		"CSV_FORMAT": {"'YES'"},
		"TLIST":      {"'" + strconv.FormatFloat(jd, 'f', 6, 64) + "'"},
		"TLIST_TYPE": {"'JD'"},
		"TIME_TYPE":  {"'TDB'"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: creating request: %w", ErrUpstreamUnavailable, err)
	}

	start := time.Now()
	s, err := h.do(req)
	metrics.ObserveUpstream("horizons", time.Since(start), err)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: horizons %s at %.6f: %w", ErrUpstreamUnavailable, body, jd, err)
	}
	s.FetchedAt = h.now()

	h.logger.Debug("horizons sample fetched", "component", "ephemeris", "body_id", body,
		"jd", s.Time, "duration_ms", time.Since(start).Milliseconds())
	return s, nil
}

func (h *HorizonsFetcher) do(req *http.Request) (Sample, error) {
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return Sample{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var hr horizonsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&hr); err != nil {
		return Sample{}, &orbit.ParseError{Source: "horizons", Err: err}
	}
	if hr.Error != "" {
		return Sample{}, errors.New(strings.TrimSpace(hr.Error))
	}
	return parseVectors(hr.Result)
}

// parseVectors reads the first CSV row of a VEC_TABLE=2 block:
// JDTDB, calendar date, X, Y, Z, VX, VY, VZ.
func parseVectors(result string) (Sample, error) {
	_, rest, ok := strings.Cut(result, "$$SOE")
	if !ok {
		return Sample{}, &orbit.ParseError{Source: "horizons", Field: "$$SOE", Err: errNoVectors}
	}
	block, _, ok := strings.Cut(rest, "$$EOE")
	if !ok {
		return Sample{}, &orbit.ParseError{Source: "horizons", Field: "$$EOE", Err: errNoVectors}
	}

	var row string
	for _, line := range strings.Split(block, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			row = line
			break
		}
	}
	if row == "" {
		return Sample{}, &orbit.ParseError{Source: "horizons", Err: errNoVectors}
	}

	fields := strings.Split(row, ",")
	if len(fields) < 8 {
		return Sample{}, &orbit.ParseError{Source: "horizons", Field: "row",
			Err: fmt.Errorf("expected 8 columns, got %d", len(fields))}
	}

	names := [...]string{"JDTDB", "", "X", "Y", "Z", "VX", "VY", "VZ"}
	var vals [8]float64
	for i, name := range names {
		if name == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return Sample{}, &orbit.ParseError{Source: "horizons", Field: name, Err: err}
		}
		if !finite(v) {
			return Sample{}, &orbit.ParseError{Source: "horizons", Field: name, Err: fmt.Errorf("non-finite value %v", v)}
		}
		vals[i] = v
	}

	return Sample{
		Time:     vals[0],
		Position: orbit.Vec3{vals[2], vals[3], vals[4]},
		Velocity: orbit.Vec3{vals[5], vals[6], vals[7]},
	}, nil
}
