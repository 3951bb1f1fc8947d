package elements

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/orbit"
)

// DefaultSBDBURL is the JPL Small-Body Database API endpoint.
const DefaultSBDBURL = "https://ssd-api.jpl.nasa.gov/sbdb.api"

var (
	ErrNotFound  = errors.New("small body not found")
	ErrAmbiguous = errors.New("designator matches multiple small bodies")
)

// SBDBClient looks up orbital elements of asteroids and comets.
type SBDBClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewSBDBClient creates a client limited to rps requests per second.
func NewSBDBClient(baseURL string, rps float64, logger *slog.Logger) *SBDBClient {
	if baseURL == "" {
		baseURL = DefaultSBDBURL
	}
	if rps <= 0 {
		rps = 1
	}
	return &SBDBClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

type sbdbResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Object  struct {
		Fullname string `json:"fullname"`
		Des      string `json:"des"`
	} `json:"object"`
	Orbit struct {
		Epoch    json.Number `json:"epoch"`
		Elements []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		} `json:"elements"`
	} `json:"orbit"`
}

// Lookup fetches the element record for designator (e.g. "433", "1P", "2I").
func (c *SBDBClient) Lookup(ctx context.Context, designator string) (Raw, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Raw{}, err
	}

	u := c.baseURL + "?" + url.Values{"sstr": {designator}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Raw{}, fmt.Errorf("creating request: %w", err)
	}

	start := time.Now()
	body, err := c.do(req)
	metrics.ObserveUpstream("sbdb", time.Since(start), err)
	if err != nil {
		return Raw{}, fmt.Errorf("sbdb lookup %q: %w", designator, err)
	}

	raw, err := decodeSBDB(designator, body)
	if err != nil {
		return Raw{}, err
	}
	c.logger.Debug("sbdb lookup complete", "component", "elements", "designator", raw.Designator,
		"fields", len(raw.Fields), "duration_ms", time.Since(start).Milliseconds())
	return raw, nil
}

// Resolve looks up designator and normalizes the result.
func (c *SBDBClient) Resolve(ctx context.Context, designator string) (orbit.Elements, error) {
	raw, err := c.Lookup(ctx, designator)
	if err != nil {
		return orbit.Elements{}, err
	}
	return Normalize(raw)
}

func (c *SBDBClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

func decodeSBDB(designator string, body []byte) (Raw, error) {
	var resp sbdbResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return Raw{}, &orbit.ParseError{Source: string(ShapeSBDB), Err: err}
	}

	switch resp.Code {
	case "300":
		return Raw{}, fmt.Errorf("%w: %q", ErrAmbiguous, designator)
	case "200":
		if len(resp.Orbit.Elements) == 0 {
			return Raw{}, fmt.Errorf("%w: %q", ErrNotFound, designator)
		}
	}
	if len(resp.Orbit.Elements) == 0 {
		return Raw{}, &orbit.ParseError{Source: string(ShapeSBDB), Field: "orbit.elements", Err: errMissingField}
	}

	fields := make(map[string]any, len(resp.Orbit.Elements)+1)
	for _, el := range resp.Orbit.Elements {
		fields[el.Name] = el.Value
	}
	if resp.Orbit.Epoch != "" {
		fields["epoch"] = resp.Orbit.Epoch
	}

	des := resp.Object.Des
	if des == "" {
		des = designator
	}
	return Raw{Shape: ShapeSBDB, Designator: des, Fields: fields}, nil
}
