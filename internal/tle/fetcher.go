package tle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/orrery/internal/metrics"
)

const (
	// DefaultBaseURL is the CelesTrak general-perturbations query endpoint.
	DefaultBaseURL = "https://celestrak.org/NORAD/elements/gp.php"

	// maxBodyBytes caps a single download.
	maxBodyBytes = 50 << 20
)

var (
	ErrNotFound    = errors.New("no element sets found")
	ErrRateLimited = errors.New("rate limited by TLE source")
)

// Fetcher retrieves TLE text from CelesTrak's gp.php interface.
type Fetcher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher. An empty baseURL selects DefaultBaseURL.
// Requests are spaced at most one every two seconds.
func NewFetcher(baseURL string, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		logger:  logger,
	}
}

// SetLimit replaces the request rate limit.
func (f *Fetcher) SetLimit(l rate.Limit, burst int) {
	f.limiter.SetLimit(l)
	f.limiter.SetBurst(burst)
}

// BaseURL returns the configured source URL.
func (f *Fetcher) BaseURL() string {
	return f.baseURL
}

// FetchGroup downloads the raw TLE text of a CelesTrak group such as "stations".
func (f *Fetcher) FetchGroup(ctx context.Context, group string) ([]byte, error) {
	return f.get(ctx, url.Values{"GROUP": {group}, "FORMAT": {"tle"}})
}

// Search returns all element sets whose name contains query.
func (f *Fetcher) Search(ctx context.Context, query string) ([]Entry, error) {
	body, err := f.get(ctx, url.Values{"NAME": {query}, "FORMAT": {"tle"}})
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	entries, err := Parse(bytes.NewReader(body), f.logger)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("searching %q: %w", query, ErrNotFound)
	}
	return entries, nil
}

// Get returns the element set for one catalog number.
func (f *Fetcher) Get(ctx context.Context, noradID int) (Entry, error) {
	body, err := f.get(ctx, url.Values{"CATNR": {strconv.Itoa(noradID)}, "FORMAT": {"tle"}})
	if err != nil {
		return Entry{}, fmt.Errorf("fetching %d: %w", noradID, err)
	}
	entries, err := Parse(bytes.NewReader(body), f.logger)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.NORADID == noradID {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("fetching %d: %w", noradID, ErrNotFound)
}

func (f *Fetcher) get(ctx context.Context, q url.Values) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := f.baseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	start := time.Now()
	body, err := f.do(req)
	metrics.ObserveUpstream("celestrak", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("tle fetch complete", "component", "tle", "query", q.Encode(), "bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds())
	return body, nil
}

func (f *Fetcher) do(req *http.Request) ([]byte, error) {
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.baseURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response exceeds %d byte limit", maxBodyBytes)
	}
	// CelesTrak answers unknown queries with 200 and a plain-text notice.
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("No GP data found")) {
		return nil, ErrNotFound
	}
	return body, nil
}
