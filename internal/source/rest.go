package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"marketdash/internal/metrics"
	"marketdash/internal/model"
)

// ClientConfig configures a REST candle client.
type ClientConfig struct {
	BaseURL    string
	RateLimit  time.Duration // minimum spacing between requests
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// restClient is the HTTP plumbing shared by the exchange clients.
type restClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics

	mu          sync.Mutex
	rateLimit   time.Duration
	lastRequest time.Time
}

func newRESTClient(name string, cfg ClientConfig, defaultBase string) *restClient {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &restClient{
		name:        name,
		baseURL:     base,
		httpClient:  hc,
		metrics:     cfg.Metrics,
		rateLimit:   cfg.RateLimit,
		lastRequest: time.Now().Add(-cfg.RateLimit),
	}
}

// waitForRateLimit blocks until rateLimit has passed since the previous request.
func (c *restClient) waitForRateLimit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elapsed := time.Since(c.lastRequest); elapsed < c.rateLimit {
		t := time.NewTimer(c.rateLimit - elapsed)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	c.lastRequest = time.Now()
	return nil
}

// get performs a public GET and returns the body with the HTTP status.
// Transport failures are wrapped in ErrUpstreamUnavailable. Non-2xx statuses
// are returned to the caller, which knows how its exchange reports errors.
func (c *restClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, int, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, 0, err
	}

	apiURL := c.baseURL + endpoint
	if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: build request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "marketdash/1.0")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.Upstream(c.name, started, err)
		return nil, 0, fmt.Errorf("%w: %s request failed: %v", model.ErrUpstreamUnavailable, c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.Upstream(c.name, started, err)
		return nil, resp.StatusCode, fmt.Errorf("%w: %s read body: %v", model.ErrUpstreamUnavailable, c.name, err)
	}

	var statusErr error
	if resp.StatusCode != http.StatusOK {
		statusErr = fmt.Errorf("status %d", resp.StatusCode)
	}
	c.metrics.Upstream(c.name, started, statusErr)
	return body, resp.StatusCode, nil
}

// statusError builds the error for a non-200 response with no better classification.
func statusError(name string, status int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return fmt.Errorf("%w: %s returned status %d: %s", model.ErrUpstreamUnavailable, name, status, snippet)
}

// parseNumber reads a JSON value that exchanges send either as a number or a quoted string.
func parseNumber(raw []byte) (float64, error) {
	s := string(raw)
	if n := len(s); n >= 2 && s[0] == '"' && s[n-1] == '"' {
		s = s[1 : n-1]
	}
	return strconv.ParseFloat(s, 64)
}

// parseTimestamp reads an epoch-ms timestamp sent as a number or a quoted string.
func parseTimestamp(raw []byte) (int64, error) {
	s := string(raw)
	if n := len(s); n >= 2 && s[0] == '"' && s[n-1] == '"' {
		s = s[1 : n-1]
	}
	return strconv.ParseInt(s, 10, 64)
}
