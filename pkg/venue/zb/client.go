package zb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config holds ZB credentials and connection options.
type Config struct {
	APIKey    string
	APISecret string
	// RequestsPerSecond paces signed REST calls; ZB bans keys that burst.
	RequestsPerSecond float64
	Timeout           time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.RequestsPerSecond == 0 {
		out.RequestsPerSecond = 10
	}
	if out.Timeout == 0 {
		out.Timeout = 10 * time.Second
	}
	return out
}

// restCore is the shared HTTP plumbing for the spot and futures clients.
type restCore struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newRestCore(cfg Config) restCore {
	return restCore{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)),
	}
}

// do performs one paced HTTP request and returns the raw body. Any transport
// failure surfaces as-is; callers treat non-*VenueError failures on mutating
// calls as ambiguous.
func (c *restCore) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body))
	}
	return body, nil
}

func (c *restCore) getForm(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, req)
}

func (c *restCore) postJSON(ctx context.Context, endpoint string, headers map[string]string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(ctx, req)
}

func (c *restCore) getJSON(ctx context.Context, endpoint string, headers map[string]string, params url.Values) ([]byte, error) {
	u := endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(ctx, req)
}

func decodeInto(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response %q: %w", truncate(body), err)
	}
	return nil
}
