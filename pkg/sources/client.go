// Package sources implements the HTTP clients for the two scoring
// collaborators: the case store and the analyzer engine.
//
// Both clients share one base: bearer-token auth, a token bucket rate
// limiter, bounded request timeouts, and retry with an injected backoff
// policy on transient failures. 4xx responses are never retried except
// 429; error classification is left to the pkg/errors checkers.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/soclabs/caserisk/pkg/backoff"
	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/logging"
)

const (
	// DefaultTimeout bounds each collaborator request.
	DefaultTimeout = 30 * time.Second

	// defaultBurst is the token bucket burst when none is configured.
	defaultBurst = 10

	// statusPath is the health probe endpoint both collaborators expose.
	statusPath = "/api/status"

	userAgent = "caserisk/1.0"
)

// Config holds the connection settings for one collaborator.
type Config struct {
	// BaseURL is the collaborator's root URL (e.g. http://localhost:9000).
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKey is the bearer token presented on every request.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxAttempts caps attempts per call, including the first.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// RateLimit is the client-side request budget in requests per hour.
	// 0 disables rate limiting.
	RateLimit int `json:"rate_limit" yaml:"rate_limit"`

	// BurstLimit is the token bucket burst size.
	BurstLimit int `json:"burst_limit" yaml:"burst_limit"`
}

// DefaultConfig returns the default configuration for a collaborator.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		Timeout:     DefaultTimeout,
		MaxAttempts: backoff.DefaultMaxAttempts,
	}
}

// =============================================================================
// Base Client
// =============================================================================

// Client is the HTTP base both collaborator clients build on.
type Client struct {
	name        string
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	policy      backoff.Policy
	maxAttempts int
	log         logging.Logger
}

// Option configures a collaborator client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The configured timeout is not
// reapplied; the caller owns the client's settings.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logging.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithBackoff sets the retry delay policy. Tests pass backoff.Fixed(0).
func WithBackoff(policy backoff.Policy) Option {
	return func(c *Client) {
		if policy != nil {
			c.policy = policy
		}
	}
}

// newClient creates the shared base for a named collaborator.
func newClient(name string, cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.E(errors.KindInvalidInput, name, "base url is required", errors.ErrInvalidConfig)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = backoff.DefaultMaxAttempts
	}

	c := &Client{
		name:        name,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: timeout},
		policy:      backoff.Default(),
		maxAttempts: maxAttempts,
		log:         &logging.NopLogger{},
	}

	// Setup rate limiter if configured
	if cfg.RateLimit > 0 {
		// Convert requests per hour to rate per second
		rps := float64(cfg.RateLimit) / 3600.0
		burst := cfg.BurstLimit
		if burst <= 0 {
			burst = defaultBurst
		}
		c.rateLimiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Name returns the collaborator name.
func (c *Client) Name() string {
	return c.name
}

// BaseURL returns the collaborator's root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RateLimited returns true if client-side rate limiting is enabled.
func (c *Client) RateLimited() bool {
	return c.rateLimiter != nil
}

// Ping probes the collaborator's status endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, statusPath, nil)
	return err
}

// waitForRateLimit blocks until the rate limit allows the next request.
func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.rateLimiter == nil {
		return nil
	}
	return c.rateLimiter.Wait(ctx)
}

// =============================================================================
// HTTP Helper Methods
// =============================================================================

// do performs a request with retry on transient failures. The request body
// is encoded once; every attempt reuses the same bytes, so duplicate posts
// caused by retries are byte-identical.
func (c *Client) do(ctx context.Context, method, path string, in interface{}) ([]byte, error) {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encode %s: %w", c.name, path, err)
		}
	}

	var data []byte
	attempt := 0
	err := backoff.Do(ctx, c.policy, c.maxAttempts, errors.IsTransient, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.log.Debug("%s: retrying %s %s (attempt %d/%d)", c.name, method, path, attempt, c.maxAttempts)
		}
		var err error
		data, err = c.doOnce(ctx, method, path, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// doOnce performs a single HTTP request.
func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		kind := errors.KindNetwork
		var urlErr *url.Error
		if stderrors.As(err, &urlErr) && urlErr.Timeout() {
			kind = errors.KindTimeout
		}
		return nil, errors.E(kind, c.name, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E(errors.KindNetwork, c.name, fmt.Sprintf("read %s response", path), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errors.APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			RequestID:  resp.Header.Get("X-Request-Id"),
		}
	}

	return data, nil
}

// getJSON performs a GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode %s: %w", c.name, path, err)
	}
	return nil
}

// postJSON performs a POST with a JSON body and decodes the response into
// out when out is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	data, err := c.do(ctx, http.MethodPost, path, in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode %s: %w", c.name, path, err)
	}
	return nil
}

// patchJSON performs a PATCH with a JSON body, discarding the response.
func (c *Client) patchJSON(ctx context.Context, path string, in interface{}) error {
	_, err := c.do(ctx, http.MethodPatch, path, in)
	return err
}

// =============================================================================
// Search Queries
// =============================================================================

// searchRequest is the body both collaborators accept on their _search
// endpoints.
type searchRequest struct {
	Query interface{} `json:"query"`
}

// fieldEquals matches one document field against one value.
func fieldEquals(field string, value interface{}) map[string]interface{} {
	return map[string]interface{}{"_field": field, "_value": value}
}

// andQuery combines equality terms into a search request. A single term
// is sent bare, matching what the collaborators' own UIs emit.
func andQuery(terms ...interface{}) searchRequest {
	if len(terms) == 1 {
		return searchRequest{Query: terms[0]}
	}
	return searchRequest{Query: map[string]interface{}{"_and": terms}}
}
