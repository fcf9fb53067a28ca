// Package adbclient is a small HTTP client for the ArtifactDB REST API.
//
// The client covers the endpoints the CLI consumes: job status, tasks,
// permissions, search, download and upload sessions. Requests are paced by
// a token-bucket limiter and tagged with a request id for server-side
// correlation. There are no automatic retries.
package adbclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// TokenSource yields a bearer token for authenticated requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root endpoint (required).
	BaseURL string

	// Tokens provides bearer tokens. Nil, or Anonymous set, sends
	// unauthenticated requests.
	Tokens TokenSource

	// Anonymous disables authentication even when Tokens is set.
	Anonymous bool

	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration

	// RateLimit is the sustained request rate per second. Zero or less
	// disables pacing.
	RateLimit float64

	// Burst is the limiter bucket size. Defaults to 1.
	Burst int

	// UserAgent is sent with each request when set.
	UserAgent string

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client

	// Logger receives request diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Client talks to one ArtifactDB instance.
type Client struct {
	base      *url.URL
	http      *http.Client
	tokens    TokenSource
	anonymous bool
	limiter   *rate.Limiter
	userAgent string
	logger    *zap.Logger
}

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", raw)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		base:      base,
		http:      httpClient,
		tokens:    cfg.Tokens,
		anonymous: cfg.Anonymous,
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: cfg.UserAgent,
		logger:    logger,
	}, nil
}

// BaseURL returns the API root endpoint.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Anonymous reports whether requests are sent without credentials.
func (c *Client) Anonymous() bool {
	return c.anonymous || c.tokens == nil
}

// Resolve turns ref into an absolute URL. Absolute refs are returned
// unchanged; anything else is joined to the base URL.
func (c *Client) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty URL reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid URL reference %q: %w", ref, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	joined := *c.base
	joined.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(u.Path, "/")
	joined.RawPath = ""
	joined.RawQuery = u.RawQuery
	return joined.String(), nil
}

// Do sends a request and returns the response for 2xx statuses. Other
// statuses are returned as *APIError with the body consumed.
func (c *Client) Do(ctx context.Context, method, ref string, body any) (*http.Response, error) {
	target, err := c.Resolve(ref)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	requestID := uuid.New().String()
	req.Header.Set(RequestIDHeader, requestID)

	if !c.Anonymous() {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("Request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	c.logger.Debug("Request completed",
		zap.String("method", method),
		zap.String("url", target),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return nil, &APIError{
		Method:     method,
		URL:        target,
		StatusCode: resp.StatusCode,
		Detail:     extractDetail(detail),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// DoJSON sends a request and decodes the JSON response into out. A nil
// out discards the body.
func (c *Client) DoJSON(ctx context.Context, method, ref string, body, out any) error {
	resp, err := c.Do(ctx, method, ref, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedResponse, method, ref, err)
	}
	return nil
}

// extractDetail pulls a human message out of an error body, preferring the
// FastAPI-style "detail" field.
func extractDetail(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err == nil {
		if d, ok := doc["detail"]; ok {
			if s, ok := d.(string); ok {
				return s
			}
			b, _ := json.Marshal(d)
			return string(b)
		}
		if m, ok := doc["message"].(string); ok {
			return m
		}
	}
	return string(body)
}
