// Package presigned uploads staging files with HTTP PUT to per-file S3
// presigned URLs issued by an upload session.
package presigned

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/3leaps/adbcli/pkg/provider"
)

// Provider PUTs each file to the URL the session issued for it.
type Provider struct {
	urls   map[string]string
	client *http.Client
}

var _ provider.Uploader = (*Provider)(nil)

// New returns an uploader for urls, keyed by staging path. A nil client
// uses http.DefaultClient.
func New(urls map[string]string, client *http.Client) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	normalized := make(map[string]string, len(urls))
	for k, v := range urls {
		normalized[strings.TrimPrefix(k, "/")] = v
	}
	return &Provider{urls: normalized, client: client}
}

// Upload PUTs body to the presigned URL for key.
func (p *Provider) Upload(ctx context.Context, key string, body io.ReadSeeker, size int64) error {
	key = strings.TrimPrefix(key, "/")
	target, ok := p.urls[key]
	if !ok {
		return p.wrap(key, provider.ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, body)
	if err != nil {
		return p.wrap(key, err)
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return p.wrap(key, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if err := classify(resp.StatusCode); err != nil {
		return p.wrap(key, err)
	}
	return nil
}

// Close releases any resources held by the provider.
func (p *Provider) Close() error {
	return nil
}

// Keys returns the staging paths the session accepts.
func (p *Provider) Keys() []string {
	keys := make([]string, 0, len(p.urls))
	for k := range p.urls {
		keys = append(keys, k)
	}
	return keys
}

func (p *Provider) wrap(key string, err error) error {
	return &provider.ProviderError{Op: "Upload", Provider: provider.ProviderPresigned, Key: key, Err: err}
}

func classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusForbidden:
		// S3 answers 403 for expired or tampered signatures
		return fmt.Errorf("%w: HTTP %d", provider.ErrInvalidCredentials, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: HTTP %d", provider.ErrBucketNotFound, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", provider.ErrThrottled, status)
	case status >= 500:
		return fmt.Errorf("%w: HTTP %d", provider.ErrProviderUnavailable, status)
	default:
		return fmt.Errorf("unexpected HTTP status %d", status)
	}
}
