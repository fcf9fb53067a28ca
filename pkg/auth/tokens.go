// Package auth provides bearer tokens for ArtifactDB requests.
//
// Tokens are obtained out of band (identity provider, service account
// tooling) and handed to `adb login`, which caches them per context.
// The CLI never refreshes tokens; an expired token requires a new login.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenEnvVar overrides any cached token when set.
const TokenEnvVar = "ADB_TOKEN"

// Sentinel errors for token operations.
var (
	// ErrNoToken indicates no token is cached for the context.
	ErrNoToken = errors.New("no cached credentials, run `adb login`")

	// ErrTokenExpired indicates the cached token is past its expiry.
	ErrTokenExpired = errors.New("cached credentials expired, run `adb login`")

	// ErrMalformedToken indicates the token is not a decodable JWT.
	ErrMalformedToken = errors.New("malformed token")
)

// CachedToken is the on-disk token cache entry.
type CachedToken struct {
	AccessToken string    `json:"access_token"`
	ObtainedAt  time.Time `json:"obtained_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Cache stores one token file per context under <dir>/tokens.
type Cache struct {
	dir string
	now func() time.Time
}

// NewCache returns a cache rooted at <appDir>/tokens.
func NewCache(appDir string) *Cache {
	return &Cache{dir: filepath.Join(appDir, "tokens"), now: time.Now}
}

// Path returns the cache file for a context.
func (c *Cache) Path(contextName string) string {
	return filepath.Join(c.dir, sanitize(contextName)+".json")
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, name)
}

// Store validates and caches token for contextName.
func (c *Cache) Store(contextName, token string) (*CachedToken, error) {
	token = strings.TrimSpace(token)
	claims, err := ParseClaims(token)
	if err != nil {
		return nil, err
	}

	entry := &CachedToken{AccessToken: token, ObtainedAt: c.now().UTC()}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		entry.ExpiresAt = exp.UTC()
	}

	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return nil, fmt.Errorf("create token cache dir: %w", err)
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal token cache: %w", err)
	}
	if err := os.WriteFile(c.Path(contextName), append(b, '\n'), 0600); err != nil {
		return nil, fmt.Errorf("write token cache: %w", err)
	}
	return entry, nil
}

// Load returns the cached token entry for contextName.
func (c *Cache) Load(contextName string) (*CachedToken, error) {
	b, err := os.ReadFile(c.Path(contextName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("read token cache: %w", err)
	}
	var entry CachedToken
	if err := json.Unmarshal(b, &entry); err != nil {
		return nil, fmt.Errorf("parse token cache: %w", err)
	}
	if entry.AccessToken == "" {
		return nil, ErrNoToken
	}
	return &entry, nil
}

// Purge deletes the cached token. A missing cache is not an error.
func (c *Cache) Purge(contextName string) (bool, error) {
	err := os.Remove(c.Path(contextName))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("remove token cache: %w", err)
}

// Source yields the token for one context: the environment override if
// set, otherwise the cached token while it is unexpired.
type Source struct {
	cache   *Cache
	context string
	getenv  func(string) string
}

// NewSource returns a token source for contextName.
func NewSource(cache *Cache, contextName string) *Source {
	return &Source{cache: cache, context: contextName, getenv: os.Getenv}
}

// Token implements adbclient.TokenSource.
func (s *Source) Token(_ context.Context) (string, error) {
	if tok := strings.TrimSpace(s.getenv(TokenEnvVar)); tok != "" {
		return tok, nil
	}
	entry, err := s.cache.Load(s.context)
	if err != nil {
		return "", err
	}
	if !entry.ExpiresAt.IsZero() && !s.cache.now().Before(entry.ExpiresAt) {
		return "", ErrTokenExpired
	}
	return entry.AccessToken, nil
}

// ParseClaims decodes token claims without verifying the signature. The
// server verifies tokens; the CLI only reads identity and expiry.
func ParseClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// Decode returns the token header and claims without verifying the
// signature.
func Decode(token string) (map[string]any, jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	tok, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return tok.Header, claims, nil
}

// Username returns the preferred username claim, falling back to sub.
func Username(claims jwt.MapClaims) string {
	for _, key := range []string{"preferred_username", "username", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
