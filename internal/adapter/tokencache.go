package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// ErrNoToken is returned when neither the environment nor discovery yields a token.
var ErrNoToken = errors.New("no api token available")

const defaultTokenTTL = time.Hour

// TokenCache holds a bearer token for one source. Tokens come from an
// environment variable first, then from discovery on a public page.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expires   time.Time
	ttl       time.Duration
	envName   string
	url       string
	pattern   *regexp.Regexp
	fetcher   ingest.Fetcher
	now       func() time.Time
	fromEnv   bool
	envFailed bool
}

// NewTokenCache builds a cache from the source's auth definition.
func NewTokenCache(auth ingest.AuthDefinition, fetcher ingest.Fetcher, now func() time.Time) (*TokenCache, error) {
	c := &TokenCache{
		ttl:     time.Duration(auth.TTLSeconds) * time.Second,
		envName: auth.TokenEnv,
		url:     auth.TokenURL,
		fetcher: fetcher,
		now:     now,
	}
	if c.ttl <= 0 {
		c.ttl = defaultTokenTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	if auth.TokenURL != "" {
		pattern := auth.TokenPattern
		if pattern == "" {
			return nil, errors.New("auth.token_url requires auth.token_pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile auth.token_pattern: %w", err)
		}
		c.pattern = re
	}
	return c, nil
}

// Token returns a cached token, refreshing it when expired or when force is set.
func (c *TokenCache) Token(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}
	if force && c.fromEnv && c.url != "" {
		c.envFailed = true
	}
	if !c.envFailed && c.envName != "" {
		if tok := strings.TrimSpace(os.Getenv(c.envName)); tok != "" {
			c.store(tok, true)
			return tok, nil
		}
	}
	tok, err := c.discover(ctx)
	if err != nil {
		return "", err
	}
	c.store(tok, false)
	return tok, nil
}

// Invalidate drops the cached token so the next call refreshes it. A rejected
// environment token is not offered again; discovery takes over.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fromEnv && c.url != "" {
		c.envFailed = true
	}
	c.token = ""
	c.expires = time.Time{}
}

func (c *TokenCache) store(tok string, fromEnv bool) {
	c.token = tok
	c.fromEnv = fromEnv
	c.expires = c.now().Add(c.ttl)
}

func (c *TokenCache) discover(ctx context.Context) (string, error) {
	if c.url == "" || c.pattern == nil || c.fetcher == nil {
		return "", ErrNoToken
	}
	resp := c.fetcher.Fetch(ctx, ingest.Request{URL: c.url})
	if !resp.OK() {
		return "", fmt.Errorf("discover token: status %d: %w", resp.StatusCode, ErrNoToken)
	}
	m := c.pattern.FindSubmatch(resp.Body)
	if m == nil {
		return "", fmt.Errorf("discover token: pattern not found: %w", ErrNoToken)
	}
	tok := m[0]
	if len(m) > 1 {
		tok = m[1]
	}
	return strings.TrimSpace(string(tok)), nil
}
