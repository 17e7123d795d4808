package adapter

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

const tokenPage = "https://pa.example.gov/search"

func TestTokenCachePrefersEnvironment(t *testing.T) {
	t.Setenv("PW_TEST_TOKEN_ENV", "env-token")
	fetcher := newRouteFetcher()

	cache, err := NewTokenCache(ingest.AuthDefinition{TokenEnv: "PW_TEST_TOKEN_ENV"}, fetcher, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		tok, err := cache.Token(context.Background(), false)
		require.NoError(t, err)
		require.Equal(t, "env-token", tok)
	}
	require.Empty(t, fetcher.calls())
}

func TestTokenCacheDiscoveryHonoursTTL(t *testing.T) {
	t.Parallel()

	fetcher := newRouteFetcher()
	fetcher.serve(tokenPage, http.StatusOK, "text/html", `<script>var cfg = {"accessToken":"tok-1"};</script>`)
	now := testNow
	clock := func() time.Time { return now }

	cache, err := NewTokenCache(ingest.AuthDefinition{
		TokenURL:     tokenPage,
		TokenPattern: `"accessToken":"([^"]+)"`,
		TTLSeconds:   60,
	}, fetcher, clock)
	require.NoError(t, err)

	tok, err := cache.Token(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)

	_, err = cache.Token(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, fetcher.calls(), 1)

	now = now.Add(2 * time.Minute)
	_, err = cache.Token(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, fetcher.calls(), 2)
}

func TestTokenCacheRejectedEnvTokenFallsBackToDiscovery(t *testing.T) {
	t.Setenv("PW_TEST_TOKEN_STALE", "stale")
	fetcher := newRouteFetcher()
	fetcher.serve(tokenPage, http.StatusOK, "text/html", `"accessToken":"fresh"`)

	cache, err := NewTokenCache(ingest.AuthDefinition{
		TokenEnv:     "PW_TEST_TOKEN_STALE",
		TokenURL:     tokenPage,
		TokenPattern: `"accessToken":"([^"]+)"`,
	}, fetcher, nil)
	require.NoError(t, err)

	tok, err := cache.Token(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, "stale", tok)

	cache.Invalidate()
	tok, err = cache.Token(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, "fresh", tok)
}

func TestTokenCacheErrors(t *testing.T) {
	t.Parallel()

	cache, err := NewTokenCache(ingest.AuthDefinition{TokenEnv: "PW_TEST_TOKEN_UNSET_4F2A"}, nil, nil)
	require.NoError(t, err)
	_, err = cache.Token(context.Background(), false)
	require.True(t, errors.Is(err, ErrNoToken))

	_, err = NewTokenCache(ingest.AuthDefinition{TokenURL: tokenPage}, nil, nil)
	require.Error(t, err)

	fetcher := newRouteFetcher()
	fetcher.serve(tokenPage, http.StatusOK, "text/html", "no token here")
	cache, err = NewTokenCache(ingest.AuthDefinition{TokenURL: tokenPage, TokenPattern: `tok=(\w+)`}, fetcher, nil)
	require.NoError(t, err)
	_, err = cache.Token(context.Background(), false)
	require.True(t, errors.Is(err, ErrNoToken))
}
