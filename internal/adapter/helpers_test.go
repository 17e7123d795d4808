package adapter

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/canonical"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// routeFetcher answers by full request URL and records what it was asked for.
type routeFetcher struct {
	mu       sync.Mutex
	routes   map[string]ingest.Response
	requests []ingest.Request
}

func newRouteFetcher() *routeFetcher {
	return &routeFetcher{routes: map[string]ingest.Response{}}
}

func (f *routeFetcher) serve(rawURL string, status int, contentType, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[rawURL] = ingest.Response{
		URL:        rawURL,
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {contentType}},
		Body:       []byte(body),
	}
}

func (f *routeFetcher) Fetch(_ context.Context, req ingest.Request) ingest.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if resp, ok := f.routes[req.FullURL()]; ok {
		return resp
	}
	return ingest.Response{URL: req.FullURL(), StatusCode: ingest.StatusFetchFailed, Headers: http.Header{"X-Error": {"connection: refused"}}}
}

func (f *routeFetcher) calls() []ingest.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ingest.Request(nil), f.requests...)
}

type stubExtractor struct{ text string }

func (s stubExtractor) ExtractText([]byte) string { return s.text }

func testDeps(fetcher ingest.Fetcher) Deps {
	return Deps{
		Fetcher:   fetcher,
		Extractor: stubExtractor{},
		Clock:     fixedClock{t: testNow},
		Logger:    zap.NewNop(),
	}
}

func htmlResponse(rawURL, body string) *ingest.Response {
	return &ingest.Response{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func mustParse(t *testing.T, pageURL, body string) *canonical.Document {
	t.Helper()
	doc, err := canonical.ParseHTML([]byte(body), "text/html", pageURL)
	require.NoError(t, err)
	return doc
}
