package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const siteURL = "https://governor.example.gov"

// fixtureSite is a paginated source whose pages can change between runs.
type fixtureSite struct {
	mu    sync.Mutex
	pages [][]ingest.Locator
	down  map[string]bool
	pdfs  map[string]bool
	calls int
}

func newFixtureSite(pages ...[]string) *fixtureSite {
	s := &fixtureSite{down: map[string]bool{}, pdfs: map[string]bool{}}
	for _, slugs := range pages {
		s.pages = append(s.pages, locators(slugs...))
	}
	return s
}

func locators(slugs ...string) []ingest.Locator {
	out := make([]ingest.Locator, 0, len(slugs))
	for _, slug := range slugs {
		out = append(out, ingest.Locator{URL: siteURL + "/news/" + slug, Title: strings.ReplaceAll(slug, "-", " ")})
	}
	return out
}

func (s *fixtureSite) prepend(page int, slugs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page] = append(locators(slugs...), s.pages[page]...)
}

func (s *fixtureSite) page(n int) []ingest.Locator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.pages) {
		return nil
	}
	return append([]ingest.Locator(nil), s.pages[n-1]...)
}

func (s *fixtureSite) lastPage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// Fetch serves listing pages and detail documents.
func (s *fixtureSite) Fetch(_ context.Context, req ingest.Request) ingest.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	target := req.FullURL()
	if s.down[target] {
		return ingest.Response{URL: target, StatusCode: ingest.StatusFetchFailed, Headers: http.Header{"X-Error": {"timeout: deadline exceeded"}}}
	}
	if s.pdfs[target] {
		return ingest.Response{URL: target, StatusCode: http.StatusOK, Headers: http.Header{"Content-Type": {"application/pdf"}}, Body: []byte("%PDF-1.7 " + target)}
	}
	return ingest.Response{URL: target, StatusCode: http.StatusOK, Headers: http.Header{"Content-Type": {"text/html"}}, Body: []byte("<p>" + target + "</p>")}
}

func (s *fixtureSite) fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fixtureAdapter walks fixtureSite pages by number.
type fixtureAdapter struct {
	site     *fixtureSite
	nestOnce bool
	nestLoop bool
}

func (a *fixtureAdapter) Start(context.Context) (ingest.Step, error) {
	return a.step(1), nil
}

func (a *fixtureAdapter) step(n int) ingest.Step {
	return ingest.Step{Page: n, Request: ingest.Request{URL: fmt.Sprintf("%s/news?page=%d", siteURL, n)}}
}

func (a *fixtureAdapter) ListLocators(_ context.Context, step ingest.Step, _ ingest.Response) (ingest.Listing, error) {
	listing := ingest.Listing{Locators: a.site.page(step.Page)}
	if step.Page < a.site.lastPage() {
		next := a.step(step.Page + 1)
		listing.Next = &next
	}
	return listing, nil
}

func (a *fixtureAdapter) Extract(_ context.Context, loc ingest.Locator, doc *ingest.Response) (ingest.Extraction, error) {
	if loc.URL == siteURL+"/news/malformed" {
		return ingest.Extraction{}, ingest.SkipError(loc.Identity(), fmt.Errorf("unexpected document shape"))
	}
	published := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	rec := &ingest.Record{
		ExternalID: loc.Identity(),
		Title:      loc.Title,
		URL:        loc.URL,
		Status:     "press_release",
		Raw:        map[string]any{},
	}
	if doc == nil || !doc.OK() {
		rec.Raw["partial"] = true
		return ingest.Extraction{Record: rec}, nil
	}
	if (a.nestOnce && !strings.HasSuffix(doc.URL, ".pdf")) || a.nestLoop {
		nested := &ingest.Request{URL: loc.URL + "/attachment.pdf"}
		return ingest.Extraction{Nested: nested}, nil
	}
	rec.Summary = "Summary of " + loc.Title
	rec.PublishedAt = &published
	return ingest.Extraction{Record: rec, Body: string(doc.Body)}, nil
}

func (a *fixtureAdapter) Classify(string) string { return ingest.DefaultStatus }

// staticSources serves fixed definitions and adapters.
type staticSources struct {
	defs     []ingest.SourceDefinition
	adapters map[string]ingest.Adapter
	errs     map[string]error
}

func (s *staticSources) Names() []string {
	names := make([]string, 0, len(s.defs))
	for _, def := range s.defs {
		names = append(names, def.Name)
	}
	return names
}

func (s *staticSources) Definition(name string) (ingest.SourceDefinition, bool) {
	for _, def := range s.defs {
		if def.Name == name {
			return def, true
		}
	}
	return ingest.SourceDefinition{}, false
}

func (s *staticSources) Adapter(name string) (ingest.Adapter, error) {
	if err := s.errs[name]; err != nil {
		return nil, err
	}
	a, ok := s.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ingest.ErrUnknownSource, name)
	}
	return a, nil
}

func newsSource() ingest.SourceDefinition {
	return ingest.SourceDefinition{Name: "wa-news", Kind: ingest.KindHTMLListing, BaseURL: siteURL, Jurisdiction: "WA"}
}

type harness struct {
	site    *fixtureSite
	adapter *fixtureAdapter
	store   *memory.ItemStore
	runner  *Runner
}

func newHarness(t *testing.T, site *fixtureSite, mutate func(*Config, *Deps)) *harness {
	t.Helper()
	clock := fixedClock{t: testNow}
	adapter := &fixtureAdapter{site: site}
	store := memory.NewItemStore(clock)
	cfg := Config{
		Limits:         Limits{BackfillMaxPages: 50, CronMaxPages: 3, SafetyMaxPages: 500, DefaultMaxItems: 100},
		ExtractWorkers: 4,
		FilterBatch:    2,
	}
	deps := Deps{
		Sources: &staticSources{
			defs:     []ingest.SourceDefinition{newsSource()},
			adapters: map[string]ingest.Adapter{"wa-news": adapter},
		},
		Store:   store,
		Fetcher: site,
		Clock:   clock,
		Logger:  zap.NewNop(),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	runner, err := New(cfg, deps)
	require.NoError(t, err)
	return &harness{site: site, adapter: adapter, store: store, runner: runner}
}

func (h *harness) run(t *testing.T, params ingest.RunParams) ingest.RunSummary {
	t.Helper()
	summary, err := h.runner.Run(context.Background(), ingest.RunRequest{RunID: "run-1", Source: "wa-news", Params: params})
	require.NoError(t, err)
	return summary
}

func (h *harness) rows(t *testing.T) []ingest.Record {
	t.Helper()
	src, err := h.store.EnsureSource(context.Background(), newsSource().Source())
	require.NoError(t, err)
	return h.store.Items(src.ID)
}
