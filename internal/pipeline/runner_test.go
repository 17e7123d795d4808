package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/crawl"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/enrich"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/hash/sha256"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	pubmemory "github.com/SaptorsheeNag/us-policywatch-sub001/internal/publisher/memory"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/storage/memory"
)

func threePageSite() *fixtureSite {
	return newFixtureSite(
		[]string{"budget-signed", "eo-25-03"},
		[]string{"wildfire-update", "drought-declared"},
		[]string{"bridge-opens"},
	)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, threePageSite(), nil)

	first := h.run(t, ingest.RunParams{})
	assert.Equal(t, string(ModeBackfill), first.Mode)
	assert.Equal(t, 3, first.Pages)
	assert.Equal(t, crawl.StopNoAdvance, first.StopReason)
	assert.Equal(t, 5, first.SeenCandidates)
	assert.Equal(t, 5, first.NewCandidates)
	assert.Equal(t, 5, first.Committed)
	require.Len(t, h.rows(t), 5)

	second := h.run(t, ingest.RunParams{})
	assert.Equal(t, string(ModeCron), second.Mode)
	assert.Equal(t, 5, second.SeenCandidates)
	assert.Zero(t, second.NewCandidates)
	assert.Zero(t, second.Committed)
	require.Len(t, h.rows(t), 5)
}

func TestBackfillThenCronCommitsOnlyTheNewItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, threePageSite(), nil)
	h.run(t, ingest.RunParams{})
	before := h.rows(t)

	h.site.prepend(0, "tax-relief")
	summary := h.run(t, ingest.RunParams{})
	assert.Equal(t, string(ModeCron), summary.Mode)
	assert.Equal(t, 1, summary.NewCandidates)
	assert.Equal(t, 1, summary.Committed)

	after := h.rows(t)
	require.Len(t, after, 6)
	byID := make(map[string]ingest.Record, len(after))
	for _, rec := range after {
		byID[rec.ExternalID] = rec
	}
	for _, old := range before {
		require.Equal(t, old, byID[old.ExternalID], "prior row %s changed", old.ExternalID)
	}
	added, ok := byID[siteURL+"/news/tax-relief"]
	require.True(t, ok)
	assert.Equal(t, "tax relief", added.Title)
}

func TestCronAppliesItemLimitAfterFilter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, threePageSite(), nil)
	h.run(t, ingest.RunParams{})

	h.site.prepend(0, "a-new", "b-new", "c-new")
	summary := h.run(t, ingest.RunParams{MaxItems: 2})
	assert.Equal(t, 3+5, summary.SeenCandidates)
	assert.Equal(t, 2, summary.NewCandidates)
	assert.Equal(t, 2, summary.Committed)
	require.Len(t, h.rows(t), 7)
}

func TestRunIdentitiesAreUnique(t *testing.T) {
	t.Parallel()

	site := newFixtureSite(
		[]string{"budget-signed", "eo-25-03", "budget-signed"},
		[]string{"eo-25-03", "bridge-opens"},
	)
	h := newHarness(t, site, nil)
	summary := h.run(t, ingest.RunParams{})
	assert.Equal(t, 3, summary.Committed)

	seen := map[string]bool{}
	for _, rec := range h.rows(t) {
		require.False(t, seen[rec.ExternalID], "duplicate %s", rec.ExternalID)
		seen[rec.ExternalID] = true
	}
}

func TestRunContainsLocatorFailures(t *testing.T) {
	t.Parallel()

	site := threePageSite()
	site.prepend(1, "malformed")
	site.down[siteURL+"/news/wildfire-update"] = true
	h := newHarness(t, site, nil)

	summary := h.run(t, ingest.RunParams{})
	assert.Equal(t, 6, summary.NewCandidates)
	assert.Equal(t, 5, summary.Committed)
	assert.Equal(t, 1, summary.Failed)

	partial, ok := h.store.Item(siteURL + "/news/wildfire-update")
	require.True(t, ok)
	assert.Equal(t, true, partial.Raw["partial"])
	assert.Nil(t, partial.PublishedAt)
	assert.Equal(t, "wildfire update", partial.Title)
	_, ok = h.store.Item(siteURL + "/news/malformed")
	assert.False(t, ok)
}

type countingEnricher struct {
	mu    sync.Mutex
	calls int
}

func (c *countingEnricher) Summarize(context.Context, string, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return "Polished summary.", nil
}

func (c *countingEnricher) ExtractDate(context.Context, string, string) (*time.Time, error) {
	return nil, nil
}

func (c *countingEnricher) ScoreImpact(context.Context, string, string, string) (*ingest.Impact, error) {
	return &ingest.Impact{Score: 0.3, Tags: []string{"budget"}}, nil
}

func (c *countingEnricher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRunEnrichesOnlyInsertedRecords(t *testing.T) {
	t.Parallel()

	enricher := &countingEnricher{}
	h := newHarness(t, threePageSite(), func(_ *Config, deps *Deps) {
		deps.Enricher = enrich.NewDispatcher(enricher, enrich.Config{DailyBudget: 100}, deps.Clock, zap.NewNop())
	})

	first := h.run(t, ingest.RunParams{})
	assert.Equal(t, 5, first.Enriched)
	assert.Equal(t, 5, enricher.count())
	for _, rec := range h.rows(t) {
		assert.Equal(t, "Polished summary.", rec.Summary)
		impact, ok := rec.Raw[enrich.RawImpactKey].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, enrich.ImpactApplied, impact["status"])
	}

	h.site.prepend(0, "tax-relief")
	second := h.run(t, ingest.RunParams{})
	assert.Equal(t, 1, second.Enriched)
	assert.Equal(t, 6, enricher.count())
}

func TestRunArchivesDocumentsAndPublishesEvents(t *testing.T) {
	t.Parallel()

	site := newFixtureSite([]string{"proclamation-24-01", "proclamation-24-02"})
	for _, slug := range []string{"proclamation-24-01", "proclamation-24-02"} {
		site.pdfs[siteURL+"/news/"+slug+"/attachment.pdf"] = true
	}
	blobs := memory.NewBlobStore()
	pub := pubmemory.New()
	h := newHarness(t, site, func(_ *Config, deps *Deps) {
		deps.Archive = blobs
		deps.Hasher = sha256.New()
		deps.Publisher = pub
	})
	h.adapter.nestOnce = true

	summary := h.run(t, ingest.RunParams{})
	require.Equal(t, 2, summary.Committed)
	require.Equal(t, 2, blobs.Len())

	for _, rec := range h.rows(t) {
		uri, _ := rec.Raw["archive_uri"].(string)
		require.NotEmpty(t, uri)
		sum, _ := rec.Raw["content_sha256"].(string)
		data, contentType, ok := blobs.Object("raw/wa-news/" + sum + ".pdf")
		require.True(t, ok)
		assert.Equal(t, "application/pdf", contentType)
		assert.True(t, strings.HasPrefix(string(data), "%PDF"))
	}

	events := pub.Topic(DefaultTopic)
	require.Len(t, events, 2)
	event, ok := events[0].(CommitEvent)
	require.True(t, ok)
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, "wa-news", event.Source)
	assert.True(t, event.Inserted)
	assert.Equal(t, testNow, event.CommittedAt)
}

func TestRunPublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	pub.FailWith(errors.New("broker down"))
	h := newHarness(t, threePageSite(), func(_ *Config, deps *Deps) { deps.Publisher = pub })

	summary := h.run(t, ingest.RunParams{})
	assert.Equal(t, 5, summary.Committed)
	assert.Zero(t, summary.Failed)
}

func TestRunStopsRunawayNesting(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFixtureSite([]string{"loop"}), nil)
	h.adapter.nestLoop = true

	summary := h.run(t, ingest.RunParams{})
	assert.Zero(t, summary.Committed)
	assert.Equal(t, 1, summary.Failed)
	// listing + detail + two nested documents
	assert.Equal(t, 1+1+maxNestedDepth, h.site.fetches())
}

func TestRunRespectsPageBounds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, threePageSite(), nil)
	summary := h.run(t, ingest.RunParams{MaxPages: 1})
	assert.Equal(t, 1, summary.Pages)
	assert.Equal(t, crawl.StopPageCap, summary.StopReason)
	assert.Equal(t, 2, summary.Committed)
}

func TestRunWithCanceledContextCommitsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, threePageSite(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.runner.Run(ctx, ingest.RunRequest{Source: "wa-news"})
	require.NoError(t, err)
	assert.Equal(t, crawl.StopDeadline, summary.StopReason)
	assert.Zero(t, summary.Committed)
}

func TestRunStartupErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, threePageSite(), func(_ *Config, deps *Deps) {
		deps.Sources = &staticSources{
			defs: []ingest.SourceDefinition{newsSource()},
			errs: map[string]error{"wa-news": ingest.NewConfigError("wa-news", "no pagination strategy")},
		}
	})

	_, err := h.runner.Run(context.Background(), ingest.RunRequest{Source: "wa-news"})
	require.ErrorIs(t, err, ingest.ErrConfig)

	_, err = h.runner.Run(context.Background(), ingest.RunRequest{Source: "nope"})
	require.ErrorIs(t, err, ingest.ErrUnknownSource)
}

func TestRunAllIsolatesSources(t *testing.T) {
	t.Parallel()

	site := threePageSite()
	broken := ingest.SourceDefinition{Name: "tx-news", Kind: ingest.KindHTMLListing, BaseURL: "https://gov.texas.example"}
	h := newHarness(t, site, func(cfg *Config, deps *Deps) {
		cfg.SourceParallelism = 2
		deps.Sources = &staticSources{
			defs:     []ingest.SourceDefinition{newsSource(), broken},
			adapters: map[string]ingest.Adapter{"wa-news": &fixtureAdapter{site: site}},
			errs:     map[string]error{"tx-news": ingest.NewConfigError("tx-news", "no pagination strategy")},
		}
	})

	results := h.runner.RunAll(context.Background(), "run-all", nil, ingest.RunParams{})
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 5, results[0].Summary.Committed)
	require.ErrorIs(t, results[1].Err, ingest.ErrConfig)
	assert.Equal(t, "tx-news", results[1].Summary.Source)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)

	site := threePageSite()
	_, err = New(Config{}, Deps{
		Sources: &staticSources{},
		Store:   memory.NewItemStore(nil),
		Fetcher: site,
		Clock:   fixedClock{t: testNow},
		Archive: memory.NewBlobStore(),
	})
	require.ErrorContains(t, err, "hasher")
}

// slowListings delays listing pages until ctx ends, like a slow upstream.
type slowListings struct {
	*fixtureSite
	delay time.Duration
}

func (s slowListings) Fetch(ctx context.Context, req ingest.Request) ingest.Response {
	if strings.Contains(req.FullURL(), "/news?page=") {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ingest.Response{URL: req.FullURL(), StatusCode: ingest.StatusFetchFailed}
		}
	}
	return s.fixtureSite.Fetch(ctx, req)
}

// ctxStore fails membership checks under a finished context, as pgx does.
type ctxStore struct {
	*memory.ItemStore
}

func (s ctxStore) FilterNew(ctx context.Context, sourceID int64, ids []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ItemStore.FilterNew(ctx, sourceID, ids)
}

func TestRunDeadlineKeepsListedLocators(t *testing.T) {
	t.Parallel()

	site := newFixtureSite(
		[]string{"budget-signed", "eo-25-03"},
		[]string{"wildfire-update", "drought-declared"},
		[]string{"bridge-opens", "ferry-schedule"},
		[]string{"tax-relief", "flood-watch"},
	)
	h := newHarness(t, site, func(cfg *Config, deps *Deps) {
		cfg.RunDeadline = 150 * time.Millisecond
		deps.Fetcher = slowListings{fixtureSite: site, delay: 40 * time.Millisecond}
		deps.Store = ctxStore{ItemStore: deps.Store.(*memory.ItemStore)}
	})

	src, err := h.store.EnsureSource(context.Background(), newsSource().Source())
	require.NoError(t, err)
	_, err = h.store.Upsert(context.Background(), ingest.Record{
		SourceID:   src.ID,
		ExternalID: siteURL + "/news/older-notice",
		Title:      "older notice",
		URL:        siteURL + "/news/older-notice",
	})
	require.NoError(t, err)

	summary := h.run(t, ingest.RunParams{MaxPages: 4})
	assert.Equal(t, string(ModeCron), summary.Mode)
	assert.Equal(t, crawl.StopDeadline, summary.StopReason)
	require.Positive(t, summary.Pages)
	assert.Less(t, summary.Pages, 4)
	assert.Equal(t, 2*summary.Pages, summary.SeenCandidates)
	assert.Equal(t, summary.SeenCandidates, summary.NewCandidates)
	assert.Equal(t, summary.SeenCandidates, summary.Committed)
	require.Len(t, h.rows(t), summary.Committed+1)
}

func TestRunTitlesHostRootRecords(t *testing.T) {
	t.Parallel()

	site := newFixtureSite([]string{"budget-signed"})
	site.pages[0] = append(site.pages[0], ingest.Locator{URL: siteURL + "/"})
	h := newHarness(t, site, nil)

	summary := h.run(t, ingest.RunParams{})
	require.Equal(t, 2, summary.Committed)
	root, ok := h.store.Item(siteURL + "/")
	require.True(t, ok)
	assert.Equal(t, "governor.example.gov", root.Title)
}
