package pipeline

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/adapter"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/crawl"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/storage/memory"
)

const listingPage = `<html><body><ul>
<li class="item"><a href="/news/2025/02/budget-signed">Governor signs budget</a><span class="date">February 20, 2025</span></li>
<li class="item"><a href="/news/2025/02/eo-25-03">Executive Order 25-03 issued</a><time datetime="2025-02-18">Feb 18</time></li>
</ul></body></html>`

const budgetPage = `<html><head>
<meta property="og:title" content="Governor Signs Balanced Budget">
<meta property="article:published_time" content="2025-02-20T18:00:00Z">
</head><body><article>
<p>The governor signed the balanced budget on Thursday.</p>
<p>It invests $2 billion in schools and housing across the state.</p>
</article></body></html>`

// mapFetcher serves fixed bodies by URL; anything else is a transport failure.
type mapFetcher struct {
	mu     sync.Mutex
	routes map[string]string
}

func (f *mapFetcher) Fetch(_ context.Context, req ingest.Request) ingest.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := req.FullURL()
	body, ok := f.routes[target]
	if !ok {
		return ingest.Response{URL: target, StatusCode: ingest.StatusFetchFailed, Headers: http.Header{"X-Error": {"connection: refused"}}}
	}
	return ingest.Response{URL: target, StatusCode: http.StatusOK, Headers: http.Header{"Content-Type": {"text/html; charset=utf-8"}}, Body: []byte(body)}
}

func TestRunThroughListingAdapter(t *testing.T) {
	t.Parallel()

	const base = "https://governor.example.gov"
	def := ingest.SourceDefinition{
		Name:         "wa-news",
		Kind:         ingest.KindHTMLListing,
		BaseURL:      base,
		ListURL:      base + "/news",
		Jurisdiction: "WA",
		Agency:       "Office of the Governor",
		Selectors:    ingest.SelectorDefinition{Item: "li.item", Date: ".date, time", IDPattern: `(\d{2}-\d{2})`},
		Pagination:   ingest.PaginationDefinition{PageParam: "page"},
		StatusRules:  []ingest.StatusRule{{Pattern: "budget", Status: "press_release"}},
	}
	fetcher := &mapFetcher{routes: map[string]string{
		base + "/news":                       listingPage,
		base + "/news?page=1":                listingPage,
		base + "/news/2025/02/budget-signed": budgetPage,
	}}
	clock := fixedClock{t: testNow}
	registry := adapter.NewRegistry([]ingest.SourceDefinition{def}, adapter.Deps{Fetcher: fetcher, Clock: clock, Logger: zap.NewNop()})
	store := memory.NewItemStore(clock)
	runner, err := New(Config{Limits: Limits{BackfillMaxPages: 10, SafetyMaxPages: 500}}, Deps{
		Sources: registry,
		Store:   store,
		Fetcher: fetcher,
		Clock:   clock,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)

	summary, err := runner.Run(context.Background(), ingest.RunRequest{RunID: "r", Source: "wa-news"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, crawl.StopNoNew, summary.StopReason)
	assert.Equal(t, 2, summary.Committed)

	budget, ok := store.Item(base + "/news/2025/02/budget-signed")
	require.True(t, ok)
	assert.Equal(t, "Governor Signs Balanced Budget", budget.Title)
	assert.Equal(t, time.Date(2025, 2, 20, 18, 0, 0, 0, time.UTC), *budget.PublishedAt)
	assert.Equal(t, "press_release", budget.Status)
	assert.Equal(t, "WA", budget.Jurisdiction)
	assert.NotEmpty(t, budget.Summary)

	// The order's detail page is unreachable: it is kept as a partial record
	// carrying the listing title and date.
	order, ok := store.Item("25-03")
	require.True(t, ok)
	assert.Equal(t, true, order.Raw["partial"])
	assert.Equal(t, "Executive Order 25-03 issued", order.Title)
	assert.Equal(t, time.Date(2025, 2, 18, 0, 0, 0, 0, time.UTC), *order.PublishedAt)
}
