package adapter

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/canonical"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/hash/sha256"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// Feed reads RSS and Atom documents. Entries carry a native date, so no
// scraping is needed unless the source asks for detail pages.
type Feed struct {
	base
	parser *gofeed.Parser
}

// NewFeed builds a feed adapter.
func NewFeed(def ingest.SourceDefinition, deps Deps) (*Feed, error) {
	b, err := newBase(def, deps)
	if err != nil {
		return nil, err
	}
	return &Feed{base: b, parser: gofeed.NewParser()}, nil
}

// Start implements ingest.Adapter.
func (a *Feed) Start(context.Context) (ingest.Step, error) {
	return a.firstStep(), nil
}

// ListLocators implements ingest.Adapter.
func (a *Feed) ListLocators(_ context.Context, step ingest.Step, resp ingest.Response) (ingest.Listing, error) {
	feed, err := a.parser.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return ingest.Listing{}, fmt.Errorf("parse feed page %d: %w", step.Page, err)
	}
	origin := pageURL(step, resp)
	locators := make([]ingest.Locator, 0, len(feed.Items))
	for _, item := range feed.Items {
		if loc, ok := a.locator(item, origin); ok {
			locators = append(locators, loc)
		}
	}
	var next *ingest.Step
	if len(locators) > 0 {
		next = a.nextStep(step, nil)
	}
	return ingest.Listing{Locators: locators, Next: next}, nil
}

func (a *Feed) locator(item *gofeed.Item, origin string) (ingest.Locator, bool) {
	link := item.Link
	if link == "" && len(item.Links) > 0 {
		link = item.Links[0]
	}
	link = canonical.ResolveURL(origin, strings.TrimSpace(link))
	if link == "" {
		return ingest.Locator{}, false
	}
	normalized, err := canonical.NormalizeURL(link, a.def.KeepQuery)
	if err != nil {
		return ingest.Locator{}, false
	}
	title := canonical.CleanText(item.Title)

	id := strings.TrimSpace(item.GUID)
	if id == "" {
		id = sha256.Hex([]byte(link + "::" + title))
	}
	if a.idPattern != nil {
		if derived := a.identity(title, normalized); derived != "" {
			id = derived
		}
	}

	summary := entryText(item.Description, origin)
	if summary == "" {
		summary = entryText(item.Content, origin)
	}
	categories := strings.Join(item.Categories, ", ")

	loc := ingest.Locator{
		URL:         normalized,
		ID:          id,
		Title:       title,
		PublishedAt: entryDate(item),
		Summary:     canonical.Truncate(summary, a.summaryChars),
		Status:      a.Classify(categories + "\n" + title + "\n" + normalized),
		Raw: map[string]any{
			"guid":       item.GUID,
			"categories": item.Categories,
			"feed_link":  link,
		},
		Complete: !a.def.FetchDetail,
	}
	if item.Author != nil && item.Author.Name != "" {
		loc.Raw["author"] = item.Author.Name
	}
	return loc, true
}

// Extract implements ingest.Adapter.
func (a *Feed) Extract(_ context.Context, loc ingest.Locator, doc *ingest.Response) (ingest.Extraction, error) {
	if doc == nil {
		return ingest.Extraction{Record: a.record(loc)}, nil
	}
	if !usable(doc) {
		return a.partial(loc, doc), nil
	}
	ex, err := a.fromPage(loc, doc)
	if err != nil {
		return ingest.Extraction{}, ingest.SkipError(loc.Identity(), err)
	}
	return ex, nil
}

func entryDate(item *gofeed.Item) *time.Time {
	for _, t := range []*time.Time{item.PublishedParsed, item.UpdatedParsed} {
		if t != nil && !t.IsZero() {
			utc := t.UTC()
			return &utc
		}
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if t := canonical.ParseDate(raw); t != nil {
			return t
		}
	}
	return nil
}

// entryText strips markup from a description or content field.
func entryText(markup, origin string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	doc, err := canonical.ParseFragment(markup, origin)
	if err != nil {
		return canonical.CleanText(markup)
	}
	return canonical.CleanText(doc.DOM.Text())
}
