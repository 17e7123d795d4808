package adapter

import (
	"context"
	"fmt"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/canonical"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// Listing extracts anchors and nearby date text from server-rendered listing
// pages, then reads each detail page through the canonicalizer chains.
type Listing struct {
	base
}

// NewListing builds an html_listing adapter.
func NewListing(def ingest.SourceDefinition, deps Deps) (*Listing, error) {
	b, err := newBase(def, deps)
	if err != nil {
		return nil, err
	}
	return &Listing{base: b}, nil
}

// Start implements ingest.Adapter.
func (a *Listing) Start(context.Context) (ingest.Step, error) {
	return a.firstStep(), nil
}

// ListLocators implements ingest.Adapter.
func (a *Listing) ListLocators(_ context.Context, step ingest.Step, resp ingest.Response) (ingest.Listing, error) {
	doc, err := canonical.ParseHTML(resp.Body, resp.ContentType(), pageURL(step, resp))
	if err != nil {
		return ingest.Listing{}, fmt.Errorf("parse listing page %d: %w", step.Page, err)
	}
	return ingest.Listing{Locators: a.locatorsFrom(doc), Next: a.nextStep(step, doc)}, nil
}

// Extract implements ingest.Adapter.
func (a *Listing) Extract(_ context.Context, loc ingest.Locator, doc *ingest.Response) (ingest.Extraction, error) {
	if loc.Complete && doc == nil {
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

// pageURL prefers the post-redirect URL for resolving relative links.
func pageURL(step ingest.Step, resp ingest.Response) string {
	if resp.URL != "" {
		return resp.URL
	}
	return step.Request.FullURL()
}
