package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/canonical"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

const defaultDocumentLinkPattern = `(?i)\.pdf($|\?)`

// Document lists links to binary attachments and extracts records from
// their text, applying the page heuristics to the extracted text.
type Document struct {
	base
}

// NewDocument builds a pdf_listing adapter.
func NewDocument(def ingest.SourceDefinition, deps Deps) (*Document, error) {
	if def.Selectors.LinkPattern == "" && def.Selectors.Item == "" {
		def.Selectors.LinkPattern = defaultDocumentLinkPattern
	}
	b, err := newBase(def, deps)
	if err != nil {
		return nil, err
	}
	return &Document{base: b}, nil
}

// Start implements ingest.Adapter.
func (a *Document) Start(context.Context) (ingest.Step, error) {
	return a.firstStep(), nil
}

// ListLocators implements ingest.Adapter.
func (a *Document) ListLocators(_ context.Context, step ingest.Step, resp ingest.Response) (ingest.Listing, error) {
	doc, err := canonical.ParseHTML(resp.Body, resp.ContentType(), pageURL(step, resp))
	if err != nil {
		return ingest.Listing{}, fmt.Errorf("parse listing page %d: %w", step.Page, err)
	}
	locators := a.locatorsFrom(doc)
	for i := range locators {
		if locators[i].Title == "" || canonical.IsGenericTitle(locators[i].Title) {
			locators[i].Title = canonical.SlugTitle(locators[i].URL)
		}
	}
	return ingest.Listing{Locators: locators, Next: a.nextStep(step, doc)}, nil
}

// DetailRequest uses the long read window binaries need.
func (a *Document) DetailRequest(loc ingest.Locator) ingest.Request {
	return *a.documentRequest(loc.URL)
}

// Extract implements ingest.Adapter.
func (a *Document) Extract(_ context.Context, loc ingest.Locator, doc *ingest.Response) (ingest.Extraction, error) {
	if !usable(doc) {
		return a.partial(loc, doc), nil
	}
	if doc.ContentType() != "" && strings.Contains(doc.ContentType(), "html") {
		// Some listings link to an HTML wrapper around the attachment.
		ex, err := a.fromPage(loc, doc)
		if err != nil {
			return ingest.Extraction{}, ingest.SkipError(loc.Identity(), err)
		}
		return ex, nil
	}
	return a.fromDocument(loc, doc), nil
}
