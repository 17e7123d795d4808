// Package adapter implements the per-family extraction strategies. Each
// strategy is parameterized by a source definition rather than written per site.
package adapter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/canonical"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/extract/pdftext"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

const defaultDocumentReadTimeout = 120 * time.Second

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Fetcher      ingest.Fetcher
	Extractor    ingest.TextExtractor
	Clock        ingest.Clock
	SummaryChars int
	Logger       *zap.Logger
}

// base carries the configuration and helpers common to all strategies.
type base struct {
	def          ingest.SourceDefinition
	classifier   *Classifier
	extractor    ingest.TextExtractor
	clock        ingest.Clock
	summaryChars int
	linkPattern  *regexp.Regexp
	idPattern    *regexp.Regexp
	logger       *zap.Logger
}

func newBase(def ingest.SourceDefinition, deps Deps) (base, error) {
	classifier, err := NewClassifier(def.StatusRules, def.Status())
	if err != nil {
		return base{}, ingest.NewConfigError(def.Name, "%v", err)
	}
	b := base{
		def:          def,
		classifier:   classifier,
		extractor:    deps.Extractor,
		clock:        deps.Clock,
		summaryChars: deps.SummaryChars,
		logger:       deps.Logger,
	}
	if b.summaryChars <= 0 {
		b.summaryChars = canonical.DefaultSummaryChars
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	b.logger = b.logger.With(zap.String("source", def.Name))
	if def.Selectors.LinkPattern != "" {
		if b.linkPattern, err = regexp.Compile(def.Selectors.LinkPattern); err != nil {
			return base{}, ingest.NewConfigError(def.Name, "selectors.link_pattern: %v", err)
		}
	}
	if def.Selectors.IDPattern != "" {
		if b.idPattern, err = regexp.Compile(def.Selectors.IDPattern); err != nil {
			return base{}, ingest.NewConfigError(def.Name, "selectors.id_pattern: %v", err)
		}
	}
	return b, nil
}

func (b *base) now() time.Time {
	if b.clock == nil {
		return time.Now().UTC()
	}
	return b.clock.Now().UTC()
}

// Classify maps text onto the source's status vocabulary.
func (b *base) Classify(text string) string {
	return b.classifier.Classify(text)
}

// locatorsFrom applies the source's listing selectors to a parsed page.
func (b *base) locatorsFrom(doc *canonical.Document) []ingest.Locator {
	sel := b.def.Selectors
	seen := make(map[string]struct{})
	var out []ingest.Locator

	add := func(node, anchor *goquery.Selection) {
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		abs := canonical.ResolveURL(doc.URL, href)
		if abs == "" || (b.linkPattern != nil && !b.linkPattern.MatchString(abs)) {
			return
		}
		normalized, err := canonical.NormalizeURL(abs, b.def.KeepQuery)
		if err != nil {
			return
		}
		title := canonical.CleanText(anchor.Text())
		if sel.Title != "" {
			if t := canonical.CleanText(node.Find(sel.Title).First().Text()); t != "" {
				title = t
			}
		}
		nearby := canonical.CleanText(node.Text())
		loc := ingest.Locator{
			URL:         normalized,
			ID:          b.identity(title, normalized),
			Title:       title,
			PublishedAt: b.listingDate(node, nearby),
			Raw:         map[string]any{"listing_url": doc.URL, "listing_text": nearby},
		}
		if _, dup := seen[loc.Identity()]; dup {
			return
		}
		seen[loc.Identity()] = struct{}{}
		out = append(out, loc)
	}

	if sel.Item != "" {
		linkSel := sel.Link
		if linkSel == "" {
			linkSel = "a[href]"
		}
		doc.DOM.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
			anchor := item.Find(linkSel).First()
			if anchor.Length() == 0 && goquery.NodeName(item) == "a" {
				anchor = item
			}
			if anchor.Length() > 0 {
				add(item, anchor)
			}
		})
		return out
	}

	linkSel := sel.Link
	if linkSel == "" {
		linkSel = "a[href]"
	}
	doc.DOM.Find(linkSel).Each(func(_ int, anchor *goquery.Selection) {
		add(anchor.Parent(), anchor)
	})
	return out
}

// listingDate reads the configured date element, else the first prose date near the link.
func (b *base) listingDate(node *goquery.Selection, nearby string) *time.Time {
	if b.def.Selectors.Date != "" {
		dateNode := node.Find(b.def.Selectors.Date).First()
		if dt, ok := dateNode.Attr("datetime"); ok {
			if t := canonical.ParseDate(dt); t != nil {
				return t
			}
		}
		if t := canonical.ParseDate(canonical.CleanText(dateNode.Text())); t != nil {
			return t
		}
	}
	return canonical.ProseDate(nearby, "")
}

// identity derives the locator's id from IDPattern, else leaves it to the URL.
func (b *base) identity(title, rawURL string) string {
	if b.idPattern == nil {
		return ""
	}
	for _, candidate := range []string{title, rawURL} {
		m := b.idPattern.FindStringSubmatch(candidate)
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != "" {
			return m[1]
		}
		return m[0]
	}
	return ""
}

// record builds a record carrying the source-level defaults.
func (b *base) record(loc ingest.Locator) *ingest.Record {
	agency := b.def.Agency
	if loc.Agency != "" {
		agency = loc.Agency
	}
	status := loc.Status
	if status == "" {
		status = b.def.Status()
	}
	raw := map[string]any{}
	for k, v := range loc.Raw {
		raw[k] = v
	}
	return &ingest.Record{
		ExternalID:   b.def.ExternalID(loc),
		Title:        canonical.ResolveTitle(nil, loc.Title, loc.URL),
		Summary:      loc.Summary,
		URL:          loc.URL,
		Jurisdiction: b.def.Jurisdiction,
		Agency:       agency,
		Status:       status,
		PublishedAt:  canonical.ResolveDate(canonical.DateSignals{Hint: loc.PublishedAt, URL: loc.URL, Now: b.now()}),
		FetchedAt:    b.now(),
		Raw:          raw,
	}
}

// partial is the degraded record for a locator whose document could not be fetched.
func (b *base) partial(loc ingest.Locator, resp *ingest.Response) ingest.Extraction {
	rec := b.record(loc)
	if resp != nil {
		rec.Raw["fetch_status"] = resp.StatusCode
		if e := resp.Headers.Get("X-Error"); e != "" {
			rec.Raw["fetch_error"] = e
		}
	}
	rec.Raw["partial"] = true
	return ingest.Extraction{Record: rec}
}

// documentRequest is the nested fetch for a binary attachment.
func (b *base) documentRequest(rawURL string) *ingest.Request {
	timeout := b.def.ReadTimeout()
	if timeout <= 0 {
		timeout = defaultDocumentReadTimeout
	}
	return &ingest.Request{URL: rawURL, ReadTimeout: timeout}
}

// fromDocument extracts a record from binary bytes: text extraction, then the
// same date and status heuristics used for pages.
func (b *base) fromDocument(loc ingest.Locator, resp *ingest.Response) ingest.Extraction {
	text := ""
	if b.extractor != nil {
		text = b.extractor.ExtractText(resp.Body)
	}
	rec := b.record(loc)
	rec.PublishedAt = canonical.ResolveDate(canonical.DateSignals{
		Text:         text,
		Hint:         loc.PublishedAt,
		URL:          loc.URL,
		LastModified: resp.Headers.Get("Last-Modified"),
		Now:          b.now(),
	})
	if text != "" {
		rec.Summary = canonical.SummarizeDocument(text, b.summaryChars)
	}
	if loc.Status == "" {
		rec.Status = b.Classify(loc.Title + "\n" + head(text, 2000) + "\n" + loc.URL)
	}
	rec.Raw["document_url"] = resp.URL
	rec.Raw["document_bytes"] = len(resp.Body)
	rec.Raw["text_chars"] = len(text)
	return ingest.Extraction{Record: rec, Body: text}
}

// fromPage extracts a record from a fetched HTML detail page.
func (b *base) fromPage(loc ingest.Locator, resp *ingest.Response) (ingest.Extraction, error) {
	if pdftext.IsPDF(resp.Body) {
		return b.fromDocument(loc, resp), nil
	}
	doc, err := canonical.ParseHTML(resp.Body, resp.ContentType(), loc.URL)
	if err != nil {
		return ingest.Extraction{}, err
	}
	if link := b.def.Selectors.DocumentLink; link != "" {
		if href, ok := doc.DOM.Find(link).First().Attr("href"); ok {
			if abs := canonical.ResolveURL(loc.URL, href); abs != "" {
				refined := loc
				refined.Title = canonical.ResolveTitle(doc, loc.Title, loc.URL)
				if refined.PublishedAt == nil {
					refined.PublishedAt = canonical.MetadataDate(doc)
				}
				refined.Raw = map[string]any{"detail_url": loc.URL}
				for k, v := range loc.Raw {
					refined.Raw[k] = v
				}
				return ingest.Extraction{Nested: b.documentRequest(abs), Locator: &refined}, nil
			}
		}
	}

	body := doc.BodyText()
	rec := b.record(loc)
	rec.Title = canonical.ResolveTitle(doc, loc.Title, loc.URL)
	rec.PublishedAt = canonical.ResolveDate(canonical.DateSignals{
		Text:         body,
		Doc:          doc,
		Hint:         loc.PublishedAt,
		URL:          loc.URL,
		LastModified: resp.Headers.Get("Last-Modified"),
		Now:          b.now(),
	})
	if summary := canonical.Summarize(body, b.summaryChars); summary != "" {
		rec.Summary = summary
	}
	if loc.Status == "" {
		rec.Status = b.Classify(b.classifierContext(doc, loc))
	}
	return ingest.Extraction{Record: rec, Body: body}, nil
}

// classifierContext gathers category pills, breadcrumbs and the URL path.
func (b *base) classifierContext(doc *canonical.Document, loc ingest.Locator) string {
	parts := []string{loc.URL}
	if b.def.Selectors.Context != "" {
		doc.DOM.Find(b.def.Selectors.Context).Each(func(_ int, s *goquery.Selection) {
			parts = append(parts, canonical.CleanText(s.Text()))
		})
	}
	if text, ok := loc.Raw["listing_text"].(string); ok {
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}

// head returns at most n bytes of s without splitting a rune.
func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// DetailRequest fetches the locator URL with the source's read window.
func (b *base) DetailRequest(loc ingest.Locator) ingest.Request {
	return ingest.Request{URL: loc.URL, ReadTimeout: b.def.ReadTimeout()}
}

// firstStep is the unparameterized listing URL.
func (b *base) firstStep() ingest.Step {
	return ingest.Step{Page: 1, Request: ingest.Request{URL: b.def.ListingURL(), ReadTimeout: b.def.ReadTimeout()}}
}

// pageValue maps a 1-based page number onto the site's numbering.
func (b *base) pageValue(page int) int {
	return b.def.Pagination.FirstPage + page - 1
}

// nextStep resolves the pagination advance after the page at step.
func (b *base) nextStep(step ingest.Step, doc *canonical.Document) *ingest.Step {
	p := b.def.Pagination
	next := step.Page + 1
	switch {
	case p.NextSelector != "":
		if doc == nil {
			return nil
		}
		href, ok := doc.DOM.Find(p.NextSelector).First().Attr("href")
		if !ok {
			return nil
		}
		abs := canonical.ResolveURL(doc.URL, href)
		if abs == "" || abs == step.Request.FullURL() {
			return nil
		}
		return &ingest.Step{Page: next, Request: ingest.Request{URL: abs, ReadTimeout: b.def.ReadTimeout()}}
	case p.PageParam != "":
		return &ingest.Step{Page: next, Request: ingest.Request{
			URL:         b.def.ListingURL(),
			Params:      map[string][]string{p.PageParam: {strconv.Itoa(b.pageValue(next))}},
			ReadTimeout: b.def.ReadTimeout(),
		}}
	case p.PathTemplate != "":
		abs := canonical.ResolveURL(b.def.ListingURL(), fmt.Sprintf(p.PathTemplate, b.pageValue(next)))
		if abs == "" {
			return nil
		}
		return &ingest.Step{Page: next, Request: ingest.Request{URL: abs, ReadTimeout: b.def.ReadTimeout()}}
	}
	return nil
}

// usable reports whether a fetched detail response can be extracted.
func usable(resp *ingest.Response) bool {
	return resp != nil && !resp.Failed() && resp.OK() && len(resp.Body) > 0
}
