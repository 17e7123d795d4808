package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/canonical"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

const (
	defaultResultsField = "results"
	defaultIDField      = "id"
	defaultTitleField   = "title"
	defaultURLField     = "url"
	defaultPageParam    = "page"
)

// JSONAPI maps rows of a paged JSON document onto records. Rows carry
// everything a record needs, so detail pages are optional.
type JSONAPI struct {
	base
	api       ingest.APIDefinition
	pageParam string
	tokens    *TokenCache
}

// NewJSONAPI builds a json_api adapter. Page numbering starts at 1 unless
// pagination.first_page says otherwise.
func NewJSONAPI(def ingest.SourceDefinition, deps Deps) (*JSONAPI, error) {
	if def.Pagination.FirstPage == 0 {
		def.Pagination.FirstPage = 1
	}
	b, err := newBase(def, deps)
	if err != nil {
		return nil, err
	}
	a := &JSONAPI{base: b, api: def.API, pageParam: def.Pagination.PageParam}
	if a.pageParam == "" {
		a.pageParam = defaultPageParam
	}
	if a.api.ResultsField == "" {
		a.api.ResultsField = defaultResultsField
	}
	if a.api.IDField == "" {
		a.api.IDField = defaultIDField
	}
	if a.api.TitleField == "" {
		a.api.TitleField = defaultTitleField
	}
	if a.api.URLField == "" {
		a.api.URLField = defaultURLField
	}
	if def.Auth.Enabled() {
		now := b.now
		tokens, err := NewTokenCache(def.Auth, deps.Fetcher, now)
		if err != nil {
			return nil, ingest.NewConfigError(def.Name, "%v", err)
		}
		a.tokens = tokens
	}
	return a, nil
}

// Start implements ingest.Adapter.
func (a *JSONAPI) Start(ctx context.Context) (ingest.Step, error) {
	step := *a.pageStep(1)
	if err := a.authorize(ctx, &step.Request, false); err != nil {
		return ingest.Step{}, err
	}
	return step, nil
}

// Reauthenticate implements ingest.Reauthenticator: the cached token is
// dropped and one forced refresh is attempted.
func (a *JSONAPI) Reauthenticate(ctx context.Context, step ingest.Step) (ingest.Step, bool) {
	if a.tokens == nil {
		return step, false
	}
	a.tokens.Invalidate()
	if err := a.authorize(ctx, &step.Request, true); err != nil {
		a.logger.Warn("token refresh failed", zap.Error(err))
		return step, false
	}
	return step, true
}

func (a *JSONAPI) authorize(ctx context.Context, req *ingest.Request, force bool) error {
	if a.tokens == nil {
		return nil
	}
	tok, err := a.tokens.Token(ctx, force)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}
	headers := req.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Authorization", "Bearer "+tok)
	req.Headers = headers
	return nil
}

func (a *JSONAPI) pageStep(page int) *ingest.Step {
	params := url.Values{}
	params.Set(a.pageParam, strconv.Itoa(a.pageValue(page)))
	if a.api.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(a.api.PerPage))
	}
	return &ingest.Step{Page: page, Request: ingest.Request{
		URL:         a.def.ListingURL(),
		Params:      params,
		Headers:     http.Header{"Accept": {"application/json"}},
		ReadTimeout: a.def.ReadTimeout(),
	}}
}

// ListLocators implements ingest.Adapter.
func (a *JSONAPI) ListLocators(ctx context.Context, step ingest.Step, resp ingest.Response) (ingest.Listing, error) {
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return ingest.Listing{}, fmt.Errorf("decode api page %d: %w", step.Page, err)
	}
	rows, ok := lookup(root, a.api.ResultsField).([]any)
	if !ok && lookup(root, a.api.ResultsField) != nil {
		return ingest.Listing{}, fmt.Errorf("decode api page %d: %s is not a list", step.Page, a.api.ResultsField)
	}

	locators := make([]ingest.Locator, 0, len(rows))
	for _, row := range rows {
		fields, ok := row.(map[string]any)
		if !ok {
			continue
		}
		if loc, ok := a.locator(fields); ok {
			locators = append(locators, loc)
		}
	}

	next := a.next(root, step, len(locators))
	if next != nil {
		next.Request.Headers = step.Request.Headers.Clone()
		if next.Request.Headers == nil {
			next.Request.Headers = http.Header{"Accept": {"application/json"}}
		}
		if err := a.authorize(ctx, &next.Request, false); err != nil {
			a.logger.Warn("authorize next page", zap.Error(err))
		}
	}
	return ingest.Listing{Locators: locators, Next: next}, nil
}

func (a *JSONAPI) next(root any, step ingest.Step, rows int) *ingest.Step {
	if a.api.NextField != "" {
		nextURL := stringify(lookup(root, a.api.NextField))
		if nextURL == "" {
			return nil
		}
		abs := canonical.ResolveURL(step.Request.FullURL(), nextURL)
		if abs == "" || abs == step.Request.FullURL() {
			return nil
		}
		return &ingest.Step{Page: step.Page + 1, Request: ingest.Request{URL: abs, ReadTimeout: a.def.ReadTimeout()}}
	}
	if a.api.TotalPagesField != "" {
		total, err := strconv.Atoi(stringify(lookup(root, a.api.TotalPagesField)))
		if err != nil || step.Page >= total {
			return nil
		}
		return a.pageStep(step.Page + 1)
	}
	if rows == 0 {
		return nil
	}
	return a.pageStep(step.Page + 1)
}

func (a *JSONAPI) locator(row map[string]any) (ingest.Locator, bool) {
	rawURL := stringify(lookup(row, a.api.URLField))
	if rawURL != "" {
		if abs := canonical.ResolveURL(a.def.BaseURL, rawURL); abs != "" {
			if normalized, err := canonical.NormalizeURL(abs, a.def.KeepQuery); err == nil {
				rawURL = normalized
			}
		}
	}
	id := stringify(lookup(row, a.api.IDField))
	if id == "" && rawURL == "" {
		return ingest.Locator{}, false
	}
	title := canonical.CleanText(stringify(lookup(row, a.api.TitleField)))

	loc := ingest.Locator{
		URL:      rawURL,
		ID:       id,
		Title:    title,
		Raw:      row,
		Complete: !a.def.FetchDetail,
	}
	if a.api.DateField != "" {
		loc.PublishedAt = canonical.ParseDate(stringify(lookup(row, a.api.DateField)))
	}
	if a.api.SummaryField != "" {
		loc.Summary = canonical.Truncate(canonical.CleanText(stringify(lookup(row, a.api.SummaryField))), a.summaryChars)
	}
	if a.api.AgencyField != "" {
		loc.Agency = stringify(lookup(row, a.api.AgencyField))
	}
	kind := ""
	if a.api.TypeField != "" {
		kind = stringify(lookup(row, a.api.TypeField))
	}
	loc.Status = a.status(kind, title)
	return loc, true
}

// status maps the row type through status_map, else the classifier.
func (a *JSONAPI) status(kind, title string) string {
	if kind != "" {
		for k, v := range a.api.StatusMap {
			if strings.EqualFold(k, kind) {
				return v
			}
		}
	}
	return a.Classify(kind + "\n" + title)
}

// Extract implements ingest.Adapter.
func (a *JSONAPI) Extract(_ context.Context, loc ingest.Locator, doc *ingest.Response) (ingest.Extraction, error) {
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
	if ex.Record != nil && loc.Summary != "" && ex.Record.Summary == "" {
		ex.Record.Summary = loc.Summary
	}
	return ex, nil
}

// lookup follows a dotted path through objects and arrays ("agencies.0.name").
func lookup(node any, path string) any {
	if path == "" {
		return nil
	}
	for _, key := range strings.Split(path, ".") {
		switch v := node.(type) {
		case map[string]any:
			node = v[key]
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			node = v[i]
		default:
			return nil
		}
	}
	return node
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		if name, ok := val["name"]; ok {
			return stringify(name)
		}
		return ""
	default:
		return fmt.Sprint(val)
	}
}
