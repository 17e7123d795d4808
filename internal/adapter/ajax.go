package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/canonical"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

const (
	stateViewDOMID   = "view_dom_id"
	stateTheme       = "theme"
	stateLibraries   = "libraries"
	defaultAJAXRoute = "/views/ajax"
)

var viewDOMIDPattern = regexp.MustCompile(`(?i)"view_dom_id"\s*:\s*"([a-f0-9]{32,})"`)

// AJAXFragment walks a views-style endpoint that answers with a JSON list of
// commands wrapping HTML fragments. The landing page supplies the view token.
type AJAXFragment struct {
	base
	endpoint string
}

// NewAJAXFragment builds an ajax_fragment adapter.
func NewAJAXFragment(def ingest.SourceDefinition, deps Deps) (*AJAXFragment, error) {
	b, err := newBase(def, deps)
	if err != nil {
		return nil, err
	}
	endpoint := def.AJAX.Endpoint
	if endpoint == "" {
		endpoint = canonical.ResolveURL(def.BaseURL, defaultAJAXRoute)
	}
	if endpoint == "" {
		return nil, ingest.NewConfigError(def.Name, "ajax.endpoint cannot be resolved from base_url")
	}
	return &AJAXFragment{base: b, endpoint: endpoint}, nil
}

// Start implements ingest.Adapter. The first step is the server-rendered landing page.
func (a *AJAXFragment) Start(context.Context) (ingest.Step, error) {
	step := a.firstStep()
	step.Request.Headers = http.Header{"Referer": {a.def.BaseURL}}
	return step, nil
}

// ListLocators implements ingest.Adapter.
func (a *AJAXFragment) ListLocators(_ context.Context, step ingest.Step, resp ingest.Response) (ingest.Listing, error) {
	if step.State == nil {
		return a.landing(step, resp)
	}
	fragment, err := fragmentHTML(resp.Body)
	if err != nil {
		return ingest.Listing{}, fmt.Errorf("decode ajax page %d: %w", step.Page, err)
	}
	doc, err := canonical.ParseFragment(fragment, a.def.ListingURL())
	if err != nil {
		return ingest.Listing{}, fmt.Errorf("parse ajax page %d: %w", step.Page, err)
	}
	return ingest.Listing{Locators: a.locatorsFrom(doc), Next: a.ajaxStep(step.Page+1, step.State)}, nil
}

func (a *AJAXFragment) landing(step ingest.Step, resp ingest.Response) (ingest.Listing, error) {
	doc, err := canonical.ParseHTML(resp.Body, resp.ContentType(), pageURL(step, resp))
	if err != nil {
		return ingest.Listing{}, fmt.Errorf("parse landing page: %w", err)
	}
	listing := ingest.Listing{Locators: a.locatorsFrom(doc)}
	state := discoverViewState(doc, resp.Body)
	if state[stateViewDOMID] == "" {
		a.logger.Warn("view token not found on landing page", zap.String("url", doc.URL))
		return listing, nil
	}
	listing.Next = a.ajaxStep(step.Page+1, state)
	return listing, nil
}

// ajaxStep builds the endpoint request for a 1-based page.
func (a *AJAXFragment) ajaxStep(page int, state map[string]string) *ingest.Step {
	params := url.Values{}
	for k, v := range a.def.AJAX.Params {
		params.Set(k, v)
	}
	params.Set("_wrapper_format", "drupal_ajax")
	params.Set("_drupal_ajax", "1")
	params.Set("view_dom_id", state[stateViewDOMID])
	if params.Get("pager_element") == "" {
		params.Set("pager_element", "0")
	}
	params.Set("page", strconv.Itoa(a.pageValue(page)))
	params.Set("ajax_page_state[theme]", state[stateTheme])
	params.Set("ajax_page_state[theme_token]", "")
	params.Set("ajax_page_state[libraries]", state[stateLibraries])
	return &ingest.Step{
		Page: page,
		Request: ingest.Request{
			URL:    a.endpoint,
			Params: params,
			Headers: http.Header{
				"X-Requested-With": {"XMLHttpRequest"},
				"Accept":           {"application/json, text/javascript, */*; q=0.01"},
				"Referer":          {a.def.ListingURL()},
			},
			ReadTimeout: a.def.ReadTimeout(),
		},
		State: state,
	}
}

// Extract implements ingest.Adapter.
func (a *AJAXFragment) Extract(_ context.Context, loc ingest.Locator, doc *ingest.Response) (ingest.Extraction, error) {
	if !usable(doc) {
		return a.partial(loc, doc), nil
	}
	ex, err := a.fromPage(loc, doc)
	if err != nil {
		return ingest.Extraction{}, ingest.SkipError(loc.Identity(), err)
	}
	return ex, nil
}

// discoverViewState reads the view token and page state from the landing page.
func discoverViewState(doc *canonical.Document, body []byte) map[string]string {
	state := map[string]string{}
	if id, ok := doc.DOM.Find("[data-view-dom-id]").First().Attr("data-view-dom-id"); ok {
		state[stateViewDOMID] = strings.TrimSpace(id)
	} else if m := viewDOMIDPattern.FindSubmatch(body); m != nil {
		state[stateViewDOMID] = string(m[1])
	}

	raw := doc.DOM.Find(`script[data-drupal-selector="drupal-settings-json"]`).First().Text()
	if raw == "" {
		return state
	}
	var settings struct {
		AjaxPageState struct {
			Theme     string `json:"theme"`
			Libraries string `json:"libraries"`
		} `json:"ajaxPageState"`
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return state
	}
	state[stateTheme] = settings.AjaxPageState.Theme
	state[stateLibraries] = settings.AjaxPageState.Libraries
	return state
}

// fragmentHTML concatenates the "data" strings of a command list.
func fragmentHTML(body []byte) (string, error) {
	var commands []map[string]json.RawMessage
	if err := json.Unmarshal(body, &commands); err != nil {
		return "", err
	}
	var parts []string
	for _, cmd := range commands {
		raw, ok := cmd["data"]
		if !ok {
			continue
		}
		var data string
		if err := json.Unmarshal(raw, &data); err != nil {
			continue
		}
		if strings.TrimSpace(data) != "" {
			parts = append(parts, data)
		}
	}
	return strings.Join(parts, "\n"), nil
}
