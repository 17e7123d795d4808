// Package ingest defines the core types shared across the ingestion pipeline.
package ingest

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusFetchFailed is the status carried by the fetcher's failure sentinel.
const StatusFetchFailed = 599

// DefaultStatus is applied when no classifier rule matches.
const DefaultStatus = "notice"

// Source kinds understood by the adapter registry.
const (
	KindHTMLListing  = "html_listing"
	KindAJAXFragment = "ajax_fragment"
	KindPDFListing   = "pdf_listing"
	KindFeed         = "feed"
	KindJSONAPI      = "json_api"
)

// Source is a logical feed that records are attributed to.
type Source struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	BaseURL string `json:"base_url"`
}

// Locator references one not-yet-extracted unit of content.
// Title, PublishedAt and Summary are hints found on the listing page.
type Locator struct {
	URL         string
	ID          string
	Title       string
	PublishedAt *time.Time
	Summary     string
	Status      string
	Agency      string
	Raw         map[string]any
	// Complete marks rows that carry everything needed for a record.
	Complete bool
}

// Identity returns the locator's natural key.
func (l Locator) Identity() string {
	if l.ID != "" {
		return l.ID
	}
	return l.URL
}

// Record is the canonical unit persisted by the store.
type Record struct {
	ExternalID   string         `json:"external_id"`
	SourceID     int64          `json:"source_id"`
	Title        string         `json:"title"`
	Summary      string         `json:"summary"`
	URL          string         `json:"url"`
	Jurisdiction string         `json:"jurisdiction"`
	Agency       string         `json:"agency"`
	Status       string         `json:"status"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
	FetchedAt    time.Time      `json:"fetched_at"`
	Raw          map[string]any `json:"raw,omitempty"`
}

// UpsertResult reports what the store did with a record.
type UpsertResult struct {
	Inserted bool
}

// Request describes one HTTP GET issued through a Fetcher.
type Request struct {
	URL     string
	Params  url.Values
	Headers http.Header
	// ReadTimeout overrides the fetcher's read window when > 0.
	ReadTimeout time.Duration
}

// FullURL merges Params into URL.
func (r Request) FullURL() string {
	if len(r.Params) == 0 {
		return r.URL
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	q := u.Query()
	for key, values := range r.Params {
		q.Del(key)
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Response is the result of a fetch. Failed responses carry StatusFetchFailed.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Failed reports whether the response is the exhausted-retries sentinel.
func (r Response) Failed() bool {
	return r.StatusCode == StatusFetchFailed
}

// Unauthorized reports a 401 or 403 status.
func (r Response) Unauthorized() bool {
	return r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden
}

// ContentType returns the lowercased media type header.
func (r Response) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return strings.ToLower(r.Headers.Get("Content-Type"))
}

// Step is one position in a paginated listing walk.
type Step struct {
	Page    int
	Request Request
	// State carries adapter continuation data such as AJAX view tokens.
	State map[string]string
}

// Listing is what an adapter found on one listing page.
type Listing struct {
	Locators []Locator
	// Next is nil when no pagination advance is available.
	Next *Step
}

// Extraction is either a finished record or a request for another document.
type Extraction struct {
	Record *Record
	Nested *Request
	// Locator optionally refines the locator handed back with the nested document.
	Locator *Locator
	// Body is the plain text the record was extracted from.
	Body string
}

// RunParams bounds one ingestion run.
type RunParams struct {
	MaxPages int `json:"max_pages"`
	MaxItems int `json:"max_items"`
}

// RunSummary is the per-source result reported to callers.
type RunSummary struct {
	Source         string `json:"source"`
	Mode           string `json:"mode"`
	Pages          int    `json:"pages"`
	StopReason     string `json:"stop_reason"`
	SeenCandidates int    `json:"seen_candidates"`
	NewCandidates  int    `json:"new_candidates"`
	Committed      int    `json:"committed"`
	Failed         int    `json:"failed"`
	Enriched       int    `json:"enriched"`
}

// RunStatus represents the lifecycle state of a queued run.
type RunStatus string

// Run status values recorded by the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the metadata kept for each triggered ingestion.
type Run struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	Status    RunStatus  `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Params    RunParams  `json:"params"`
	Summary   RunSummary `json:"summary"`
}

// RunRequest wraps a run ready to execute.
type RunRequest struct {
	RunID     string
	Source    string
	Params    RunParams
	Submitted int64
}

// Impact is a model's estimate of which industries a notice affects.
// Score is in [-1, 1]; negative means a likely negative economic impact.
type Impact struct {
	Score      float64          `json:"score"`
	Industries []IndustryImpact `json:"industries"`
	Tags       []string         `json:"tags"`
	OverallWhy string           `json:"overall_why"`
	Model      string           `json:"model,omitempty"`
}

// IndustryImpact is one affected industry. Magnitude and Confidence are in [0, 1].
type IndustryImpact struct {
	Name       string  `json:"name"`
	Direction  string  `json:"direction"`
	Magnitude  float64 `json:"magnitude"`
	Confidence float64 `json:"confidence"`
	Why        string  `json:"why"`
}
