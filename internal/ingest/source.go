package ingest

import "time"

// SourceDefinition configures one logical source and the adapter strategy serving it.
type SourceDefinition struct {
	Name          string `mapstructure:"name" validate:"required"`
	Kind          string `mapstructure:"kind" validate:"required,oneof=html_listing ajax_fragment pdf_listing feed json_api"`
	BaseURL       string `mapstructure:"base_url" validate:"required,url"`
	ListURL       string `mapstructure:"list_url" validate:"omitempty,url"`
	Jurisdiction  string `mapstructure:"jurisdiction"`
	Agency        string `mapstructure:"agency"`
	DefaultStatus string `mapstructure:"default_status"`
	// StopAtID ends the crawl once this identity is emitted (inclusive).
	StopAtID string `mapstructure:"stop_at_id"`
	// MinDate is a YYYY-MM-DD cutoff for date-bounded sources.
	MinDate  string `mapstructure:"min_date" validate:"omitempty,datetime=2006-01-02"`
	MaxPages int    `mapstructure:"max_pages" validate:"gte=0"`
	Render   bool   `mapstructure:"render"`
	// RenderFallback renders only listing pages that come back as script shells.
	RenderFallback     bool `mapstructure:"render_fallback"`
	FetchDetail        bool `mapstructure:"fetch_detail"`
	KeepQuery          bool `mapstructure:"keep_query"`
	NamespaceIDs       bool `mapstructure:"namespace_ids"`
	ReadTimeoutSeconds int  `mapstructure:"read_timeout_seconds" validate:"gte=0"`

	Pagination  PaginationDefinition `mapstructure:"pagination"`
	Selectors   SelectorDefinition   `mapstructure:"selectors"`
	StatusRules []StatusRule         `mapstructure:"status_rules" validate:"dive"`
	AJAX        AJAXDefinition       `mapstructure:"ajax"`
	API         APIDefinition        `mapstructure:"api"`
	Auth        AuthDefinition       `mapstructure:"auth"`
}

// PaginationDefinition selects how the crawl advances between listing pages.
type PaginationDefinition struct {
	// PageParam synthesizes ?<param>=N.
	PageParam string `mapstructure:"page_param"`
	// PathTemplate synthesizes a path such as /page/%d/.
	PathTemplate string `mapstructure:"path_template"`
	// NextSelector follows an explicit next-page link.
	NextSelector string `mapstructure:"next_selector"`
	FirstPage    int    `mapstructure:"first_page" validate:"gte=0"`
}

// Configured reports whether any advance strategy is set.
func (p PaginationDefinition) Configured() bool {
	return p.PageParam != "" || p.PathTemplate != "" || p.NextSelector != ""
}

// SelectorDefinition holds the listing extraction rules.
type SelectorDefinition struct {
	Item        string `mapstructure:"item"`
	Link        string `mapstructure:"link"`
	Title       string `mapstructure:"title"`
	Date        string `mapstructure:"date"`
	LinkPattern string `mapstructure:"link_pattern"`
	// IDPattern derives identity from the link text or URL; group 1 wins when present.
	IDPattern string `mapstructure:"id_pattern"`
	// Context selects detail-page text handed to the classifier.
	Context string `mapstructure:"context"`
	// DocumentLink selects a binary attachment on the detail page to fetch next.
	DocumentLink string `mapstructure:"document_link"`
}

// StatusRule maps a case-insensitive pattern to a status label.
type StatusRule struct {
	Pattern string `mapstructure:"pattern" validate:"required"`
	Status  string `mapstructure:"status" validate:"required"`
}

// AJAXDefinition configures a dynamic-pagination endpoint returning JSON-wrapped HTML.
type AJAXDefinition struct {
	Endpoint string            `mapstructure:"endpoint" validate:"omitempty,url"`
	Params   map[string]string `mapstructure:"params"`
}

// APIDefinition maps JSON API rows onto record fields.
type APIDefinition struct {
	ResultsField    string            `mapstructure:"results_field"`
	IDField         string            `mapstructure:"id_field"`
	TitleField      string            `mapstructure:"title_field"`
	URLField        string            `mapstructure:"url_field"`
	DateField       string            `mapstructure:"date_field"`
	SummaryField    string            `mapstructure:"summary_field"`
	TypeField       string            `mapstructure:"type_field"`
	AgencyField     string            `mapstructure:"agency_field"`
	TotalPagesField string            `mapstructure:"total_pages_field"`
	NextField       string            `mapstructure:"next_field"`
	PerPage         int               `mapstructure:"per_page" validate:"gte=0"`
	StatusMap       map[string]string `mapstructure:"status_map"`
}

// AuthDefinition configures bearer tokens for APIs that require them.
type AuthDefinition struct {
	TokenEnv     string `mapstructure:"token_env"`
	TokenURL     string `mapstructure:"token_url" validate:"omitempty,url"`
	TokenPattern string `mapstructure:"token_pattern"`
	TTLSeconds   int    `mapstructure:"ttl_seconds" validate:"gte=0"`
}

// Enabled reports whether any token source is configured.
func (a AuthDefinition) Enabled() bool {
	return a.TokenEnv != "" || a.TokenURL != ""
}

// ListingURL returns the first listing URL for the source.
func (d SourceDefinition) ListingURL() string {
	if d.ListURL != "" {
		return d.ListURL
	}
	return d.BaseURL
}

// Status returns the configured default status label.
func (d SourceDefinition) Status() string {
	if d.DefaultStatus != "" {
		return d.DefaultStatus
	}
	return DefaultStatus
}

// Cutoff parses MinDate. The zero time means no cutoff.
func (d SourceDefinition) Cutoff() time.Time {
	if d.MinDate == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.DateOnly, d.MinDate)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// ReadTimeout returns the per-source read window override.
func (d SourceDefinition) ReadTimeout() time.Duration {
	return time.Duration(d.ReadTimeoutSeconds) * time.Second
}

// ExternalID returns the store key for loc, namespaced by source when the
// source's identities are not globally unique.
func (d SourceDefinition) ExternalID(loc Locator) string {
	id := loc.Identity()
	if d.NamespaceIDs {
		return Namespaced(d.Name, id)
	}
	return id
}

// Source converts the definition into a store entity.
func (d SourceDefinition) Source() Source {
	return Source{Name: d.Name, Kind: d.Kind, BaseURL: d.BaseURL}
}
