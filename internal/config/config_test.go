package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  workers: 3
auth:
  enabled: true
  api_key: secret
fetcher:
  max_attempts: 4
  backoff_base_ms: 100
  backoff_cap_ms: 500
  read_timeout_seconds: 90
crawl:
  page_delay_ms: 250
  extract_workers: 8
  run_deadline_seconds: 60
logging:
  development: false
sources:
  - name: wa-proclamations
    kind: pdf_listing
    base_url: https://governor.wa.gov
    list_url: https://governor.wa.gov/office-governor/office/official-actions/proclamations
    jurisdiction: WA
    agency: Office of the Governor
    default_status: proclamation
    stop_at_id: "24-01"
    read_timeout_seconds: 120
    selectors:
      link_pattern: '/sites/default/files/proclamations/.+\.pdf$'
      id_pattern: '(\d{2}-\d{2})'
    pagination:
      page_param: page
  - name: federal-register
    kind: json_api
    base_url: https://www.federalregister.gov/api/v1/documents.json
    api:
      id_field: document_number
      per_page: 100
      status_map:
        Rule: final
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.Workers != 3 {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Fetcher.MaxAttempts != 4 || cfg.Fetcher.ReadTimeoutSecs != 90 {
		t.Fatalf("expected fetcher overrides to apply: %+v", cfg.Fetcher)
	}
	if cfg.Fetcher.ConnectTimeoutSecs != 15 {
		t.Fatalf("expected default connect timeout, got %d", cfg.Fetcher.ConnectTimeoutSecs)
	}
	if got := cfg.PageDelay(); got != 250*time.Millisecond {
		t.Fatalf("expected page delay 250ms, got %v", got)
	}
	if got := cfg.RunDeadline(); got != time.Minute {
		t.Fatalf("expected run deadline 1m, got %v", got)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	src, ok := cfg.Source("wa-proclamations")
	if !ok {
		t.Fatal("expected wa-proclamations to be configured")
	}
	if src.Kind != ingest.KindPDFListing || src.StopAtID != "24-01" || src.ReadTimeout() != 2*time.Minute {
		t.Fatalf("unexpected source definition: %+v", src)
	}
	if src.Pagination.PageParam != "page" || src.Selectors.IDPattern == "" {
		t.Fatalf("expected nested source sections to load: %+v", src)
	}
	fr, _ := cfg.Source("federal-register")
	if fr.API.IDField != "document_number" || fr.API.PerPage != 100 {
		t.Fatalf("expected api mapping to load: %+v", fr.API)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawl.SafetyMaxPages != 500 {
		t.Fatalf("expected safety cap 500, got %d", cfg.Crawl.SafetyMaxPages)
	}
	if cfg.Enrichment.TimeoutSeconds != 12 || cfg.Enrichment.DailyBudget <= 0 {
		t.Fatalf("unexpected enrichment defaults: %+v", cfg.Enrichment)
	}
	if cfg.Fetcher.BackoffBaseMs != 1500 || cfg.Fetcher.BackoffCapMs != 6000 {
		t.Fatalf("unexpected backoff defaults: %+v", cfg.Fetcher)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080, Workers: 1},
		Fetcher: FetcherConfig{MaxAttempts: 3, ReadTimeoutSecs: 45, BackoffBaseMs: 10, BackoffCapMs: 20},
		Crawl:   CrawlConfig{SafetyMaxPages: 500, ExtractWorkers: 4},
	}
	validSource := ingest.SourceDefinition{
		Name:    "wa-news",
		Kind:    ingest.KindAJAXFragment,
		BaseURL: "https://governor.wa.gov",
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid attempts",
			cfg: func() Config {
				c := base
				c.Fetcher.MaxAttempts = 0
				return c
			}(),
			want: "fetcher.max_attempts",
		},
		{
			name: "backoff cap below base",
			cfg: func() Config {
				c := base
				c.Fetcher.BackoffCapMs = 1
				return c
			}(),
			want: "fetcher.backoff_cap_ms",
		},
		{
			name: "auth without key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "gemini without key",
			cfg: func() Config {
				c := base
				c.Enrichment.Provider = "gemini"
				return c
			}(),
			want: "enrichment.api_key",
		},
		{
			name: "gcs archive without bucket",
			cfg: func() Config {
				c := base
				c.Archive.Provider = "gcs"
				return c
			}(),
			want: "archive.gcs_bucket",
		},
		{
			name: "unknown source kind",
			cfg: func() Config {
				c := base
				src := validSource
				src.Kind = "carrier_pigeon"
				c.Sources = []ingest.SourceDefinition{src}
				return c
			}(),
			want: "oneof",
		},
		{
			name: "bad min date",
			cfg: func() Config {
				c := base
				src := validSource
				src.MinDate = "01/02/2025"
				c.Sources = []ingest.SourceDefinition{src}
				return c
			}(),
			want: "datetime",
		},
		{
			name: "duplicate source",
			cfg: func() Config {
				c := base
				c.Sources = []ingest.SourceDefinition{validSource, validSource}
				return c
			}(),
			want: "duplicate source name",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to be valid, got %v", err)
	}
}
