package enrich

import (
	"context"
	"maps"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/canonical"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/metrics"
)

// Outcomes reported to metrics.
const (
	OutcomeApplied  = "applied"
	OutcomeFailed   = "failed"
	OutcomeBudget   = "budget"
	OutcomeUnneeded = "unneeded"
)

// Impact statuses recorded under raw["ai_impact"].
const (
	ImpactApplied = "applied"
	ImpactSkipped = "skipped"
	ImpactError   = "error"

	// RawImpactKey is where the impact result is stored on a record.
	RawImpactKey = "ai_impact"
)

const (
	defaultTimeout = 12 * time.Second
	bodyExcerpt    = 4000
)

// Config tunes the dispatcher.
type Config struct {
	Timeout      time.Duration
	DailyBudget  int
	SummaryChars int
}

// Dispatcher applies an Enricher to records under a daily call budget.
type Dispatcher struct {
	enricher     ingest.Enricher
	budget       *Budget
	timeout      time.Duration
	summaryChars int
	clock        ingest.Clock
	logger       *zap.Logger
}

// NewDispatcher wraps enricher. A nil enricher yields a dispatcher that never
// changes a record.
func NewDispatcher(enricher ingest.Enricher, cfg Config, clock ingest.Clock, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SummaryChars <= 0 {
		cfg.SummaryChars = canonical.DefaultSummaryChars
	}
	return &Dispatcher{
		enricher:     enricher,
		budget:       NewBudget(cfg.DailyBudget, clock),
		timeout:      cfg.Timeout,
		summaryChars: cfg.SummaryChars,
		clock:        clock,
		logger:       logger.Named("enrich"),
	}
}

// Enabled reports whether a collaborator is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.enricher != nil
}

// Enrich polishes the summary, fills a missing publish date and scores the
// notice's impact into raw["ai_impact"]. The returned bool reports whether
// rec changed; a skipped impact score alone is not a change. body is the
// plain text the record was extracted from and may be empty.
func (d *Dispatcher) Enrich(ctx context.Context, rec ingest.Record, body string) (ingest.Record, bool) {
	if !d.Enabled() {
		return rec, false
	}
	logger := d.logger.With(zap.String("external_id", rec.ExternalID))
	changed := false

	draft := rec.Summary
	if draft == "" {
		draft = canonical.Truncate(body, bodyExcerpt)
	}
	if draft != "" {
		if summary, ok := d.summarize(ctx, rec.Title, draft, logger); ok && summary != rec.Summary {
			rec.Summary = summary
			changed = true
		}
	}

	if rec.PublishedAt == nil && body != "" {
		if ts, ok := d.extractDate(ctx, body, rec.URL, logger); ok {
			rec.PublishedAt = ts
			changed = true
		}
	}

	entry, scored := d.scoreImpact(ctx, rec, logger)
	rec.Raw = maps.Clone(rec.Raw)
	if rec.Raw == nil {
		rec.Raw = map[string]any{}
	}
	rec.Raw[RawImpactKey] = entry
	return rec, changed || scored
}

// scoreImpact returns the raw entry for rec and whether a model result (or a
// neutral error result) was produced.
func (d *Dispatcher) scoreImpact(ctx context.Context, rec ingest.Record, logger *zap.Logger) (map[string]any, bool) {
	if strings.TrimSpace(rec.Summary) == "" {
		return impactEntry(ImpactSkipped, "no summary", nil), false
	}
	if !d.budget.Take() {
		metrics.ObserveEnrichment(OutcomeBudget)
		return impactEntry(ImpactSkipped, "daily budget exhausted", nil), false
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	impact, err := d.enricher.ScoreImpact(callCtx, rec.Title, rec.URL, rec.Summary)
	switch {
	case err != nil:
		metrics.ObserveEnrichment(OutcomeFailed)
		logger.Warn("impact scoring failed", zap.Error(err))
		return impactEntry(ImpactError, "", &ingest.Impact{
			Industries: []ingest.IndustryImpact{},
			Tags:       []string{},
			OverallWhy: "error generating impact",
		}), true
	case impact == nil:
		metrics.ObserveEnrichment(OutcomeUnneeded)
		return impactEntry(ImpactSkipped, "nothing to score", nil), false
	}
	metrics.ObserveEnrichment(OutcomeApplied)
	return impactEntry(ImpactApplied, "", impact), true
}

func impactEntry(status, reason string, impact *ingest.Impact) map[string]any {
	entry := map[string]any{"status": status}
	if reason != "" {
		entry["reason"] = reason
	}
	if impact != nil {
		entry["score"] = impact.Score
		entry["industries"] = impact.Industries
		entry["tags"] = impact.Tags
		entry["overall_why"] = impact.OverallWhy
		if impact.Model != "" {
			entry["model"] = impact.Model
		}
	}
	return entry
}

func (d *Dispatcher) summarize(ctx context.Context, title, draft string, logger *zap.Logger) (string, bool) {
	if !d.budget.Take() {
		metrics.ObserveEnrichment(OutcomeBudget)
		logger.Debug("enrichment budget exhausted")
		return "", false
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.enricher.Summarize(callCtx, title, draft)
	if err != nil {
		metrics.ObserveEnrichment(OutcomeFailed)
		logger.Warn("summarize failed", zap.Error(err))
		return "", false
	}
	out = canonical.Truncate(canonical.CleanText(out), d.summaryChars)
	if strings.TrimSpace(out) == "" {
		metrics.ObserveEnrichment(OutcomeFailed)
		logger.Warn("summarize returned empty output")
		return "", false
	}
	metrics.ObserveEnrichment(OutcomeApplied)
	return out, true
}

func (d *Dispatcher) extractDate(ctx context.Context, body, urlHint string, logger *zap.Logger) (*time.Time, bool) {
	if !d.budget.Take() {
		metrics.ObserveEnrichment(OutcomeBudget)
		return nil, false
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ts, err := d.enricher.ExtractDate(callCtx, body, urlHint)
	switch {
	case err != nil:
		metrics.ObserveEnrichment(OutcomeFailed)
		logger.Warn("date extraction failed", zap.Error(err))
		return nil, false
	case ts == nil:
		metrics.ObserveEnrichment(OutcomeUnneeded)
		return nil, false
	case !ingest.PlausibleDate(*ts, d.clock.Now()):
		metrics.ObserveEnrichment(OutcomeFailed)
		logger.Warn("date extraction returned an implausible date", zap.Time("published_at", *ts))
		return nil, false
	}
	utc := ts.UTC()
	metrics.ObserveEnrichment(OutcomeApplied)
	return &utc, true
}
