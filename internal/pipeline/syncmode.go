package pipeline

import (
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// Mode is the synchronization regime of one run, derived from the stored row count.
type Mode string

const (
	// ModeBackfill crawls until the source's own cutoff and commits everything.
	ModeBackfill Mode = "backfill"
	// ModeCron crawls a bounded lookahead and extracts only unseen identities.
	ModeCron Mode = "cron_safe"
)

// Limits are the deployment-wide crawl bounds.
type Limits struct {
	BackfillMaxPages int
	CronMaxPages     int
	SafetyMaxPages   int
	DefaultMaxItems  int
}

// Plan is what the selector decided for one run.
type Plan struct {
	Mode Mode
	// MaxPages is the crawl's hard page cap.
	MaxPages int
	// CrawlLimit stops the crawl after this many locators (backfill only).
	CrawlLimit int
	// ItemLimit caps how many filtered candidates are extracted (cron only).
	ItemLimit int
	// FilterFirst runs the store membership check before extraction.
	FilterFirst bool
}

// SelectMode returns backfill for a source with no stored rows.
func SelectMode(existing int64) Mode {
	if existing == 0 {
		return ModeBackfill
	}
	return ModeCron
}

// NewPlan resolves the bounds for a run. Request parameters win over the
// source definition, which wins over the deployment defaults; every page cap
// is clamped to the safety cap.
func NewPlan(existing int64, def ingest.SourceDefinition, params ingest.RunParams, limits Limits) Plan {
	mode := SelectMode(existing)
	plan := Plan{Mode: mode}
	switch mode {
	case ModeBackfill:
		plan.MaxPages = firstPositive(params.MaxPages, def.MaxPages, limits.BackfillMaxPages)
		plan.CrawlLimit = params.MaxItems
	default:
		plan.MaxPages = firstPositive(params.MaxPages, limits.CronMaxPages, def.MaxPages)
		plan.ItemLimit = firstPositive(params.MaxItems, limits.DefaultMaxItems)
		plan.FilterFirst = true
	}
	if limits.SafetyMaxPages > 0 && (plan.MaxPages <= 0 || plan.MaxPages > limits.SafetyMaxPages) {
		plan.MaxPages = limits.SafetyMaxPages
	}
	return plan
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
