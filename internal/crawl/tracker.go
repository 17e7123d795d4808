package crawl

import (
	"context"
	"time"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/canonical"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// visitTracker remembers identities emitted during one crawl.
type visitTracker struct {
	seen map[string]struct{}
}

func newVisitTracker() *visitTracker {
	return &visitTracker{seen: make(map[string]struct{})}
}

// MarkIfNew stores key if it has not been seen before and returns true.
func (t *visitTracker) MarkIfNew(key string) bool {
	if key == "" {
		return false
	}
	if _, ok := t.seen[key]; ok {
		return false
	}
	t.seen[key] = struct{}{}
	return true
}

// identityKey is the within-crawl dedup key: explicit ids as-is, URLs normalized.
func identityKey(loc ingest.Locator) string {
	if loc.ID != "" {
		return loc.ID
	}
	if normalized, err := canonical.NormalizeURL(loc.URL, true); err == nil {
		return normalized
	}
	return loc.URL
}

// pauseController abstracts the politeness delay between page fetches.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
