package enrich

import (
	"sync"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/clock/system"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// Budget caps enrichment calls per UTC day. A limit <= 0 is unlimited.
type Budget struct {
	mu    sync.Mutex
	limit int
	clock ingest.Clock
	day   string
	used  int
}

// NewBudget returns a daily budget driven by clock.
func NewBudget(limit int, clock ingest.Clock) *Budget {
	return &Budget{limit: limit, clock: clock}
}

// Take consumes one call and reports whether it was available.
func (b *Budget) Take() bool {
	if b.limit <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	day := system.Day(b.clock.Now())
	if day != b.day {
		b.day = day
		b.used = 0
	}
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Remaining returns the calls left today, or -1 when unlimited.
func (b *Budget) Remaining() int {
	if b.limit <= 0 {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if system.Day(b.clock.Now()) != b.day {
		return b.limit
	}
	return b.limit - b.used
}
