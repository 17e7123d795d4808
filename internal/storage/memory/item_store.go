package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// ItemStore implements ingest.Store in memory with the same merge policy as
// the Postgres upsert.
type ItemStore struct {
	mu      sync.RWMutex
	nextID  int64
	sources map[string]ingest.Source
	items   map[string]ingest.Record
	now     func() time.Time
}

// NewItemStore builds an empty store. A nil clock uses wall time.
func NewItemStore(clock ingest.Clock) *ItemStore {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = func() time.Time { return clock.Now().UTC() }
	}
	return &ItemStore{
		sources: make(map[string]ingest.Source),
		items:   make(map[string]ingest.Record),
		now:     now,
	}
}

// EnsureSource returns the stored source, creating it on first use.
func (s *ItemStore) EnsureSource(_ context.Context, source ingest.Source) (ingest.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sources[source.Name]; ok {
		return existing, nil
	}
	s.nextID++
	source.ID = s.nextID
	s.sources[source.Name] = source
	return source, nil
}

// CountItems counts stored records for a source.
func (s *ItemStore) CountItems(_ context.Context, sourceID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, rec := range s.items {
		if rec.SourceID == sourceID {
			n++
		}
	}
	return n, nil
}

// FilterNew returns identities absent for the source, deduplicated, in input order.
func (s *ItemStore) FilterNew(_ context.Context, sourceID int64, externalIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(externalIDs))
	var fresh []string
	for _, id := range externalIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if rec, ok := s.items[id]; ok && rec.SourceID == sourceID {
			continue
		}
		fresh = append(fresh, id)
	}
	return fresh, nil
}

// Upsert inserts or merges one record keyed on external_id.
func (s *ItemStore) Upsert(_ context.Context, record ingest.Record) (ingest.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	record.FetchedAt = now
	existing, ok := s.items[record.ExternalID]
	if !ok {
		s.items[record.ExternalID] = record
		return ingest.UpsertResult{Inserted: true}, nil
	}
	record.SourceID = existing.SourceID
	record.PublishedAt = ingest.MergePublishedAt(existing.PublishedAt, record.PublishedAt, now)
	s.items[record.ExternalID] = record
	return ingest.UpsertResult{Inserted: false}, nil
}

// Item returns a stored record by external id.
func (s *ItemStore) Item(externalID string) (ingest.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[externalID]
	return rec, ok
}

// Items returns a source's records ordered by external id.
func (s *ItemStore) Items(sourceID int64) []ingest.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.Record
	for _, rec := range s.items {
		if rec.SourceID == sourceID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}
