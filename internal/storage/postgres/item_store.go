package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

const upsertSource = `
INSERT INTO sources (name, kind, base_url)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name, kind, base_url`

const countItems = `SELECT count(*) FROM items WHERE source_id = $1`

const selectExisting = `SELECT external_id FROM items WHERE source_id = $1 AND external_id = ANY($2)`

// upsertItem overwrites descriptive fields, bumps fetched_at, and merges
// published_at: a null incoming value keeps the stored one, and an implausible
// incoming value never replaces a plausible stored one.
const upsertItem = `
INSERT INTO items (external_id, source_id, title, summary, url, jurisdiction, agency, status, published_at, fetched_at, raw)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), $10)
ON CONFLICT (external_id) DO UPDATE SET
    title        = EXCLUDED.title,
    summary      = EXCLUDED.summary,
    url          = EXCLUDED.url,
    jurisdiction = EXCLUDED.jurisdiction,
    agency       = EXCLUDED.agency,
    status       = EXCLUDED.status,
    published_at = CASE
        WHEN EXCLUDED.published_at IS NULL THEN items.published_at
        WHEN EXCLUDED.published_at > now() + interval '2 days'
             AND items.published_at IS NOT NULL
             AND items.published_at <= now() + interval '2 days' THEN items.published_at
        ELSE EXCLUDED.published_at
    END,
    fetched_at   = now(),
    raw          = EXCLUDED.raw
RETURNING (xmax = 0) AS inserted`

// ItemStore implements ingest.Store on Postgres. Every call is a single statement.
type ItemStore struct {
	pool Pool
}

// NewItemStore wraps an open pool.
func NewItemStore(pool Pool) (*ItemStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ItemStore{pool: pool}, nil
}

// Close releases the pool.
func (s *ItemStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSource creates the source row on first use and returns it with its id.
func (s *ItemStore) EnsureSource(ctx context.Context, source ingest.Source) (ingest.Source, error) {
	var out ingest.Source
	err := s.pool.QueryRow(ctx, upsertSource, source.Name, source.Kind, source.BaseURL).
		Scan(&out.ID, &out.Name, &out.Kind, &out.BaseURL)
	if err != nil {
		return ingest.Source{}, fmt.Errorf("ensure source %s: %w", source.Name, err)
	}
	return out, nil
}

// CountItems returns the number of stored records for a source.
func (s *ItemStore) CountItems(ctx context.Context, sourceID int64) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, countItems, sourceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// FilterNew returns the identities not yet stored for the source, in input
// order and without duplicates, using one set-membership query.
func (s *ItemStore) FilterNew(ctx context.Context, sourceID int64, externalIDs []string) ([]string, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, selectExisting, sourceID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("filter new items: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{}, len(externalIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan external id: %w", err)
		}
		existing[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("filter new items: %w", err)
	}

	fresh := make([]string, 0, len(externalIDs))
	for _, id := range externalIDs {
		if _, ok := existing[id]; ok {
			continue
		}
		existing[id] = struct{}{}
		fresh = append(fresh, id)
	}
	return fresh, nil
}

// Upsert inserts or merges one record keyed on external_id.
func (s *ItemStore) Upsert(ctx context.Context, record ingest.Record) (ingest.UpsertResult, error) {
	raw := record.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return ingest.UpsertResult{}, fmt.Errorf("marshal raw: %w", err)
	}
	var inserted bool
	err = s.pool.QueryRow(ctx, upsertItem,
		record.ExternalID,
		record.SourceID,
		record.Title,
		record.Summary,
		record.URL,
		record.Jurisdiction,
		record.Agency,
		record.Status,
		record.PublishedAt,
		rawJSON,
	).Scan(&inserted)
	if err != nil {
		return ingest.UpsertResult{}, fmt.Errorf("upsert item %s: %w", record.ExternalID, err)
	}
	return ingest.UpsertResult{Inserted: inserted}, nil
}
