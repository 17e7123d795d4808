package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// RunStore persists ingestion run metadata in ingest_runs.
type RunStore struct {
	pool Pool
}

// NewRunStore wraps an open pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// CreateRun inserts a queued run.
func (s *RunStore) CreateRun(ctx context.Context, run ingest.Run) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO ingest_runs (id, source, status, submitted_at, params)
VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Source, string(run.Status), run.Submitted, params)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun records a status transition. started_at is set once; finished_at
// is set on terminal states.
func (s *RunStore) UpdateRun(ctx context.Context, runID string, status ingest.RunStatus, errText string, summary ingest.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE ingest_runs SET
    status      = $2,
    error_text  = $3,
    summary     = $4,
    started_at  = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
    finished_at = CASE WHEN $2 IN ('succeeded', 'failed') THEN now() ELSE finished_at END
WHERE id = $1`,
		runID, string(status), errText, summaryJSON)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", runID, ingest.ErrNotFound)
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID string) (ingest.Run, error) {
	var (
		run     ingest.Run
		status  string
		params  []byte
		summary []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, source, status, submitted_at, started_at, finished_at, error_text, params, summary
FROM ingest_runs WHERE id = $1`, runID).Scan(
		&run.ID,
		&run.Source,
		&status,
		&run.Submitted,
		&run.Started,
		&run.Finished,
		&run.ErrorText,
		&params,
		&summary,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.Run{}, ingest.ErrNotFound
		}
		return ingest.Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Status = ingest.RunStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &run.Params); err != nil {
			return ingest.Run{}, fmt.Errorf("decode params: %w", err)
		}
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return ingest.Run{}, fmt.Errorf("decode summary: %w", err)
		}
	}
	return run, nil
}
