package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// RunStore keeps run metadata in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]ingest.Run
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]ingest.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run ingest.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRun records a status transition and the latest summary.
func (s *RunStore) UpdateRun(_ context.Context, runID string, status ingest.RunStatus, errText string, summary ingest.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("update run %s: %w", runID, ingest.ErrNotFound)
	}
	run.Status = status
	run.ErrorText = errText
	run.Summary = summary
	now := s.now()
	if status == ingest.RunStatusRunning && run.Started == nil {
		run.Started = &now
	}
	if status == ingest.RunStatusSucceeded || status == ingest.RunStatusFailed {
		run.Finished = &now
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (ingest.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return ingest.Run{}, ingest.ErrNotFound
	}
	return run, nil
}
