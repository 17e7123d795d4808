package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/queue/memory"
	memstore "github.com/SaptorsheeNag/us-policywatch-sub001/internal/storage/memory"
)

func TestWorkerRecordsSucceededRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := memory.NewQueue(1)
	runs := seededRuns(t, "run-ok")
	exec := &fakeExecutor{summary: ingest.RunSummary{Source: "wa-news", Mode: "backfill", Committed: 3}}
	w := New(queue, runs, exec, zap.NewNop())
	go w.Run(ctx)

	require.NoError(t, queue.Enqueue(ctx, ingest.RunRequest{RunID: "run-ok", Source: "wa-news", Params: ingest.RunParams{MaxPages: 2}}))
	require.Eventually(t, func() bool {
		return runStatus(t, runs, "run-ok") == ingest.RunStatusSucceeded
	}, time.Second, 10*time.Millisecond)

	run, err := runs.GetRun(ctx, "run-ok")
	require.NoError(t, err)
	require.Equal(t, 3, run.Summary.Committed)
	require.NotNil(t, run.Started)
	require.NotNil(t, run.Finished)
	require.Empty(t, run.ErrorText)
	require.Equal(t, 2, exec.lastRequest().Params.MaxPages)
}

func TestWorkerRecordsExecutorFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := memory.NewQueue(1)
	runs := seededRuns(t, "run-bad")
	w := New(queue, runs, &fakeExecutor{err: errors.New("ensure source: connection refused")}, zap.NewNop())
	go w.Run(ctx)

	require.NoError(t, queue.Enqueue(ctx, ingest.RunRequest{RunID: "run-bad", Source: "wa-news"}))
	require.Eventually(t, func() bool {
		return runStatus(t, runs, "run-bad") == ingest.RunStatusFailed
	}, time.Second, 10*time.Millisecond)

	run, err := runs.GetRun(ctx, "run-bad")
	require.NoError(t, err)
	require.Equal(t, "ensure source: connection refused", run.ErrorText)
}

func TestWorkerWithoutExecutorFailsRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := memory.NewQueue(1)
	runs := seededRuns(t, "run-orphan")
	w := New(queue, runs, nil, nil)
	go w.Run(ctx)

	require.NoError(t, queue.Enqueue(ctx, ingest.RunRequest{RunID: "run-orphan", Source: "wa-news"}))
	require.Eventually(t, func() bool {
		return runStatus(t, runs, "run-orphan") == ingest.RunStatusFailed
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(1)
	w := New(queue, memstore.NewRunStore(), &fakeExecutor{}, zap.NewNop())
	queue.Close()

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestFinalStatus(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		summary ingest.RunSummary
		err     error
		want    ingest.RunStatus
		errText string
	}{
		{name: "clean", ctx: context.Background(), summary: ingest.RunSummary{Committed: 1}, want: ingest.RunStatusSucceeded},
		{name: "nothing new is still success", ctx: context.Background(), want: ingest.RunStatusSucceeded},
		{name: "partial failures", ctx: context.Background(), summary: ingest.RunSummary{Committed: 2, Failed: 1}, want: ingest.RunStatusSucceeded},
		{name: "every candidate failed", ctx: context.Background(), summary: ingest.RunSummary{Failed: 4}, want: ingest.RunStatusFailed, errText: "all 4 candidates failed extraction"},
		{name: "executor error", ctx: context.Background(), err: errors.New("boom"), want: ingest.RunStatusFailed, errText: "boom"},
		{name: "canceled before commit", ctx: canceled, want: ingest.RunStatusFailed, errText: "run canceled: context canceled"},
		{name: "canceled after commit", ctx: canceled, summary: ingest.RunSummary{Committed: 5}, want: ingest.RunStatusSucceeded},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, errText := finalStatus(tt.ctx, tt.summary, tt.err)
			require.Equal(t, tt.want, status)
			require.Equal(t, tt.errText, errText)
		})
	}
}

func seededRuns(t *testing.T, ids ...string) *memstore.RunStore {
	t.Helper()
	runs := memstore.NewRunStore()
	for _, id := range ids {
		require.NoError(t, runs.CreateRun(context.Background(), ingest.Run{
			ID:        id,
			Source:    "wa-news",
			Status:    ingest.RunStatusQueued,
			Submitted: time.Unix(100, 0).UTC(),
		}))
	}
	return runs
}

func runStatus(t *testing.T, runs *memstore.RunStore, id string) ingest.RunStatus {
	t.Helper()
	run, err := runs.GetRun(context.Background(), id)
	require.NoError(t, err)
	return run.Status
}

type fakeExecutor struct {
	mu      sync.Mutex
	summary ingest.RunSummary
	err     error
	last    ingest.RunRequest
}

func (f *fakeExecutor) Run(_ context.Context, req ingest.RunRequest) (ingest.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	return f.summary, f.err
}

func (f *fakeExecutor) lastRequest() ingest.RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
