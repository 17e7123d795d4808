// Package worker executes queued ingestion runs and records their lifecycle.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/logging"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/metrics"
)

// Executor runs one ingestion for a source.
type Executor interface {
	Run(ctx context.Context, req ingest.RunRequest) (ingest.RunSummary, error)
}

// Worker consumes run requests and executes them one at a time.
type Worker struct {
	queue    ingest.RunQueue
	runs     ingest.RunStore
	executor Executor
	logger   *zap.Logger
}

// New constructs a Worker.
func New(queue ingest.RunQueue, runs ingest.RunStore, executor Executor, logger *zap.Logger) *Worker {
	return &Worker{
		queue:    queue,
		runs:     runs,
		executor: executor,
		logger:   logging.OrNop(logger),
	}
}

// Run blocks, consuming run requests until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ingest.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", req.RunID), zap.String("source", req.Source))
		w.process(ctx, req)
	}
}

func (w *Worker) process(ctx context.Context, req ingest.RunRequest) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("run_id", req.RunID), zap.String("source", req.Source))
	if w.executor == nil {
		logger.Error("no executor configured")
		w.finish(ctx, logger, req.RunID, ingest.RunStatusFailed, "no executor configured", ingest.RunSummary{Source: req.Source})
		return
	}
	if err := w.runs.UpdateRun(ctx, req.RunID, ingest.RunStatusRunning, "", ingest.RunSummary{Source: req.Source}); err != nil {
		logger.Error("update run status failed", zap.Error(err))
		return
	}

	summary, err := w.executor.Run(ctx, req)
	status, errText := finalStatus(ctx, summary, err)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
	}
	w.finish(ctx, logger, req.RunID, status, errText, summary)
}

func (w *Worker) finish(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	status ingest.RunStatus,
	errText string,
	summary ingest.RunSummary,
) {
	metrics.ObserveRunStatus(string(status))
	// The terminal status must land even when shutdown canceled the run.
	if err := w.runs.UpdateRun(context.WithoutCancel(ctx), runID, status, errText, summary); err != nil {
		logger.Error("final run status update failed", zap.Error(err))
		return
	}
	logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("committed", summary.Committed),
		zap.Int("failed", summary.Failed),
		zap.String("stop_reason", summary.StopReason),
	)
}

func finalStatus(ctx context.Context, summary ingest.RunSummary, err error) (ingest.RunStatus, string) {
	switch {
	case err != nil:
		return ingest.RunStatusFailed, err.Error()
	case ctx.Err() != nil && summary.Committed == 0:
		return ingest.RunStatusFailed, fmt.Sprintf("run canceled: %v", ctx.Err())
	case summary.Committed == 0 && summary.Failed > 0:
		return ingest.RunStatusFailed, fmt.Sprintf("all %d candidates failed extraction", summary.Failed)
	default:
		return ingest.RunStatusSucceeded, ""
	}
}
