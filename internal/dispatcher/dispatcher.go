// Package dispatcher fans queued ingestion runs out to a fixed worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/worker"
)

// closer is implemented by queues that can stop accepting runs.
type closer interface {
	Close()
}

// Dispatcher owns the worker pool for one run queue.
type Dispatcher struct {
	queue   ingest.RunQueue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue ingest.RunQueue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until ctx finishes. On shutdown the queue
// is closed and Run waits for in-flight runs to record their final status.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Go(func() { w.Run(ctx) })
	}
	<-ctx.Done()
	if c, ok := d.queue.(closer); ok {
		c.Close()
	}
	wg.Wait()
}

// Enqueue submits a run to the pool.
func (d *Dispatcher) Enqueue(ctx context.Context, req ingest.RunRequest) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
