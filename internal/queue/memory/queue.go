// Package memory provides the in-process run queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = ingest.ErrQueueClosed

// Queue is a bounded in-memory run queue with context-aware operations.
type Queue struct {
	ch      chan ingest.RunRequest
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue holding up to capacity pending runs.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan ingest.RunRequest, capacity)}
}

// Enqueue pushes a run, blocking while the queue is full until ctx ends.
func (q *Queue) Enqueue(ctx context.Context, req ingest.RunRequest) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next run, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (ingest.RunRequest, error) {
	select {
	case <-ctx.Done():
		return ingest.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return ingest.RunRequest{}, ErrClosed
		}
		return req, nil
	}
}

// Len reports the number of pending runs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting runs. Pending runs can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
