package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan ingest.RunRequest, 1)
	go func() {
		req, err := q.Dequeue(context.Background())
		if err == nil {
			result <- req
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), ingest.RunRequest{RunID: "run-1", Source: "wa-news"}))
	select {
	case got := <-result:
		require.Equal(t, "run-1", got.RunID)
		require.Equal(t, "wa-news", got.Source)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return the run")
	}
}

func TestQueueCancelation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewQueue(1)
	_, err := q.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	require.NoError(t, q.Enqueue(context.Background(), ingest.RunRequest{RunID: "primed"}))
	require.Equal(t, 1, q.Len())
	err = q.Enqueue(ctx, ingest.RunRequest{RunID: "blocked"})
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), ingest.RunRequest{RunID: "pending"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), ingest.RunRequest{RunID: "late"}), ErrClosed)
	req, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "pending", req.RunID)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
