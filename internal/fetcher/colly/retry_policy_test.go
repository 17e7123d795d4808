package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesUntilCap(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 1500*time.Millisecond, 6*time.Second)
	require.Equal(t, 1500*time.Millisecond, p.Backoff(1))
	require.Equal(t, 3*time.Second, p.Backoff(2))
	require.Equal(t, 6*time.Second, p.Backoff(3))
	require.Equal(t, 6*time.Second, p.Backoff(4))
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Millisecond)
	tests := []struct {
		name    string
		err     error
		status  int
		attempt int
		want    bool
	}{
		{name: "server error", status: http.StatusBadGateway, attempt: 1, want: true},
		{name: "throttled", status: http.StatusTooManyRequests, attempt: 2, want: true},
		{name: "not found", status: http.StatusNotFound, attempt: 1, want: false},
		{name: "attempts exhausted", status: http.StatusBadGateway, attempt: 3, want: false},
		{name: "attempt timeout", err: context.DeadlineExceeded, attempt: 1, want: true},
		{name: "truncated body", err: io.ErrUnexpectedEOF, attempt: 1, want: true},
		{name: "caller cancelled", err: context.Canceled, attempt: 1, want: false},
		{name: "plain error", err: errors.New("bad url"), attempt: 1, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, p.ShouldRetry(tt.err, tt.status, tt.attempt))
		})
	}
}

func TestPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(0, 0, 0)
	require.Equal(t, 3, p.MaxAttempts())
	require.Equal(t, 1500*time.Millisecond, p.Backoff(1))
}

func TestErrorClass(t *testing.T) {
	t.Parallel()

	require.Equal(t, "http_status", errorClass(errors.New("retryable status 503"), 503))
	require.Equal(t, "timeout", errorClass(context.DeadlineExceeded, 0))
	require.Equal(t, "canceled", errorClass(context.Canceled, 0))
	require.Equal(t, "protocol", errorClass(io.ErrUnexpectedEOF, 0))
	require.Equal(t, "error", errorClass(errors.New("odd"), 0))
}
