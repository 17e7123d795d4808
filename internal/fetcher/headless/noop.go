package headless

import (
	"context"
	"errors"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// ErrDisabled is reported when a source asks for rendering but no browser is configured.
var ErrDisabled = errors.New("headless rendering disabled")

// Noop stands in for the renderer when headless.enabled is false.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always returns the failure sentinel.
func (Noop) Fetch(_ context.Context, request ingest.Request) ingest.Response {
	return renderFailure(request.FullURL(), ErrDisabled)
}
