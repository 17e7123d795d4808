package headless

import (
	"context"

	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// Detector decides whether a static response must be rendered.
type Detector interface {
	ShouldPromote(resp ingest.Response) bool
}

// Promoting fetches statically and re-fetches through the renderer only when
// the detector flags the response. A failed render keeps the static response.
type Promoting struct {
	static   ingest.Fetcher
	renderer ingest.Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting wraps static with on-demand rendering.
func NewPromoting(static, renderer ingest.Fetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{static: static, renderer: renderer, detector: detector, logger: logger.Named("promote")}
}

// Fetch implements ingest.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, request ingest.Request) ingest.Response {
	resp := p.static.Fetch(ctx, request)
	if p.renderer == nil || p.detector == nil || !p.detector.ShouldPromote(resp) {
		return resp
	}
	rendered := p.renderer.Fetch(ctx, request)
	if !rendered.OK() {
		p.logger.Warn("headless promotion failed",
			zap.String("url", request.FullURL()),
			zap.Int("status", rendered.StatusCode),
			zap.String("error", rendered.Headers.Get("X-Error")),
		)
		return resp
	}
	p.logger.Debug("headless promotion applied", zap.String("url", request.FullURL()))
	if rendered.Headers != nil {
		rendered.Headers.Set("X-Rendered", "true")
	}
	return rendered
}
