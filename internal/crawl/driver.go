package crawl

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/metrics"
)

// Stop reasons reported in Result.StopReason.
const (
	StopNoNew       = "no_new"
	StopNoAdvance   = "no_advance"
	StopPageCap     = "page_cap"
	StopAtID        = "stop_at_id"
	StopCutoff      = "cutoff"
	StopLimit       = "limit"
	StopFetchFailed = "fetch_failed"
	StopBadStatus   = "bad_status"
	StopParseFailed = "parse_failed"
	StopDeadline    = "deadline"
)

// Options bound one crawl.
type Options struct {
	// MaxPages is the hard page cap; 0 means unbounded.
	MaxPages int
	// Limit stops the crawl once this many locators were emitted; 0 means unbounded.
	Limit int
	// StopAtID ends the crawl after emitting this identity.
	StopAtID string
	// Cutoff drops locators dated before it and stops once a page's newest date is older.
	Cutoff time.Time
}

// Result is the ordered locator stream of one crawl.
type Result struct {
	Locators   []ingest.Locator
	Pages      int
	StopReason string
}

// Driver runs the Start → FetchPage → ExtractLocators → Continue|Stop loop.
type Driver struct {
	fetcher   ingest.Fetcher
	pageDelay time.Duration
	pause     pauseController
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewDriver builds a driver that waits pageDelay between consecutive pages.
func NewDriver(fetcher ingest.Fetcher, pageDelay time.Duration, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		fetcher:   fetcher,
		pageDelay: pageDelay,
		pause:     &timerPauseController{},
		tracer:    otel.Tracer("policywatch/crawl"),
		logger:    logger.Named("crawl"),
	}
}

// Crawl walks the listing for source using adapter. The only error returned is
// a failure to start (typically a configuration error); every later failure
// ends the crawl with a stop reason and keeps what was collected so far.
func (d *Driver) Crawl(ctx context.Context, source string, adapter ingest.Adapter, opts Options) (Result, error) {
	step, err := adapter.Start(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("start crawl: %w", err)
	}
	logger := d.logger.With(zap.String("source", source))
	reauth, _ := adapter.(ingest.Reauthenticator)
	tracker := newVisitTracker()
	var result Result

	for {
		if ctx.Err() != nil {
			result.StopReason = StopDeadline
			break
		}
		if opts.MaxPages > 0 && result.Pages >= opts.MaxPages {
			result.StopReason = StopPageCap
			break
		}
		if result.Pages > 0 {
			d.pause.Pause(ctx, d.pageDelay)
			if ctx.Err() != nil {
				result.StopReason = StopDeadline
				break
			}
		}

		next, reason := d.page(ctx, source, adapter, reauth, step, tracker, opts, &result, logger)
		if reason != "" {
			result.StopReason = reason
			break
		}
		step = *next
	}

	logger.Debug("crawl finished",
		zap.Int("pages", result.Pages),
		zap.Int("locators", len(result.Locators)),
		zap.String("stop_reason", result.StopReason),
	)
	return result, nil
}

// page processes one listing page. It returns the next step, or a stop reason.
func (d *Driver) page(
	ctx context.Context,
	source string,
	adapter ingest.Adapter,
	reauth ingest.Reauthenticator,
	step ingest.Step,
	tracker *visitTracker,
	opts Options,
	result *Result,
	logger *zap.Logger,
) (*ingest.Step, string) {
	ctx, span := d.tracer.Start(ctx, "crawl.page",
		trace.WithAttributes(attribute.String("source", source), attribute.Int("page", step.Page)))
	defer span.End()

	resp := d.fetcher.Fetch(ctx, step.Request)
	if resp.Unauthorized() && reauth != nil {
		if refreshed, ok := reauth.Reauthenticate(ctx, step); ok {
			logger.Info("listing rejected credentials, retrying with fresh token", zap.Int("page", step.Page))
			step = refreshed
			resp = d.fetcher.Fetch(ctx, step.Request)
		}
	}
	if ctx.Err() != nil {
		return nil, StopDeadline
	}
	if resp.Failed() {
		logger.Warn("listing fetch failed",
			zap.Int("page", step.Page),
			zap.String("url", step.Request.FullURL()),
			zap.String("error", resp.Headers.Get("X-Error")),
		)
		return nil, StopFetchFailed
	}
	if !resp.OK() {
		logger.Warn("listing returned non-success status", zap.Int("page", step.Page), zap.Int("status", resp.StatusCode))
		return nil, StopBadStatus
	}

	result.Pages++
	metrics.ObservePage(source)

	listing, err := adapter.ListLocators(ctx, step, resp)
	if err != nil {
		logger.Warn("listing parse failed", zap.Int("page", step.Page), zap.Error(err))
		return nil, StopParseFailed
	}

	var (
		fresh   int
		newest  time.Time
		hasDate bool
	)
	for _, loc := range listing.Locators {
		if loc.PublishedAt != nil && (!hasDate || loc.PublishedAt.After(newest)) {
			newest = *loc.PublishedAt
			hasDate = true
		}
		if !tracker.MarkIfNew(identityKey(loc)) {
			continue
		}
		fresh++
		if !opts.Cutoff.IsZero() && loc.PublishedAt != nil && loc.PublishedAt.Before(opts.Cutoff) {
			continue
		}
		result.Locators = append(result.Locators, loc)
		if opts.StopAtID != "" && loc.Identity() == opts.StopAtID {
			return nil, StopAtID
		}
		if opts.Limit > 0 && len(result.Locators) >= opts.Limit {
			return nil, StopLimit
		}
	}
	span.SetAttributes(attribute.Int("locators.new", fresh))

	switch {
	case fresh == 0:
		return nil, StopNoNew
	case !opts.Cutoff.IsZero() && hasDate && newest.Before(opts.Cutoff):
		return nil, StopCutoff
	case listing.Next == nil:
		return nil, StopNoAdvance
	}
	return listing.Next, ""
}
