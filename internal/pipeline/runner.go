package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/canonical"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/crawl"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/enrich"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/fetcher/headless"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/metrics"
)

const (
	defaultExtractWorkers = 6
	defaultFilterBatch    = 500
	defaultArchivePrefix  = "raw"
	// DefaultTopic is where commit events go when none is configured.
	DefaultTopic = "items.committed"
)

// Sources resolves configured source definitions and their adapters.
type Sources interface {
	Names() []string
	Definition(name string) (ingest.SourceDefinition, bool)
	Adapter(name string) (ingest.Adapter, error)
}

// Config tunes the runner.
type Config struct {
	Limits            Limits
	PageDelay         time.Duration
	ExtractWorkers    int
	RunDeadline       time.Duration
	SourceParallelism int
	SummaryChars      int
	FilterBatch       int
	ArchivePrefix     string
	Topic             string
}

// Deps are the runner's collaborators. Renderer, Detector, Enricher, Archive
// and Publisher are optional.
type Deps struct {
	Sources   Sources
	Store     ingest.Store
	Fetcher   ingest.Fetcher
	Renderer  ingest.Fetcher
	Detector  headless.Detector
	Enricher  *enrich.Dispatcher
	Archive   ingest.BlobStore
	Publisher ingest.Publisher
	Hasher    ingest.Hasher
	Clock     ingest.Clock
	Logger    *zap.Logger
}

// Runner executes ingestion runs.
type Runner struct {
	cfg  Config
	deps Deps

	tracer trace.Tracer
	logger *zap.Logger
}

// New validates deps and applies config defaults.
func New(cfg Config, deps Deps) (*Runner, error) {
	switch {
	case deps.Sources == nil:
		return nil, errors.New("pipeline: sources are required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	case deps.Archive != nil && deps.Hasher == nil:
		return nil, errors.New("pipeline: archive requires a hasher")
	}
	if cfg.ExtractWorkers <= 0 {
		cfg.ExtractWorkers = defaultExtractWorkers
	}
	if cfg.SourceParallelism <= 0 {
		cfg.SourceParallelism = 1
	}
	if cfg.SummaryChars <= 0 {
		cfg.SummaryChars = canonical.DefaultSummaryChars
	}
	if cfg.FilterBatch <= 0 {
		cfg.FilterBatch = defaultFilterBatch
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = defaultArchivePrefix
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		tracer: otel.Tracer("policywatch/pipeline"),
		logger: deps.Logger.Named("pipeline"),
	}, nil
}

// tally collects per-locator outcomes from the extraction workers.
type tally struct {
	committed atomic.Int64
	failed    atomic.Int64
	enriched  atomic.Int64
}

// Run ingests one source. Errors are returned only for failures that prevent
// the run from starting (unknown source, configuration, store unavailable);
// per-locator failures are counted in the summary instead.
func (r *Runner) Run(ctx context.Context, req ingest.RunRequest) (ingest.RunSummary, error) {
	summary := ingest.RunSummary{Source: req.Source}
	def, ok := r.deps.Sources.Definition(req.Source)
	if !ok {
		return summary, fmt.Errorf("%w: %s", ingest.ErrUnknownSource, req.Source)
	}
	adapter, err := r.deps.Sources.Adapter(req.Source)
	if err != nil {
		return summary, fmt.Errorf("build adapter: %w", err)
	}

	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("source", def.Name),
		attribute.String("run_id", req.RunID),
	))
	defer span.End()

	logger := r.logger.With(zap.String("source", def.Name), zap.String("run_id", req.RunID))
	started := time.Now()

	source, err := r.deps.Store.EnsureSource(ctx, def.Source())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return summary, fmt.Errorf("ensure source: %w", err)
	}
	existing, err := r.deps.Store.CountItems(ctx, source.ID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return summary, fmt.Errorf("count items: %w", err)
	}
	plan := NewPlan(existing, def, req.Params, r.cfg.Limits)
	summary.Mode = string(plan.Mode)
	span.SetAttributes(attribute.String("mode", summary.Mode), attribute.Int("max_pages", plan.MaxPages))
	logger.Info("run started",
		zap.String("mode", summary.Mode),
		zap.Int64("existing", existing),
		zap.Int("max_pages", plan.MaxPages),
	)

	// The run deadline bounds the crawl only. Locators listed before it fires
	// are still filtered and extracted under the caller's context.
	crawlCtx := ctx
	if r.cfg.RunDeadline > 0 {
		var cancel context.CancelFunc
		crawlCtx, cancel = context.WithTimeout(ctx, r.cfg.RunDeadline)
		defer cancel()
	}
	fetcher := r.fetcherFor(def)
	driver := crawl.NewDriver(fetcher, r.cfg.PageDelay, r.deps.Logger)
	result, err := driver.Crawl(crawlCtx, def.Name, adapter, crawl.Options{
		MaxPages: plan.MaxPages,
		Limit:    plan.CrawlLimit,
		StopAtID: def.StopAtID,
		Cutoff:   def.Cutoff(),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return summary, fmt.Errorf("crawl source: %w", err)
	}
	summary.Pages = result.Pages
	summary.StopReason = result.StopReason
	summary.SeenCandidates = len(result.Locators)
	metrics.ObserveCandidates(def.Name, metrics.StageSeen, summary.SeenCandidates)

	candidates := uniqueLocators(def, result.Locators)
	if plan.FilterFirst {
		candidates, err = r.filterNew(ctx, source.ID, def, candidates)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return summary, fmt.Errorf("filter new: %w", err)
		}
		if plan.ItemLimit > 0 && len(candidates) > plan.ItemLimit {
			candidates = candidates[:plan.ItemLimit]
		}
	}
	summary.NewCandidates = len(candidates)
	metrics.ObserveCandidates(def.Name, metrics.StageNew, summary.NewCandidates)

	var counts tally
	r.extractAll(ctx, req.RunID, def, source, adapter, fetcher, candidates, &counts, logger)
	summary.Committed = int(counts.committed.Load())
	summary.Failed = int(counts.failed.Load())
	summary.Enriched = int(counts.enriched.Load())
	metrics.ObserveCandidates(def.Name, metrics.StageCommitted, summary.Committed)
	metrics.ObserveRun(def.Name, summary.Mode, time.Since(started))

	span.SetAttributes(
		attribute.Int("candidates.seen", summary.SeenCandidates),
		attribute.Int("candidates.new", summary.NewCandidates),
		attribute.Int("committed", summary.Committed),
	)
	logger.Info("run finished",
		zap.String("mode", summary.Mode),
		zap.Int("pages", summary.Pages),
		zap.String("stop_reason", summary.StopReason),
		zap.Int("seen", summary.SeenCandidates),
		zap.Int("new", summary.NewCandidates),
		zap.Int("committed", summary.Committed),
		zap.Int("failed", summary.Failed),
		zap.Int("enriched", summary.Enriched),
		zap.Duration("elapsed", time.Since(started)),
	)
	return summary, nil
}

// SourceResult pairs a source's summary with the error that stopped it, if any.
type SourceResult struct {
	Summary ingest.RunSummary
	Err     error
}

// RunAll ingests names concurrently, bounded by SourceParallelism. A failing
// source never stops its siblings. An empty names list runs every source.
func (r *Runner) RunAll(ctx context.Context, runID string, names []string, params ingest.RunParams) []SourceResult {
	if len(names) == 0 {
		names = r.deps.Sources.Names()
	}
	results := make([]SourceResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.SourceParallelism)
	for i, name := range names {
		g.Go(func() error {
			summary, err := r.Run(gctx, ingest.RunRequest{RunID: runID, Source: name, Params: params})
			if err != nil {
				r.logger.Error("source run failed", zap.String("source", name), zap.Error(err))
			}
			results[i] = SourceResult{Summary: summary, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// fetcherFor picks the transport a source's pages need.
func (r *Runner) fetcherFor(def ingest.SourceDefinition) ingest.Fetcher {
	switch {
	case def.Render && r.deps.Renderer != nil:
		return r.deps.Renderer
	case def.RenderFallback && r.deps.Renderer != nil && r.deps.Detector != nil:
		return headless.NewPromoting(r.deps.Fetcher, r.deps.Renderer, r.deps.Detector, r.deps.Logger)
	default:
		return r.deps.Fetcher
	}
}

// uniqueLocators keeps the first locator per store key, so no identity is
// extracted or committed twice within a run.
func uniqueLocators(def ingest.SourceDefinition, locs []ingest.Locator) []ingest.Locator {
	seen := make(map[string]struct{}, len(locs))
	out := make([]ingest.Locator, 0, len(locs))
	for _, loc := range locs {
		key := def.ExternalID(loc)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, loc)
	}
	return out
}

// filterNew drops locators whose identity is already stored, querying in batches.
func (r *Runner) filterNew(ctx context.Context, sourceID int64, def ingest.SourceDefinition, locs []ingest.Locator) ([]ingest.Locator, error) {
	fresh := make(map[string]struct{}, len(locs))
	for start := 0; start < len(locs); start += r.cfg.FilterBatch {
		end := min(start+r.cfg.FilterBatch, len(locs))
		ids := make([]string, 0, end-start)
		for _, loc := range locs[start:end] {
			ids = append(ids, def.ExternalID(loc))
		}
		unseen, err := r.deps.Store.FilterNew(ctx, sourceID, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range unseen {
			fresh[id] = struct{}{}
		}
	}
	out := make([]ingest.Locator, 0, len(fresh))
	for _, loc := range locs {
		if _, ok := fresh[def.ExternalID(loc)]; ok {
			out = append(out, loc)
		}
	}
	return out, nil
}
