package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/canonical"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/extract/pdftext"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/metrics"
)

// maxNestedDepth bounds chains such as listing row → detail page → PDF.
const maxNestedDepth = 2

var errNoRecord = errors.New("adapter returned neither a record nor a nested request")

// extracted is an adapter result plus the binary to archive, if any.
type extracted struct {
	ingest.Extraction
	document []byte
}

// extractAll fans candidates out to a bounded worker pool. Candidates not yet
// started when ctx is canceled are left for the next run.
func (r *Runner) extractAll(
	ctx context.Context,
	runID string,
	def ingest.SourceDefinition,
	source ingest.Source,
	adapter ingest.Adapter,
	fetcher ingest.Fetcher,
	candidates []ingest.Locator,
	counts *tally,
	logger *zap.Logger,
) {
	var g errgroup.Group
	g.SetLimit(r.cfg.ExtractWorkers)
	for i, loc := range candidates {
		if ctx.Err() != nil {
			logger.Warn("run canceled before extraction finished", zap.Int("remaining", len(candidates)-i))
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r.process(ctx, runID, def, source, adapter, fetcher, loc, counts, logger)
			return nil
		})
	}
	_ = g.Wait()
}

// process extracts, commits, enriches and announces one locator.
func (r *Runner) process(
	ctx context.Context,
	runID string,
	def ingest.SourceDefinition,
	source ingest.Source,
	adapter ingest.Adapter,
	fetcher ingest.Fetcher,
	loc ingest.Locator,
	counts *tally,
	logger *zap.Logger,
) {
	logger = logger.With(zap.String("locator", loc.Identity()))
	out, err := r.extract(ctx, adapter, fetcher, loc)
	if err != nil {
		counts.failed.Add(1)
		metrics.ObserveExtractFailure(def.Name)
		logger.Warn("locator skipped", zap.Error(err))
		return
	}

	rec := *out.Record
	rec.SourceID = source.ID
	if rec.ExternalID == "" {
		rec.ExternalID = def.ExternalID(loc)
	}
	if rec.Raw == nil {
		rec.Raw = map[string]any{}
	}
	// Commits run to completion even when the run is canceled mid-flight.
	commitCtx := context.WithoutCancel(ctx)
	if len(out.document) > 0 {
		r.archive(commitCtx, def, out.document, &rec, logger)
	}
	canonical.SanitizeRecord(&rec, r.cfg.SummaryChars)
	if rec.Title == "" {
		rec.Title = canonical.ResolveTitle(nil, "", rec.URL)
	}
	if rec.Title == "" {
		rec.Title = def.Name
	}

	res, err := r.deps.Store.Upsert(commitCtx, rec)
	if err != nil {
		counts.failed.Add(1)
		logger.Error("upsert failed", zap.String("external_id", rec.ExternalID), zap.Error(err))
		return
	}
	counts.committed.Add(1)

	if res.Inserted && r.deps.Enricher.Enabled() {
		if enriched, changed := r.deps.Enricher.Enrich(ctx, rec, out.Body); changed {
			canonical.SanitizeRecord(&enriched, r.cfg.SummaryChars)
			if _, err := r.deps.Store.Upsert(commitCtx, enriched); err != nil {
				logger.Warn("enriched upsert failed", zap.String("external_id", rec.ExternalID), zap.Error(err))
			} else {
				counts.enriched.Add(1)
				rec = enriched
			}
		}
	}
	r.publish(commitCtx, runID, def, rec, res.Inserted, logger)
}

// extract resolves a locator to a record, following nested fetch requests.
func (r *Runner) extract(ctx context.Context, adapter ingest.Adapter, fetcher ingest.Fetcher, loc ingest.Locator) (extracted, error) {
	var doc *ingest.Response
	if !loc.Complete {
		req := ingest.Request{URL: loc.URL}
		if dr, ok := adapter.(ingest.DetailRequester); ok {
			req = dr.DetailRequest(loc)
		}
		resp := fetcher.Fetch(ctx, req)
		doc = &resp
	}
	for depth := 0; ; depth++ {
		ex, err := adapter.Extract(ctx, loc, doc)
		if err != nil {
			return extracted{}, err
		}
		if ex.Nested == nil {
			if ex.Record == nil {
				return extracted{}, ingest.SkipError(loc.Identity(), errNoRecord)
			}
			out := extracted{Extraction: ex}
			if doc != nil && doc.OK() && pdftext.IsPDF(doc.Body) {
				out.document = doc.Body
			}
			return out, nil
		}
		if depth >= maxNestedDepth {
			return extracted{}, ingest.SkipError(loc.Identity(), fmt.Errorf("nested fetch depth %d exceeded", maxNestedDepth))
		}
		if ex.Locator != nil {
			loc = *ex.Locator
		}
		resp := fetcher.Fetch(ctx, *ex.Nested)
		doc = &resp
	}
}

// archive stores a binary document under its content digest and links it from raw.
func (r *Runner) archive(ctx context.Context, def ingest.SourceDefinition, data []byte, rec *ingest.Record, logger *zap.Logger) {
	if r.deps.Archive == nil {
		return
	}
	sum, err := r.deps.Hasher.Hash(data)
	if err != nil {
		logger.Warn("hash document failed", zap.Error(err))
		return
	}
	key := path.Join(r.cfg.ArchivePrefix, def.Name, sum+".pdf")
	uri, err := r.deps.Archive.PutObject(ctx, key, "application/pdf", bytes.NewReader(data))
	if err != nil {
		logger.Warn("archive document failed", zap.String("key", key), zap.Error(err))
		return
	}
	rec.Raw["archive_uri"] = uri
	rec.Raw["content_sha256"] = sum
}
