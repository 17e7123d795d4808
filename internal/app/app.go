// Package app builds the long-lived services from configuration, acting as the
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/adapter"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/api"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/clock/system"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/config"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/dispatcher"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/enrich"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/extract/pdftext"
	collyfetcher "github.com/SaptorsheeNag/us-policywatch-sub001/internal/fetcher/colly"
	headlessfetcher "github.com/SaptorsheeNag/us-policywatch-sub001/internal/fetcher/headless"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/hash/sha256"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/headless/detector"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/id/uuid"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/logging"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/metrics"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/pipeline"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/policy/ratelimit"
	memorypublisher "github.com/SaptorsheeNag/us-policywatch-sub001/internal/publisher/memory"
	pubsubpublisher "github.com/SaptorsheeNag/us-policywatch-sub001/internal/publisher/pubsub"
	queueMemory "github.com/SaptorsheeNag/us-policywatch-sub001/internal/queue/memory"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/storage/gcs"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/storage/local"
	memoryStorage "github.com/SaptorsheeNag/us-policywatch-sub001/internal/storage/memory"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/storage/postgres"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/telemetry"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/worker"
)

const (
	pdfMaxBytes     = 32 << 20
	shutdownTimeout = 10 * time.Second
)

// App holds the shared services for one process.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *adapter.Registry
	Runner   *pipeline.Runner
	Runs     ingest.RunStore
	IDs      ingest.IDGenerator
	Clock    ingest.Clock

	ready   api.ReadyFunc
	closers []func() error
}

// New wires every component selected by cfg. On error, anything already
// opened is closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	logger = logging.OrNop(logger)
	metrics.Init()
	a := &App{
		Config: cfg,
		Logger: logger,
		IDs:    uuid.New(),
		Clock:  system.New(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Telemetry.TracingEnabled {
		tp, terr := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
		if terr != nil {
			return nil, fmt.Errorf("init tracing: %w", terr)
		}
		a.closers = append(a.closers, func() error { return telemetry.Shutdown(context.Background(), tp) })
	}

	store, err := a.buildStores(ctx)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Fetcher.PerHostRPS, DefaultBurst: cfg.Fetcher.PerHostBurst})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Fetcher.UserAgent,
		IgnoreRobots:   cfg.Fetcher.IgnoreRobots,
		MaxAttempts:    cfg.Fetcher.MaxAttempts,
		BaseDelay:      time.Duration(cfg.Fetcher.BackoffBaseMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Fetcher.BackoffCapMs) * time.Millisecond,
		ConnectTimeout: time.Duration(cfg.Fetcher.ConnectTimeoutSecs) * time.Second,
		WriteTimeout:   time.Duration(cfg.Fetcher.WriteTimeoutSecs) * time.Second,
		ReadTimeout:    time.Duration(cfg.Fetcher.ReadTimeoutSecs) * time.Second,
	}, limiter, logger.Named("fetcher"))

	renderer := a.buildRenderer()

	a.Registry = adapter.NewRegistry(cfg.Sources, adapter.Deps{
		Fetcher:      fetcher,
		Extractor:    pdftext.New(pdfMaxBytes, logger.Named("pdftext")),
		Clock:        a.Clock,
		SummaryChars: cfg.Crawl.SummaryMaxChars,
		Logger:       logger.Named("adapter"),
	})

	enricher, err := a.buildEnricher(ctx)
	if err != nil {
		return nil, err
	}
	archive, err := a.buildArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}

	a.Runner, err = pipeline.New(pipeline.Config{
		Limits: pipeline.Limits{
			BackfillMaxPages: cfg.Crawl.BackfillMaxPages,
			CronMaxPages:     cfg.Crawl.CronMaxPages,
			SafetyMaxPages:   cfg.Crawl.SafetyMaxPages,
			DefaultMaxItems:  cfg.Crawl.DefaultMaxItems,
		},
		PageDelay:         cfg.PageDelay(),
		ExtractWorkers:    cfg.Crawl.ExtractWorkers,
		RunDeadline:       cfg.RunDeadline(),
		SourceParallelism: cfg.Crawl.SourceParallelism,
		SummaryChars:      cfg.Crawl.SummaryMaxChars,
		ArchivePrefix:     cfg.Archive.Prefix,
		Topic:             cfg.Publisher.Topic,
	}, pipeline.Deps{
		Sources:  a.Registry,
		Store:    store,
		Fetcher:  fetcher,
		Renderer: renderer,
		Detector: detector.NewHeuristic(0),
		Enricher: enrich.NewDispatcher(enricher, enrich.Config{
			Timeout:      time.Duration(cfg.Enrichment.TimeoutSeconds) * time.Second,
			DailyBudget:  cfg.Enrichment.DailyBudget,
			SummaryChars: cfg.Crawl.SummaryMaxChars,
		}, a.Clock, logger.Named("enrich")),
		Archive:   archive,
		Publisher: publisher,
		Hasher:    sha256.New(),
		Clock:     a.Clock,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build runner: %w", err)
	}

	logger.Info("application services initialized",
		zap.Int("sources", len(cfg.Sources)),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.String("enrichment", cfg.Enrichment.Provider),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
	)
	return a, nil
}

func (a *App) buildStores(ctx context.Context) (ingest.Store, error) {
	if a.Config.DB.DSN == "" {
		a.Logger.Info("using in-memory store; records are discarded on exit")
		a.Runs = memoryStorage.NewRunStore()
		return memoryStorage.NewItemStore(a.Clock), nil
	}
	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:             a.Config.DB.DSN,
		MaxConns:        a.Config.DB.MaxConns,
		MinConns:        a.Config.DB.MinConns,
		MaxConnLifetime: time.Duration(a.Config.DB.MaxConnLifetimeSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.ready = func(ctx context.Context) error { return pool.Ping(ctx) }

	if a.Config.DB.ApplySchema {
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	items, err := postgres.NewItemStore(pool)
	if err != nil {
		return nil, fmt.Errorf("build item store: %w", err)
	}
	runs, err := postgres.NewRunStore(pool)
	if err != nil {
		return nil, fmt.Errorf("build run store: %w", err)
	}
	a.Runs = runs
	return items, nil
}

func (a *App) buildRenderer() ingest.Fetcher {
	cfg := a.Config
	if !cfg.Headless.Enabled {
		return headlessfetcher.NewNoop()
	}
	renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Fetcher.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
	}, a.Logger.Named("headless"))
	if err != nil {
		a.Logger.Warn("headless renderer init failed; rendered sources will fail", zap.Error(err))
		return headlessfetcher.NewNoop()
	}
	a.closers = append(a.closers, func() error { renderer.Close(); return nil })
	return renderer
}

func (a *App) buildEnricher(ctx context.Context) (ingest.Enricher, error) {
	switch a.Config.Enrichment.Provider {
	case "", "none":
		return nil, nil
	case "gemini":
		g, err := enrich.NewGemini(ctx, a.Config.Enrichment.APIKey, a.Config.Enrichment.Model)
		if err != nil {
			return nil, fmt.Errorf("build gemini enricher: %w", err)
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	default:
		return nil, fmt.Errorf("unknown enrichment provider %q", a.Config.Enrichment.Provider)
	}
}

func (a *App) buildArchive(ctx context.Context) (ingest.BlobStore, error) {
	cfg := a.Config.Archive
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		return memoryStorage.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("build local archive: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		// Object keys already carry the archive prefix.
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("build gcs archive: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive provider %q", cfg.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context) (ingest.Publisher, error) {
	cfg := a.Config.Publisher
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		return memorypublisher.New(), nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		pub := pubsubpublisher.New(client.Topic(cfg.Topic))
		// Flush before the client closes; closers run in reverse.
		a.closers = append(a.closers, func() error { pub.Stop(); return nil })
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown publisher provider %q", cfg.Provider)
	}
}

// Serve runs the worker pool and the HTTP trigger surface until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	queue := queueMemory.NewQueue(cfg.Server.QueueDepth)
	pool := a.workerPool(queue)
	dispatch := dispatcher.New(queue, pool)
	server := api.NewServer(a.Runs, dispatch, a.Registry, a.IDs, a.Clock, cfg, a.ready, a.Logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		a.Logger.Info("dispatcher started", zap.Int("workers", len(pool)))
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.Logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatched
	a.Logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

func (a *App) workerPool(queue *queueMemory.Queue) []*worker.Worker {
	n := a.Config.Server.Workers
	if n <= 0 {
		n = 1
	}
	pool := make([]*worker.Worker, 0, n)
	for i := 0; i < n; i++ {
		pool = append(pool, worker.New(queue, a.Runs, a.Runner, a.Logger.Named("worker").With(zap.Int("index", i))))
	}
	return pool
}

// Ingest runs the named sources (all when empty) once and returns their results.
func (a *App) Ingest(ctx context.Context, names []string, params ingest.RunParams) ([]pipeline.SourceResult, error) {
	runID, err := a.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a.Logger.Info("ingest started", zap.String("run_id", runID), zap.Strings("sources", names))
	return a.Runner.RunAll(ctx, runID, names, params), nil
}

// Close releases every opened resource in reverse order and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close resource failed", zap.Error(err))
		}
	}
	a.closers = nil
	// Sync fails on terminals; nothing useful can be done about it.
	_ = a.Logger.Sync()
}
