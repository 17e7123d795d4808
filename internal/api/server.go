package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/config"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/dispatcher"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/logging"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/metrics"
)

const enqueueTimeout = 5 * time.Second

// Catalog lists the configured sources.
type Catalog interface {
	Definitions() []ingest.SourceDefinition
	Definition(name string) (ingest.SourceDefinition, bool)
}

// ReadyFunc reports whether downstream dependencies can serve runs.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher and run store.
type Server struct {
	router     chi.Router
	runs       ingest.RunStore
	dispatcher *dispatcher.Dispatcher
	catalog    Catalog
	idGen      ingest.IDGenerator
	clock      ingest.Clock
	cfg        config.Config
	ready      ReadyFunc
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runs ingest.RunStore,
	dispatcher *dispatcher.Dispatcher,
	catalog Catalog,
	idGen ingest.IDGenerator,
	clock ingest.Clock,
	cfg config.Config,
	ready ReadyFunc,
	logger *zap.Logger,
) *Server {
	s := &Server{
		runs:       runs,
		dispatcher: dispatcher,
		catalog:    catalog,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		ready:      ready,
		logger:     logging.OrNop(logger).Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/sources", s.listSources)
		r.Post("/sources/{name}/runs", s.submitRun)
		r.Get("/runs/{run_id}", s.getRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type sourceView struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	Agency       string `json:"agency,omitempty"`
	ListURL      string `json:"list_url"`
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	defs := s.catalog.Definitions()
	out := make([]sourceView, 0, len(defs))
	for _, def := range defs {
		out = append(out, sourceView{
			Name:         def.Name,
			Kind:         string(def.Kind),
			Jurisdiction: def.Jurisdiction,
			Agency:       def.Agency,
			ListURL:      def.ListingURL(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

type runRequest struct {
	MaxPages *int `json:"max_pages"`
	MaxItems *int `json:"max_items"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.catalog.Definition(name); !ok {
		s.writeError(w, http.StatusNotFound, "source not found")
		return
	}
	params, err := s.decodeParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.enqueueRun(r.Context(), name, params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ingest.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": string(ingest.RunStatusQueued)})
}

func (s *Server) decodeParams(r *http.Request) (ingest.RunParams, error) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return ingest.RunParams{}, errors.New("invalid JSON")
	}
	params := ingest.RunParams{
		MaxPages: valueOrDefault(req.MaxPages, 0),
		MaxItems: valueOrDefault(req.MaxItems, 0),
	}
	if params.MaxPages < 0 || params.MaxItems < 0 {
		return ingest.RunParams{}, errors.New("max_pages and max_items must be >= 0")
	}
	if limit := s.cfg.Crawl.SafetyMaxPages; limit > 0 && params.MaxPages > limit {
		return ingest.RunParams{}, fmt.Errorf("max_pages must be <= %d", limit)
	}
	return params, nil
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) enqueueRun(ctx context.Context, source string, params ingest.RunParams) (string, error) {
	runID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	now := s.clock.Now()
	run := ingest.Run{
		ID:        runID,
		Source:    source,
		Status:    ingest.RunStatusQueued,
		Submitted: now,
		Params:    params,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	req := ingest.RunRequest{
		RunID:     runID,
		Source:    source,
		Params:    params,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, req); err != nil {
		summary := ingest.RunSummary{Source: source}
		if uerr := s.runs.UpdateRun(context.WithoutCancel(ctx), runID, ingest.RunStatusFailed, err.Error(), summary); uerr != nil {
			s.logger.Error("mark unqueued run failed", zap.String("run_id", runID), zap.Error(uerr))
		}
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	s.logger.Info("run queued", zap.String("run_id", runID), zap.String("source", source))
	return runID, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request identifier attached by the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := writeJSON(w, status, payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}
