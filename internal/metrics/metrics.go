// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal                 *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	pagesTotal                 *prometheus.CounterVec
	candidatesTotal            *prometheus.CounterVec
	extractFailuresTotal       *prometheus.CounterVec
	enrichmentTotal            *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Candidate stages counted per source.
const (
	StageSeen      = "seen"
	StageNew       = "new"
	StageCommitted = "committed"
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_fetch_total",
				Help: "Total number of fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_fetch_retries_total",
				Help: "Total number of fetch retries, labeled by site.",
			},
			[]string{"site"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_pages_total",
				Help: "Total number of listing pages crawled, labeled by source.",
			},
			[]string{"source"},
		)

		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_candidates_total",
				Help: "Candidate records per pipeline stage, labeled by source.",
			},
			[]string{"source", "stage"},
		)

		extractFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_extract_failures_total",
				Help: "Locators skipped because extraction failed, labeled by source.",
			},
			[]string{"source"},
		)

		enrichmentTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_enrichment_total",
				Help: "Enrichment attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policywatch_run_duration_seconds",
				Help:    "Histogram of source run durations, labeled by source and sync mode.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"source", "mode"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_runs_total",
				Help: "Total number of queued runs processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "policywatch_active_workers",
				Help: "Number of workers currently executing a run.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policywatch_rate_limit_delays_seconds",
				Help:    "Histogram of per-host politeness wait durations.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records a terminal fetch outcome and its retries.
func ObserveFetch(site string, outcome string, retries int) {
	Init()
	host := SanitizeSite(site)
	fetchTotal.WithLabelValues(host, outcome).Inc()
	if retries > 0 {
		fetchRetriesTotal.WithLabelValues(host).Add(float64(retries))
	}
}

// ObservePage increments the listing page counter.
func ObservePage(source string) {
	Init()
	pagesTotal.WithLabelValues(source).Inc()
}

// ObserveCandidates adds n candidates at the given stage.
func ObserveCandidates(source, stage string, n int) {
	Init()
	if n <= 0 {
		return
	}
	candidatesTotal.WithLabelValues(source, stage).Add(float64(n))
}

// ObserveExtractFailure counts a skipped locator.
func ObserveExtractFailure(source string) {
	Init()
	extractFailuresTotal.WithLabelValues(source).Inc()
}

// ObserveEnrichment counts an enrichment outcome (applied, skipped, failed, budget).
func ObserveEnrichment(outcome string) {
	Init()
	enrichmentTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun records the duration of a source run.
func ObserveRun(source, mode string, duration time.Duration) {
	Init()
	runDurationSeconds.WithLabelValues(source, mode).Observe(duration.Seconds())
}

// ObserveRunStatus increments the queued-run counter for the given status.
func ObserveRunStatus(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
