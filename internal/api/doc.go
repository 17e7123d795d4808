// Package api hosts the HTTP server, middleware, and REST handlers that
// trigger ingestion runs. Notable routes:
//   - GET /healthz / readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources lists the configured sources.
//   - POST /v1/sources/{name}/runs queues a run with {max_pages, max_items}.
//   - GET /v1/runs/{run_id} reports run status and the per-source summary.
package api
