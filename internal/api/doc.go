// Package api hosts the optional operator HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/progress/{run_id} for live run status served
//     from the progress status board.
package api
