// Package api hosts the read-only HTTP status server that runs beside a
// harvest. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the persisted position and live counters.
//   - GET /v1/failures for the failure ledger.
package api
