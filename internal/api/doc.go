// Package api hosts the read-only HTTP surface that runs alongside a command. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for rate controller snapshots and table counts.
//   - GET /v1/runs/{run_id}, /v1/runs/{run_id}/hits and /v1/items/{item_id} for reading what the
//     pipeline persisted.
//
// Nothing here calls the upstream API.
package api
