// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the current or last harvest run.
//   - POST /v1/runs to start a harvest in the background.
//   - GET /v1/students?q= and /v1/periods/current for front ends.
package api
