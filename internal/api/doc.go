// Package api hosts the admin HTTP server. Notable routes:
//   - GET /healthz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/scheduler/status and POST /v1/scheduler/tick for the control loop.
//   - GET /v1/sources and /v1/sources/{id} for source views with derived state.
//   - DELETE /v1/sources/{id} removes a source and drops scheduler bookkeeping.
//   - POST /v1/sources/{id}/sync|pause|resume|reset-errors for operator actions.
//   - GET /v1/sources/{id}/history for recently finished runs.
package api
