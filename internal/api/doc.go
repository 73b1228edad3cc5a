// Package api hosts the HTTP server, middleware stack, and REST handlers for the
// pipeline's boundary operations. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/projects to create and analyze a website; GET /v1/projects?owner_id= to list.
//   - POST /v1/{projects,keywords,pages}/{id}/transition with {"from","to"}.
//   - POST /v1/pages/{id}/publish, /indexing/submit, and /indexing/check.
//   - GET /v1/owners/{owner_id}/dashboard for per-owner totals.
//
// Errors are JSON {"error": "..."}: 400 for validation, 404 for unknown or deleted
// entities, 409 for rejected or stale transitions and duplicates, 502 when the
// website could not be crawled.
package api
