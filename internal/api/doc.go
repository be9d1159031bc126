// Package api hosts the HTTP server, middleware, and read-only handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes; readiness follows the
//     follower control loop.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/checkpoint for the durable resume marker.
//   - GET /v1/dependencies/{name}/{version} for stored dependency records.
//   - GET /v1/events for recent follower lifecycle events.
package api
