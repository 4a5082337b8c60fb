// Package api hosts the HTTP control and query surface. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/collection/... to inspect, start, stop or run the collection loop.
//   - GET /v1/events to query stored events.
package api
