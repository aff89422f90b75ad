// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls/{full,category,product} to start a crawl in the background.
//   - GET /v1/jobs, /v1/jobs/running and /v1/jobs/{id} for job status.
//   - GET /v1/products/{id} and /v1/products/{id}/prices for stored products
//     and their price history.
package api
