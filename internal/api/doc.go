// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/seeds/{category,template,allpages} to start a traversal.
//   - POST /v1/pages to process a single page.
package api
