// Package api hosts the optional operator HTTP server that runs next to a
// crawl. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for the live run phase and counters.
package api
