// Package progress carries the crawl's progress events from workers to sinks.
// Emit never blocks the crawl; a background goroutine batches events and fans
// them out to the configured sinks (structured logs, Prometheus collectors).
package progress
