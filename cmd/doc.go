// Package cmd defines the historycrawler CLI.
//
// Architecture overview:
//   - crawl: discovers the listed entities (through the browser or a plain HTTP GET of the listing page), loads the
//     checkpoint CSV, and fans entities out over a bounded in-memory queue to a fixed worker pool sized by
//     crawler.concurrency. Each worker owns one browser tab and walks the backfill windows, skipping checkpointed
//     ones, and falls back to the recent windows when the backfill produced nothing new.
//   - Retry: every window fetch is retried a fixed number of times with a constant delay (cenkalti/backoff); an
//     abandoned window gets no checkpoint and is retried on the next run.
//   - Flush: all rows gathered by the run are appended to the checkpoint CSV once, after the workers stop, whether
//     the run completed or was interrupted. Postgres and GCS exports run after a successful flush.
//   - Observability: zap logs carry entity and window fields; progress events are batched to a log sink and a
//     Prometheus sink; the optional status server exposes /healthz, /status and /metrics.
//   - windows: prints the backfill and fallback plans for today without opening a browser.
//
// Quick checklist:
//   - Configure env vars with the HISTORY_ prefix, for example HISTORY_CRAWLER_CONCURRENCY,
//     HISTORY_CHECKPOINT_PATH, HISTORY_CRAWLER_ENTITIES=ALK,KMB, HISTORY_DB_DSN, HISTORY_STORAGE_GCS_BUCKET.
//   - Run locally: go run . crawl --config config.yaml (or rely solely on env overrides).
//   - Ctrl-C stops the crawl, saves what was gathered, and exits with status 130.
package cmd
