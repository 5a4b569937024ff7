// Package main hosts the roundup-crawler entrypoint.
//
// Architecture overview:
//   - Input: internal/source lists the *.json roundup documents of input.dir in name order and decodes one
//     record at a time. Malformed documents become error records instead of stopping the run.
//   - Checkpoint: internal/checkpoint keeps every finished record and error record in memory and rewrites
//     data.json and errors.json through the configured BlobStore (local, memory, GCS or Postgres). On
//     startup the snapshots are reconciled with the inputs so finished documents are skipped.
//   - Processing: internal/processor walks the pending records, fetching each left, center and right link
//     through the current fetch worker under a bounded RetryPolicy. A worker that dies is destroyed and
//     replaced, and the record restarts from its first link.
//   - Workers: internal/fetcher/headless drives one Chrome per worker through chromedp; internal/fetcher/colly
//     is a static HTTP alternative. Both extract <p> text with goquery and throttle per host.
//   - Observability: zap logs carry run ids, record keys and URLs; the progress Hub fans events out to a log
//     sink and a Prometheus sink; metrics.addr serves /metrics and /healthz during a run; pubsub.topic
//     receives a JSON summary after every run.
//
// Operational notes:
//   - Concurrency model: strictly sequential, one worker and one link at a time.
//   - Shutdown: SIGINT/SIGTERM stop new fetches; an in-flight fetch finishes, the snapshots are written and
//     the browser is closed before exit (status 130).
//   - Locking: with the local backend a lock file in checkpoint.dir keeps two runs from sharing a checkpoint.
//
// Quick checklist:
//   - Configure env vars: ROUNDUP_INPUT_DIR, ROUNDUP_CHECKPOINT_BACKEND, ROUNDUP_CHECKPOINT_DIR,
//     ROUNDUP_WORKER_KIND, ROUNDUP_WORKER_EXEC_PATH, or put them in a .env file.
//   - Run locally: go run ./cmd/roundup-crawler fetch --config config.yaml
//   - Audit the results: go run ./cmd/roundup-crawler audit
package main
