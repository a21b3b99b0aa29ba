// Package main hosts the location scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, scrape submission, job status polling, and log tail
//     endpoints. Submissions are validated against the configured websites and persisted via the JobStore before
//     being enqueued for work.
//   - Orchestrator & queue: jobs flow through a bounded in-memory queue sized by config.Worker.QueueDepth and are
//     fanned out to a fixed worker pool sized by config.Worker.MaxConcurrentWorkers. Each website holds at most one
//     queued or running job at a time. Context cancellation stops workers cleanly on shutdown.
//   - Pipeline: each run walks the site's phases (index, listing, detail) with a per-phase concurrency bound. Pages
//     are fetched via the Colly-based strategy, a headless Chromedp strategy for JS-rendered sites, or the
//     ScraperAPI proxy strategy, all behind a shared retrying client. Parsers extract next-phase URLs or raw
//     records; the transformer normalizes records into canonical locations keyed by business_id.
//   - Persistence & fanout: canonical locations are written concurrently to every backend the site configures
//     (JSONL snapshot, Postgres upsert, GCS snapshot). A failing backend is isolated to its own result; job outcome
//     is derived from the site's storage policy. A compact Pub/Sub completion event is published when a topic is
//     configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging (with an
//     optional file sink backing the log tail endpoint); Prometheus metrics are exported via /metrics. The service
//     keeps job state in memory and is intended to run as a single process.
//
// Operational notes:
//   - Concurrency model: bounded queue + fixed worker pool; per-site phase fan-out is bounded by
//     max_concurrent_requests, and headless fetches have their own semaphore inside the Chromedp strategy. Shutdown
//     is coordinated via context cancellation propagated from main through the orchestrator to workers.
//   - Budgets & retries: each job runs under a deadline (budget_seconds, default 30m); transient fetch failures
//     (5xx, 429, transport errors) are retried with capped exponential backoff and jitter.
//   - Observability: zap logs carry job IDs and websites at key transitions; Prometheus counters track fetches,
//     retries, records, and job outcomes.
//
// Quick checklist:
//   - Configure env vars with the SCRAPER_ prefix (SCRAPER_SERVER_PORT, SCRAPER_WORKER_MAX_CONCURRENT_WORKERS,
//     SCRAPER_HTTP_TIMEOUT_SECONDS, SCRAPER_STORAGE_DSN, SCRAPER_PUBSUB_PROJECT_ID, ...) or supply a YAML config.
//   - Run locally: go run ./cmd/scraperd -config config.yaml (or rely solely on env overrides).
package main
