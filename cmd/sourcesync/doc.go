// Package main hosts the sourcesync entrypoint.
//
// Architecture overview:
//   - Scheduler: internal/scheduler evaluates due sources on a fixed tick and runs at most one collection worker
//     per source. Manual syncs go through the same bookkeeping, so a manual run never overlaps a scheduled one.
//   - Collection: RSS/Atom feeds (gofeed) and web pages (goquery selectors, html-to-markdown) are fetched through
//     the Colly fetcher behind a per-host token bucket. FILE sources replay rows imported from CSV or XLSX.
//   - Persistence: sources and documents live in memory, Postgres (pgx) or MongoDB. Documents are deduplicated by
//     link before they are stored.
//   - Fan-out: each batch of new documents goes to the indexer (memory or JSONL drops on local disk/GCS) and the
//     notifier (memory, Pub/Sub or Redis Streams) concurrently, without blocking the worker.
//   - Observability: zap logs, Prometheus metrics on /metrics, and a sync event hub feeding log, metric and
//     per-source history sinks.
//
// Commands:
//   - serve: run the scheduler and the admin API until SIGINT/SIGTERM.
//   - sync <source-id>: collect one source now and print the outcome.
//   - import <file>: create a FILE source from a CSV or XLSX file.
//
// Configuration comes from an optional YAML file (--config) overlaid by SOURCESYNC_* environment variables,
// e.g. SOURCESYNC_DATABASE_BACKEND=postgres or SOURCESYNC_SERVER_PORT=9090.
package main
