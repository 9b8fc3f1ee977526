// Package main hosts the warehouse service entrypoint.
//
// Architecture overview:
//   - Pipeline: internal/pipeline.Runner drives four strictly sequential stages.
//     Scrape fetches public t.me channel previews (Colly fast path, optional Chromedp
//     fallback for app-shell pages), archives photos through the configured BlobStore
//     and writes date-partitioned JSON. Load upserts those partitions into
//     raw.telegram_messages with conflict-free idempotent inserts. Transform shells
//     out to dbt and observes only its exit status. Enrich runs the object-detection
//     provider over downloaded images, classifies each into a business category,
//     writes a CSV artifact and loads it into raw.image_detections. The first stage
//     failure aborts the run; there are no retries or checkpoints.
//   - HTTP API: internal/api.Server exposes health and metrics endpoints, warehouse
//     reports (top products, channel activity, message search, visual content) and
//     the pipeline status/trigger endpoints. At most one run is active at a time;
//     triggering during a run returns 409.
//   - Aggregation: internal/warehouse.Engine rolls per-image classifications into
//     per-channel statistics on demand; nothing derived is persisted.
//   - Configuration & plumbing: Viper populates config from env (MEDTEL_ prefix) and
//     an optional YAML file; zap provides structured logging; Prometheus collectors
//     track runs, stages, loads and HTTP traffic; a Pub/Sub event announces each
//     completed run when enabled.
//
// Run locally: go run ./cmd/medtelwh -config config.yaml, or -run-once to execute a
// single pipeline run without starting the HTTP server.
package main
