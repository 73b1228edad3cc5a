// Package main hosts the seoautomation entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and the pipeline's boundary operations. Requests are
//     validated, mapped onto the lifecycle service or the orchestrator, and errors are translated to status codes.
//   - Onboarding: the orchestrator crawls a website through the Colly fetcher (per-host token bucket, optional
//     robots.txt enforcement), stores the raw HTML as a snapshot, extracts page signal with goquery, and asks the
//     configured text-generation provider for a business profile. Provider problems degrade to a default record.
//   - Pipeline state: projects, keywords, generated pages, and indexing rows move through their state machines via
//     conditional updates, so concurrent callers on one entity cannot both win. Committed transitions recompute the
//     project's cached counters and publish an event for downstream job runners.
//   - Persistence: Postgres via pgx when database.dsn is set, otherwise an in-memory store. Snapshots go to memory,
//     a local directory, or GCS. Events go to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from .env, a file, and SEO_* env vars; zap provides
//     structured logging; Prometheus metrics are served on /metrics; OpenTelemetry spans wrap onboarding.
//
// Quick checklist:
//   - Configure env vars: SEO_SERVER_PORT, SEO_ANALYSIS_PROVIDER and SEO_ANALYSIS_API_KEY, SEO_DATABASE_DSN,
//     SEO_STORAGE_BACKEND, and SEO_PUBSUB_PROJECT_ID/SEO_PUBSUB_TOPIC_NAME when persistence beyond memory is required.
//   - Run locally: go run ./cmd/seoautomation serve --config config.yaml
//   - One-shot analysis: go run ./cmd/seoautomation analyze https://example.com --owner 1
package main
