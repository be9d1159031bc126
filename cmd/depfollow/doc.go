// Package main hosts the depfollow entrypoint.
//
// Architecture overview:
//   - Change feed: internal/changes/couch streams the registry's CouchDB
//     _changes feed, retrying connection attempts with backoff. The stream is
//     pulled one event at a time by internal/follower, which only asks for the
//     next change after the previous one was stored, fanned out, and
//     checkpointed.
//   - Persistence: dependency records and the resume marker live in the
//     configured key-value store (memory, Redis, or Postgres). Batches are
//     atomic per change.
//   - Derived jobs: each published version can write a JSON manifest to a blob
//     store (memory, local, GCS) and publish a notification (memory, Pub/Sub,
//     NATS). Jobs for one change run concurrently; any failure halts the
//     follower without advancing the marker.
//   - Observability: zap logs, Prometheus metrics on /metrics, lifecycle
//     events on /v1/events, optional OpenTelemetry spans exported over OTLP.
//
// Operational notes:
//   - Delivery is at-least-once. A crash between the store write and the
//     checkpoint replays the change on restart; store writes and manifests are
//     idempotent overwrites, notifications may repeat.
//   - SIGINT/SIGTERM stops pulling immediately; a change already in flight is
//     allowed to finish. A non-zero exit means the follower halted on an error
//     and the marker points at the last good change.
//
// Quick checklist:
//   - Configure env vars: DEPFOLLOW_FEED_URL, DEPFOLLOW_STORE_BACKEND and its
//     connection settings, DEPFOLLOW_ARTIFACTS_*, DEPFOLLOW_NOTIFY_*.
//   - Run locally: go run ./cmd/depfollow follow --config config.yaml
//   - Inspect progress: go run ./cmd/depfollow checkpoint --config config.yaml
package main
