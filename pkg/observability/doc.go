// Package observability provides logging, metrics, tracing and lifecycle
// helpers for the stash daemon and CLI.
//
// # Overview
//
// Logger wraps stdlib slog with structured JSON output and context
// propagation of the current operation ID. Metrics registers the
// Prometheus instruments for resolution, imports, transfers, conflicts,
// the remote metadata cache and the tracking index. InitOTel wires the
// OTLP trace exporter, and ShutdownManager sequences graceful shutdown of
// the daemon's HTTP server and background components.
package observability
