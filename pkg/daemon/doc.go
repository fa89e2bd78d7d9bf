// Package daemon provides the long-running local service.
//
// # Overview
//
// The daemon exposes a small HTTP API over the tracking index and the
// import orchestrator: list tracked assets, start and cancel import
// batches, remove assets, trigger update-to-latest sweeps and drift
// scans, plus /health and /metrics endpoints. A cron scheduler runs the
// update and drift sweeps periodically in the background.
//
// Import batches started through the API run against the daemon's
// lifetime context rather than the request context, so clients can poll
// batch status after disconnecting.
package daemon
