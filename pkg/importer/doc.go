// Package importer executes accepted imports and removals.
//
// # Overview
//
// BeginImport runs resolution and conflict classification, then drives
// the accepted operations through the per-asset state machine
// NotStarted -> InProgress -> Success | Error | Cancelled. Execution is
// two bounded-concurrency passes: a "start" pass that lays out every
// operation's staging tree and destination before a "download" pass does
// the byte-heavy transfers. Commit relocates a replaced asset's prior
// files to scratch, swaps staged files into place, and records the
// result in the tracking index.
//
// A BulkOperation aggregates one batch under a shared cancellation
// source; it is Success only when every child succeeded, and a batch
// containing any failure stays visible until explicitly cleared.
//
// # Failure scope
//
// Resolution and classification errors abort the whole batch with
// nothing imported; transfer errors scope to the single affected asset.
// Removal untracks before deleting, preferring orphaned files over
// dangling index entries after a crash, and reports undeletable paths in
// aggregate.
package importer
