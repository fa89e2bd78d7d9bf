// Package resolver expands requested assets into their full transitive
// dependency set.
//
// # Overview
//
// Resolution is a visited-set-guarded worklist traversal over the remote
// repository: depth-first per branch, cycle-tolerant, streaming each
// discovered asset through a channel as soon as it is fetched so callers
// can report progress before the full graph is known.
//
// When two paths yield the same asset at different versions, the snapshot
// with the higher sequence number wins independent of discovery order.
//
// Missing or forbidden assets are skipped (the operation degrades);
// genuine fetch failures abort the whole resolution, since a partial
// dependency graph is unsafe to import.
package resolver
