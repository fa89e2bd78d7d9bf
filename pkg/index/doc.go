// Package index implements the local asset tracking index.
//
// # Overview
//
// LocalAssetIndex maps a version-erased asset identity to the record of
// what its import produced locally (files, checksums, the remote snapshot
// at import time). It maintains a reverse index from file guid to owning
// assets, caches the latest known remote metadata per asset, and notifies
// subscribers of every mutation with an {added, removed, updated} payload.
//
// # Persistence
//
// FileStore persists one JSON entry per tracked asset under a directory
// sharded by the first two characters of the asset's hashed key. Entries
// are written through on every Upsert and loaded once at process start,
// before any import can run.
//
// # Invariants
//
//   - At most one entry exists per tracked identity; Upsert replaces.
//   - Guid associations are rebuilt on Upsert and dropped on Remove the
//     instant the owning entry stops referencing them.
//   - Authentication loss clears only the remote metadata cache, never
//     the imported-file tracking.
package index
