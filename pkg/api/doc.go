// Package api defines the core value types and collaborator contracts of
// the stash import core.
//
// # Overview
//
// Every other package speaks in these types: AssetIdentifier names one
// version of a remote asset, TrackedAssetIdentifier is its version-erased
// local uniqueness key, AssetData is an immutable remote snapshot, and
// ImportedAssetInfo is the persisted record of what an import produced
// locally.
//
// The package also declares the abstract boundaries the core consumes but
// does not implement here: RemoteRepository (registry metadata and byte
// streams), FileSystem (host file operations) and PathMapper (stable file
// guid mapping). Concrete implementations live in pkg/remote and
// pkg/localfs.
//
// # Related Packages
//
//   - pkg/index: local tracking index keyed by TrackedAssetIdentifier
//   - pkg/resolver: transitive dependency resolution over RemoteRepository
//   - pkg/importer: import orchestration and file transfer
package api
