package api

import (
	"context"
	"io"
)

// RemoteRepository is the boundary to the cloud-hosted asset registry.
// Implementations translate expected remote conditions (not found,
// forbidden) into ErrAssetUnavailable so callers can degrade instead of
// aborting.
type RemoteRepository interface {
	// GetAsset fetches the snapshot for the exact version named by id.
	GetAsset(ctx context.Context, id AssetIdentifier) (*AssetData, error)
	// GetLatestVersion fetches the latest available snapshot of the asset.
	GetLatestVersion(ctx context.Context, id AssetIdentifier) (*AssetData, error)
	// GetDependencies fetches the declared direct dependencies of id.
	GetDependencies(ctx context.Context, id AssetIdentifier) ([]AssetIdentifier, error)
	// GetDownloadURLs returns a mapping of remote-relative file path to a
	// byte-source reference for every file of the asset.
	GetDownloadURLs(ctx context.Context, asset *AssetData) (map[string]string, error)
	// Download opens the byte stream behind a reference returned by
	// GetDownloadURLs. The caller owns the returned reader.
	Download(ctx context.Context, ref string) (io.ReadCloser, error)
}

// FileSystem abstracts the host file system operations the import core
// needs. All paths are absolute.
type FileSystem interface {
	Exists(path string) bool
	MkdirAll(path string) error
	CreateFile(path string) (io.WriteCloser, error)
	Move(src, dst string) error
	Delete(path string) error
	DeleteDir(path string) error
	// EnumerateFiles lists every regular file under dir, recursively.
	EnumerateFiles(dir string) ([]string, error)
	// TempDir allocates a fresh scratch directory scoped to the project.
	TempDir(prefix string) (string, error)
}

// PathMapper translates between a local file path and the stable file
// handle ("guid") the tracking index keys files by. The mapping must be
// deterministic: the same path always yields the same guid.
type PathMapper interface {
	GuidFromPath(path string) string
	PathFromGuid(guid string) (string, bool)
	// Forget drops the reverse mapping for a guid whose file was deleted.
	Forget(guid string)
}
