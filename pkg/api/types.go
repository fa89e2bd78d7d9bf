package api

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AssetIdentifier uniquely identifies one version of a remote asset.
// Two identifiers describe the same asset when org, project and asset IDs
// match, regardless of version.
type AssetIdentifier struct {
	OrgID     string `json:"org_id"`
	ProjectID string `json:"project_id"`
	AssetID   string `json:"asset_id"`
	Version   string `json:"version,omitempty"`
}

// IsValid reports whether the identifier has all identity components set.
// Version may be empty (latest).
func (id AssetIdentifier) IsValid() bool {
	return id.OrgID != "" && id.ProjectID != "" && id.AssetID != ""
}

// SameAsset reports whether two identifiers refer to the same asset,
// ignoring version.
func (id AssetIdentifier) SameAsset(other AssetIdentifier) bool {
	return id.OrgID == other.OrgID &&
		id.ProjectID == other.ProjectID &&
		id.AssetID == other.AssetID
}

// Tracked strips the version, producing the key under which the asset is
// tracked locally. Only one version of an asset may be tracked at a time.
func (id AssetIdentifier) Tracked() TrackedAssetIdentifier {
	return TrackedAssetIdentifier{
		OrgID:     id.OrgID,
		ProjectID: id.ProjectID,
		AssetID:   id.AssetID,
	}
}

// String returns the canonical org/project/asset@version form.
func (id AssetIdentifier) String() string {
	s := id.OrgID + "/" + id.ProjectID + "/" + id.AssetID
	if id.Version != "" {
		s += "@" + id.Version
	}
	return s
}

// ParseIdentifier parses the canonical org/project/asset[@version] form.
func ParseIdentifier(s string) (AssetIdentifier, error) {
	rest := s
	var version string
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		version = rest[at+1:]
		rest = rest[:at]
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return AssetIdentifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	id := AssetIdentifier{
		OrgID:     parts[0],
		ProjectID: parts[1],
		AssetID:   parts[2],
		Version:   version,
	}
	if !id.IsValid() {
		return AssetIdentifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return id, nil
}

// TrackedAssetIdentifier is an AssetIdentifier with the version erased.
type TrackedAssetIdentifier struct {
	OrgID     string `json:"org_id"`
	ProjectID string `json:"project_id"`
	AssetID   string `json:"asset_id"`
}

// Key returns a stable string key suitable for maps and on-disk sharding.
func (t TrackedAssetIdentifier) Key() string {
	return t.OrgID + "/" + t.ProjectID + "/" + t.AssetID
}

// WithVersion re-attaches a version to the tracked identity.
func (t TrackedAssetIdentifier) WithVersion(version string) AssetIdentifier {
	return AssetIdentifier{
		OrgID:     t.OrgID,
		ProjectID: t.ProjectID,
		AssetID:   t.AssetID,
		Version:   version,
	}
}

// AssetData is an immutable snapshot of a remote asset's metadata.
type AssetData struct {
	ID             AssetIdentifier   `json:"id"`
	SequenceNumber int64             `json:"sequence_number"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Status         string            `json:"status,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Files          []AssetFile       `json:"files"`
	Dependencies   []AssetIdentifier `json:"dependencies,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// AssetFile describes one source file of a remote asset.
type AssetFile struct {
	Path      string `json:"path"` // relative to the asset root
	Checksum  string `json:"checksum,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// ImportedFileInfo records one physical file produced by an import.
type ImportedFileInfo struct {
	Guid          string    `json:"guid"`
	RemotePath    string    `json:"remote_path"`
	Checksum      string    `json:"checksum,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	MetaChecksum  string    `json:"meta_checksum,omitempty"`
	MetaTimestamp time.Time `json:"meta_timestamp,omitempty"`
}

// ImportedAssetInfo is the unit persisted and indexed per tracked asset:
// the asset snapshot at import time plus the files it produced, in order.
type ImportedAssetInfo struct {
	Asset      AssetData          `json:"asset"`
	Files      []ImportedFileInfo `json:"files"`
	ImportedAt time.Time          `json:"imported_at"`
}

// ImportKind selects which remote version an import targets.
type ImportKind int

const (
	// KindImport fetches the specific version named by the identifier.
	KindImport ImportKind = iota
	// KindUpdateToLatest fetches the latest available version.
	KindUpdateToLatest
)

func (k ImportKind) String() string {
	switch k {
	case KindImport:
		return "import"
	case KindUpdateToLatest:
		return "update-to-latest"
	default:
		return "unknown"
	}
}

// OperationStatus is the lifecycle state of an import operation.
type OperationStatus int

const (
	StatusNotStarted OperationStatus = iota
	StatusInProgress
	StatusSuccess
	StatusError
	StatusCancelled
)

func (s OperationStatus) String() string {
	switch s {
	case StatusNotStarted:
		return "not-started"
	case StatusInProgress:
		return "in-progress"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s OperationStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

var unsafeFolderChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// SanitizeFolderName makes an asset display name safe for use as a single
// path segment. Conflict detection and import destination construction must
// both go through this function so they agree on the final path.
func SanitizeFolderName(name string) string {
	return strings.TrimSpace(unsafeFolderChars.ReplaceAllString(name, ""))
}
