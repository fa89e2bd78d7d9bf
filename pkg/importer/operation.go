package importer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/stash/pkg/api"
)

// FileRequest is one pending file transfer of an operation.
type FileRequest struct {
	RemotePath  string // remote-relative path
	Ref         string // byte-source reference from GetDownloadURLs
	StagingPath string // absolute path the bytes land in
	FinalPath   string // absolute destination after commit

	// Filled in by the transfer.
	Checksum  string
	SizeBytes int64
}

// Operation is the mutable state machine for importing one asset:
// NotStarted -> InProgress -> Success | Error | Cancelled. Terminal
// states are final. At most one live Operation exists per asset identity.
type Operation struct {
	ID    string
	Asset *api.AssetData
	Kind  api.ImportKind

	// Existed records whether the asset identity was already tracked
	// when the operation was created; a replacing commit relocates the
	// prior files to scratch before moving new ones in.
	Existed bool

	StagingPath     string
	DestinationPath string
	Requests        []FileRequest

	mu         sync.Mutex
	status     api.OperationStatus
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

func newOperation(asset *api.AssetData, kind api.ImportKind, existed bool) *Operation {
	return &Operation{
		ID:      uuid.NewString(),
		Asset:   asset,
		Kind:    kind,
		Existed: existed,
		status:  api.StatusNotStarted,
	}
}

// Status returns the current status.
func (o *Operation) Status() api.OperationStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Err returns the failure when Status is Error.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Duration returns how long the operation ran, or has been running.
func (o *Operation) Duration() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.startedAt.IsZero() {
		return 0
	}
	if o.finishedAt.IsZero() {
		return time.Since(o.startedAt)
	}
	return o.finishedAt.Sub(o.startedAt)
}

// start transitions NotStarted -> InProgress. Returns false if the
// operation is already past NotStarted.
func (o *Operation) start() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != api.StatusNotStarted {
		return false
	}
	o.status = api.StatusInProgress
	o.startedAt = time.Now()
	return true
}

// finish transitions to a terminal status. Once terminal, later calls
// are no-ops: the first terminal transition wins.
func (o *Operation) finish(status api.OperationStatus, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Terminal() {
		return
	}
	o.status = status
	o.err = err
	o.finishedAt = time.Now()
}

// OperationSnapshot is an immutable view for status surfaces.
type OperationSnapshot struct {
	ID          string              `json:"id"`
	Asset       api.AssetIdentifier `json:"asset"`
	Kind        string              `json:"kind"`
	Status      string              `json:"status"`
	Error       string              `json:"error,omitempty"`
	Destination string              `json:"destination,omitempty"`
	FileCount   int                 `json:"file_count"`
	StartedAt   time.Time           `json:"started_at,omitempty"`
	FinishedAt  time.Time           `json:"finished_at,omitempty"`
}

// Snapshot captures the operation state for observers.
func (o *Operation) Snapshot() OperationSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := OperationSnapshot{
		ID:          o.ID,
		Asset:       o.Asset.ID,
		Kind:        o.Kind.String(),
		Status:      o.status.String(),
		Destination: o.DestinationPath,
		FileCount:   len(o.Requests),
		StartedAt:   o.startedAt,
		FinishedAt:  o.finishedAt,
	}
	if o.err != nil {
		snap.Error = o.err.Error()
	}
	return snap
}
