package api

import "errors"

var (
	// ErrAssetUnavailable marks an asset the remote reported missing or
	// forbidden. Resolution treats it as "no data", not as a failure.
	ErrAssetUnavailable = errors.New("asset unavailable")

	// ErrInvalidIdentifier marks an identifier missing identity components.
	ErrInvalidIdentifier = errors.New("invalid asset identifier")

	// ErrOperationInProgress is returned when an import is requested for an
	// asset identity that already has a live operation. The request is
	// rejected, not queued.
	ErrOperationInProgress = errors.New("operation already in progress for asset")

	// ErrNotTracked is returned when an operation targets an asset the
	// local index does not track.
	ErrNotTracked = errors.New("asset not tracked locally")
)
