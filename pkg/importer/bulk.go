package importer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/stash/pkg/api"
)

// BulkOperation aggregates a batch of operations under one shared
// cancellation source. Its status is derived from its children: Success
// only when every child finished Success.
type BulkOperation struct {
	ID  string
	ops []*Operation

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	done chan struct{}

	mu         sync.Mutex
	finishedAt time.Time
}

func newBulkOperation(ops []*Operation, cancel context.CancelFunc) *BulkOperation {
	return &BulkOperation{
		ID:     uuid.NewString(),
		ops:    ops,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Operations returns the child operations.
func (b *BulkOperation) Operations() []*Operation {
	return b.ops
}

// Status derives the aggregate status: InProgress while any child is
// unfinished; then Error if any child failed, Cancelled if any child was
// cancelled (and none failed), Success only when all succeeded.
func (b *BulkOperation) Status() api.OperationStatus {
	if len(b.ops) == 0 {
		return api.StatusSuccess
	}
	anyError := false
	anyCancelled := false
	for _, op := range b.ops {
		switch op.Status() {
		case api.StatusError:
			anyError = true
		case api.StatusCancelled:
			anyCancelled = true
		case api.StatusSuccess:
		default:
			return api.StatusInProgress
		}
	}
	if anyError {
		return api.StatusError
	}
	if anyCancelled {
		return api.StatusCancelled
	}
	return api.StatusSuccess
}

// Cancel cancels the shared cancellation source. Every unfinished child
// finalizes to Cancelled as the batches unwind; the source is disposed
// after the first call.
func (b *BulkOperation) Cancel() {
	b.cancelMu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the batch finishes or ctx is done.
func (b *BulkOperation) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markFinished records completion and releases waiters.
func (b *BulkOperation) markFinished() {
	b.mu.Lock()
	if b.finishedAt.IsZero() {
		b.finishedAt = time.Now()
		close(b.done)
	}
	b.mu.Unlock()
	// The batch is over; dispose the cancellation source.
	b.Cancel()
}

// FinishedAt returns when the batch completed, zero while running.
func (b *BulkOperation) FinishedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finishedAt
}

// BulkSnapshot is an immutable view for status surfaces.
type BulkSnapshot struct {
	ID         string              `json:"id"`
	Status     string              `json:"status"`
	Operations []OperationSnapshot `json:"operations"`
	FinishedAt time.Time           `json:"finished_at,omitempty"`
}

// Snapshot captures the batch state for observers.
func (b *BulkOperation) Snapshot() BulkSnapshot {
	snap := BulkSnapshot{
		ID:         b.ID,
		Status:     b.Status().String(),
		FinishedAt: b.FinishedAt(),
	}
	for _, op := range b.ops {
		snap.Operations = append(snap.Operations, op.Snapshot())
	}
	return snap
}
