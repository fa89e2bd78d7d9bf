package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/conflict"
	"github.com/platinummonkey/stash/pkg/index"
	"github.com/platinummonkey/stash/pkg/observability"
	"github.com/platinummonkey/stash/pkg/resolver"
)

// Config holds orchestrator settings.
type Config struct {
	// DestinationRoot is the directory assets import into.
	DestinationRoot string
	// MaxConcurrent bounds simultaneous in-flight operations for both
	// the start and download phases.
	MaxConcurrent int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(destinationRoot string) Config {
	return Config{
		DestinationRoot: destinationRoot,
		MaxConcurrent:   4,
	}
}

// Orchestrator executes accepted imports: staging allocation, bounded
// concurrent transfers, atomic commit into place, index bookkeeping, and
// removal of tracked assets.
type Orchestrator struct {
	cfg       Config
	repo      api.RemoteRepository
	fs        api.FileSystem
	mapper    api.PathMapper
	idx       *index.LocalAssetIndex
	resolver  *resolver.Resolver
	conflicts *conflict.Resolver
	logger    *observability.Logger
	metrics   *observability.Metrics

	// ConfirmCancel, when set, is consulted before a cancellation
	// proceeds. Returning false aborts the cancel request.
	ConfirmCancel func() bool

	mu     sync.Mutex
	live   map[api.TrackedAssetIdentifier]*Operation
	recent []*BulkOperation
	// reserved holds destinations chosen for in-flight operations, which
	// do not exist on disk until commit.
	reserved map[string]bool
}

// New creates an Orchestrator. metrics may be nil.
func New(cfg Config, repo api.RemoteRepository, fs api.FileSystem, mapper api.PathMapper, idx *index.LocalAssetIndex, res *resolver.Resolver, con *conflict.Resolver, logger *observability.Logger, metrics *observability.Metrics) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Orchestrator{
		cfg:       cfg,
		repo:      repo,
		fs:        fs,
		mapper:    mapper,
		idx:       idx,
		resolver:  res,
		conflicts: con,
		logger:    logger,
		metrics:   metrics,
		live:      make(map[api.TrackedAssetIdentifier]*Operation),
		reserved:  make(map[string]bool),
	}
}

// BeginImport resolves the requested assets with their transitive
// dependencies, classifies conflicts and obtains decisions, then starts
// the accepted operations in the background and returns the batch.
//
// Resolution or classification failure aborts the whole request with
// nothing imported. A requested identity that already has a live
// operation is dropped, not queued.
func (o *Orchestrator) BeginImport(ctx context.Context, requested []api.AssetIdentifier, kind api.ImportKind, progress resolver.ProgressFunc) (*BulkOperation, error) {
	ctx, cancel := context.WithCancel(ctx)

	resolveStart := time.Now()
	resolved, err := o.resolver.Resolve(ctx, requested, kind, progress)
	if err != nil {
		cancel()
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.ResolveDuration.WithLabelValues(kind.String()).Observe(time.Since(resolveStart).Seconds())
		o.metrics.ResolvedAssetsTotal.Add(float64(len(resolved)))
	}

	classification := o.conflicts.Classify(resolved, requested, o.cfg.DestinationRoot)
	if o.metrics != nil {
		for _, res := range classification.All() {
			if res.RequiresDecision() {
				o.metrics.ConflictsDetectedTotal.Inc()
			}
		}
	}
	accepted, err := o.conflicts.Decide(ctx, classification)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("conflict decision failed: %w", err)
	}
	if o.metrics != nil {
		acceptedSet := make(map[api.TrackedAssetIdentifier]struct{}, len(accepted))
		for _, a := range accepted {
			acceptedSet[a.ID.Tracked()] = struct{}{}
		}
		for _, res := range classification.All() {
			if !res.RequiresDecision() {
				continue
			}
			if _, ok := acceptedSet[res.Asset.ID.Tracked()]; ok {
				o.metrics.ConflictDecisionsTotal.WithLabelValues("replace").Inc()
			} else {
				o.metrics.ConflictDecisionsTotal.WithLabelValues("skip").Inc()
			}
		}
	}

	ops := make([]*Operation, 0, len(accepted))
	for _, asset := range accepted {
		tracked := asset.ID.Tracked()
		op := newOperation(asset, kind, o.idx.Lookup(asset.ID) != nil)

		o.mu.Lock()
		if _, inFlight := o.live[tracked]; inFlight {
			o.mu.Unlock()
			o.logger.Warnf("import already in progress for %s, dropping duplicate request", tracked.Key())
			continue
		}
		o.live[tracked] = op
		o.mu.Unlock()

		ops = append(ops, op)
	}

	if len(ops) == 0 {
		cancel()
		if len(accepted) > 0 {
			return nil, api.ErrOperationInProgress
		}
		// Nothing needed importing (everything resolved to skip).
		bulk := newBulkOperation(nil, func() {})
		bulk.markFinished()
		return bulk, nil
	}

	bulk := newBulkOperation(ops, cancel)
	o.mu.Lock()
	o.recent = append(o.recent, bulk)
	o.mu.Unlock()

	go o.run(ctx, bulk)
	return bulk, nil
}

// run executes a batch: one bounded "start" pass allocating staging and
// destinations for every operation, then one bounded "download" pass, so
// the staging footprint is fully laid out before byte-heavy transfers
// begin. Commits are serialized: index mutation is single-sequence.
func (o *Orchestrator) run(ctx context.Context, bulk *BulkOperation) {
	defer observability.RecoverPanic(o.logger, "import batch")
	ctx = observability.WithLogger(ctx, o.logger)
	ctx, span := observability.Tracer("stash/importer").Start(ctx, "import batch")
	defer span.End()

	g := &errgroup.Group{}
	g.SetLimit(o.cfg.MaxConcurrent)
	for _, op := range bulk.Operations() {
		op := op
		g.Go(func() error {
			o.startOperation(observability.WithOperationID(ctx, op.ID), op)
			return nil
		})
	}
	g.Wait()

	g = &errgroup.Group{}
	g.SetLimit(o.cfg.MaxConcurrent)
	for _, op := range bulk.Operations() {
		op := op
		g.Go(func() error {
			o.downloadOperation(ctx, op)
			return nil
		})
	}
	g.Wait()

	for _, op := range bulk.Operations() {
		o.commitOperation(observability.WithOperationID(ctx, op.ID), op)
	}

	o.finalizeBulk(ctx, bulk)
}

// startOperation allocates staging space, fixes the destination path and
// builds the per-file download requests. Failures scope to this
// operation only.
func (o *Orchestrator) startOperation(ctx context.Context, op *Operation) {
	if ctx.Err() != nil {
		op.finish(api.StatusCancelled, nil)
		return
	}
	if !op.start() {
		return
	}
	log := observability.FromContext(ctx).WithField("asset", op.Asset.ID.String())

	staging, err := o.fs.TempDir("import-")
	if err != nil {
		op.finish(api.StatusError, err)
		log.WithError(err).Error("failed to allocate staging directory")
		return
	}
	op.StagingPath = staging
	op.DestinationPath = o.resolveDestination(op)

	urls, err := o.repo.GetDownloadURLs(ctx, op.Asset)
	if err != nil {
		if ctx.Err() != nil {
			op.finish(api.StatusCancelled, nil)
			return
		}
		op.finish(api.StatusError, fmt.Errorf("failed to get download URLs: %w", err))
		log.WithError(err).Error("failed to get download URLs")
		return
	}

	requests := make([]FileRequest, 0, len(op.Asset.Files))
	for _, f := range op.Asset.Files {
		ref, ok := urls[f.Path]
		if !ok {
			op.finish(api.StatusError, fmt.Errorf("no byte source for file %s", f.Path))
			log.Errorf("remote offered no byte source for %s", f.Path)
			return
		}
		req := FileRequest{
			RemotePath:  f.Path,
			Ref:         ref,
			StagingPath: filepath.Join(staging, filepath.FromSlash(f.Path)),
			FinalPath:   filepath.Join(op.DestinationPath, filepath.FromSlash(f.Path)),
		}
		// Lay out the staging tree now so the download pass does pure
		// byte transfer.
		if err := o.fs.MkdirAll(filepath.Dir(req.StagingPath)); err != nil {
			op.finish(api.StatusError, err)
			log.WithError(err).Error("failed to lay out staging tree")
			return
		}
		requests = append(requests, req)
	}
	op.Requests = requests
	log.Debugf("staged %d file requests", len(requests))
}

// resolveDestination picks the final directory. A replacing import keeps
// the asset's own prior location; otherwise an occupied path gets a
// numeric disambiguator appended. Chosen paths are reserved so two new
// assets with the same display name in one batch never collide before
// commit creates their directories.
func (o *Orchestrator) resolveDestination(op *Operation) string {
	base := conflict.DestinationDir(o.cfg.DestinationRoot, op.Asset)
	if op.Existed {
		return base
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	candidate := base
	for n := 1; o.fs.Exists(candidate) || o.reserved[candidate]; n++ {
		candidate = fmt.Sprintf("%s %d", base, n)
	}
	o.reserved[candidate] = true
	return candidate
}

// downloadOperation transfers every file of the operation into staging,
// hashing content as it streams.
func (o *Orchestrator) downloadOperation(ctx context.Context, op *Operation) {
	if op.Status() != api.StatusInProgress {
		return
	}
	if ctx.Err() != nil {
		op.finish(api.StatusCancelled, nil)
		return
	}

	for i := range op.Requests {
		if err := o.transferFile(ctx, &op.Requests[i]); err != nil {
			if ctx.Err() != nil {
				op.finish(api.StatusCancelled, nil)
				return
			}
			if o.metrics != nil {
				o.metrics.TransferErrorsTotal.Inc()
			}
			op.finish(api.StatusError, err)
			o.logger.WithError(err).Errorf("transfer failed for %s", op.Asset.ID.String())
			return
		}
	}
}

func (o *Orchestrator) transferFile(ctx context.Context, req *FileRequest) error {
	if o.metrics != nil {
		o.metrics.TransfersInFlight.Inc()
		defer o.metrics.TransfersInFlight.Dec()
	}

	src, err := o.repo.Download(ctx, req.Ref)
	if err != nil {
		return fmt.Errorf("failed to open byte source for %s: %w", req.RemotePath, err)
	}
	defer src.Close()

	dst, err := o.fs.CreateFile(req.StagingPath)
	if err != nil {
		return err
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, hasher), src)
	closeErr := dst.Close()
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", req.RemotePath, err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to finalize %s: %w", req.RemotePath, closeErr)
	}

	req.Checksum = hex.EncodeToString(hasher.Sum(nil))
	req.SizeBytes = n
	if o.metrics != nil {
		o.metrics.TransferFilesTotal.Inc()
		o.metrics.TransferBytesTotal.Add(float64(n))
	}
	return nil
}

// commitOperation swaps staged files into the final destination and
// records the import in the index. For a replacing import the prior
// files are first relocated to a scratch path; if the swap fails they
// are restored best-effort.
func (o *Orchestrator) commitOperation(ctx context.Context, op *Operation) {
	if op.Status() != api.StatusInProgress {
		return
	}
	if ctx.Err() != nil {
		op.finish(api.StatusCancelled, nil)
		return
	}
	log := observability.FromContext(ctx).WithField("asset", op.Asset.ID.String())

	var (
		scratch  string
		restored []restoreEntry
	)
	if op.Existed {
		var err error
		scratch, restored, err = o.relocatePrior(op)
		if err != nil {
			op.finish(api.StatusError, err)
			log.WithError(err).Error("failed to relocate prior files")
			return
		}
	}

	for _, req := range op.Requests {
		if err := o.fs.Move(req.StagingPath, req.FinalPath); err != nil {
			o.restorePrior(restored, log)
			op.finish(api.StatusError, fmt.Errorf("failed to commit %s: %w", req.RemotePath, err))
			log.WithError(err).Error("commit failed, prior files restored")
			return
		}
	}
	if scratch != "" {
		if err := o.fs.DeleteDir(scratch); err != nil {
			// Leftover scratch is disk litter, not an import failure.
			log.WithError(err).Warn("failed to clean scratch path")
		}
	}

	info := o.buildImportedInfo(op)
	if err := o.idx.Upsert(info); err != nil {
		if o.metrics != nil {
			o.metrics.IndexWriteErrsTotal.Inc()
		}
		op.finish(api.StatusError, fmt.Errorf("failed to record import: %w", err))
		log.WithError(err).Error("failed to record import in index")
		return
	}
	if o.metrics != nil {
		o.metrics.IndexWritesTotal.WithLabelValues("upsert").Inc()
	}
	o.idx.CacheRemote(op.Asset)

	if err := o.fs.DeleteDir(op.StagingPath); err != nil {
		log.WithError(err).Warn("failed to clean staging path")
	}
	op.finish(api.StatusSuccess, nil)
	log.Infof("imported %s (%d files)", op.Asset.ID.String(), len(op.Requests))
}

type restoreEntry struct {
	scratchPath  string
	originalPath string
}

// relocatePrior moves the asset's previously imported files to a scratch
// path so they stay restorable until the new files are in place.
func (o *Orchestrator) relocatePrior(op *Operation) (string, []restoreEntry, error) {
	prior := o.idx.Lookup(op.Asset.ID)
	if prior == nil {
		return "", nil, nil
	}
	scratch, err := o.fs.TempDir("replace-")
	if err != nil {
		return "", nil, err
	}

	var moved []restoreEntry
	for _, f := range prior.Files {
		path, ok := o.mapper.PathFromGuid(f.Guid)
		if !ok || !o.fs.Exists(path) {
			continue
		}
		rel, err := filepath.Rel(o.cfg.DestinationRoot, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(path)
		}
		dst := filepath.Join(scratch, rel)
		if err := o.fs.Move(path, dst); err != nil {
			o.restorePrior(moved, o.logger)
			return "", nil, err
		}
		moved = append(moved, restoreEntry{scratchPath: dst, originalPath: path})

		// Folded companion follows its primary.
		if f.MetaChecksum != "" && o.fs.Exists(path+".meta") {
			if err := o.fs.Move(path+".meta", dst+".meta"); err != nil {
				o.restorePrior(moved, o.logger)
				return "", nil, err
			}
			moved = append(moved, restoreEntry{scratchPath: dst + ".meta", originalPath: path + ".meta"})
		}
	}
	return scratch, moved, nil
}

// restorePrior moves relocated files back, best effort.
func (o *Orchestrator) restorePrior(entries []restoreEntry, log *observability.Logger) {
	for _, e := range entries {
		if err := o.fs.Move(e.scratchPath, e.originalPath); err != nil {
			log.WithError(err).Warnf("failed to restore %s", e.originalPath)
		}
	}
}

// buildImportedInfo assembles the index record: one ImportedFileInfo per
// transferred file in request order. Companion metadata files
// (<path>.meta) fold into their primary file's entry instead of being
// tracked standalone, so guid ownership counts real assets only. A
// .meta file without a primary is an ordinary file.
func (o *Orchestrator) buildImportedInfo(op *Operation) *api.ImportedAssetInfo {
	now := time.Now().UTC()
	byPath := make(map[string]*FileRequest, len(op.Requests))
	for i := range op.Requests {
		byPath[op.Requests[i].RemotePath] = &op.Requests[i]
	}

	files := make([]api.ImportedFileInfo, 0, len(op.Requests))
	for i := range op.Requests {
		req := &op.Requests[i]
		if primary := strings.TrimSuffix(req.RemotePath, ".meta"); primary != req.RemotePath {
			if _, ok := byPath[primary]; ok {
				continue
			}
		}
		fi := api.ImportedFileInfo{
			Guid:       o.mapper.GuidFromPath(req.FinalPath),
			RemotePath: req.RemotePath,
			Checksum:   req.Checksum,
			Timestamp:  now,
		}
		if meta, ok := byPath[req.RemotePath+".meta"]; ok {
			fi.MetaChecksum = meta.Checksum
			fi.MetaTimestamp = now
		}
		files = append(files, fi)
	}

	return &api.ImportedAssetInfo{
		Asset:      *op.Asset,
		Files:      files,
		ImportedAt: now,
	}
}

// finalizeBulk drives every operation to a terminal state, releases the
// live map slots, records metrics, and folds the batch into the recent
// list: a fully successful batch auto-clears, anything else is retained
// for inspection until explicitly cleared.
func (o *Orchestrator) finalizeBulk(ctx context.Context, bulk *BulkOperation) {
	for _, op := range bulk.Operations() {
		if !op.Status().Terminal() {
			if ctx.Err() != nil {
				op.finish(api.StatusCancelled, nil)
			} else {
				op.finish(api.StatusError, errors.New("operation did not complete"))
			}
		}
		if op.Status() != api.StatusSuccess && op.StagingPath != "" {
			if err := o.fs.DeleteDir(op.StagingPath); err != nil {
				o.logger.WithError(err).Warnf("failed to clean staging for %s", op.Asset.ID.String())
			}
		}

		o.mu.Lock()
		if o.live[op.Asset.ID.Tracked()] == op {
			delete(o.live, op.Asset.ID.Tracked())
		}
		// Committed directories exist on disk now; failed ones free the
		// name again. Replacing imports never reserved theirs.
		if !op.Existed {
			delete(o.reserved, op.DestinationPath)
		}
		o.mu.Unlock()

		if o.metrics != nil {
			o.metrics.ImportsTotal.WithLabelValues(op.Kind.String(), op.Status().String()).Inc()
			o.metrics.ImportDuration.WithLabelValues(op.Kind.String()).Observe(op.Duration().Seconds())
		}
	}
	if o.metrics != nil {
		o.metrics.TrackedAssetsTotal.Set(float64(o.idx.Len()))
	}

	bulk.markFinished()

	if bulk.Status() == api.StatusSuccess {
		o.mu.Lock()
		for i, b := range o.recent {
			if b == bulk {
				o.recent = append(o.recent[:i], o.recent[i+1:]...)
				break
			}
		}
		o.mu.Unlock()
	}
}

// CancelBulk cancels an in-flight batch, consulting ConfirmCancel first
// when configured. Returns whether cancellation proceeded.
func (o *Orchestrator) CancelBulk(bulk *BulkOperation) bool {
	if o.ConfirmCancel != nil && !o.ConfirmCancel() {
		return false
	}
	bulk.Cancel()
	return true
}

// LiveOperations snapshots the currently live operations.
func (o *Orchestrator) LiveOperations() []OperationSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snaps := make([]OperationSnapshot, 0, len(o.live))
	for _, op := range o.live {
		snaps = append(snaps, op.Snapshot())
	}
	return snaps
}

// Recent returns the retained batches (running, or finished with
// failures awaiting dismissal).
func (o *Orchestrator) Recent() []*BulkOperation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*BulkOperation, len(o.recent))
	copy(out, o.recent)
	return out
}

// FindBulk returns the retained batch with the given ID, if any.
func (o *Orchestrator) FindBulk(id string) (*BulkOperation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.recent {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

// ClearFinished dismisses every finished batch from the recent list.
func (o *Orchestrator) ClearFinished() {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.recent[:0]
	for _, b := range o.recent {
		if b.Status() == api.StatusInProgress {
			kept = append(kept, b)
		}
	}
	o.recent = kept
}
