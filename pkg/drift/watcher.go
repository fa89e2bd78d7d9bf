package drift

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/index"
	"github.com/platinummonkey/stash/pkg/observability"
)

// Watcher detects external file-system drift under the destination root:
// files deleted or renamed outside stash are dropped from their owning
// index entries, and an asset whose last file disappears is untracked.
type Watcher struct {
	idx     *index.LocalAssetIndex
	fs      api.FileSystem
	mapper  api.PathMapper
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates a Watcher. metrics may be nil.
func New(idx *index.LocalAssetIndex, fs api.FileSystem, mapper api.PathMapper, logger *observability.Logger, metrics *observability.Metrics) *Watcher {
	return &Watcher{idx: idx, fs: fs, mapper: mapper, logger: logger, metrics: metrics}
}

// Watch blocks consuming file-system events under root until ctx is
// done. New directories are added to the watch as they appear.
func (w *Watcher) Watch(ctx context.Context, root string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := addRecursive(fw, root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("file watcher error")
		}
	}
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.Add(event.Name); err != nil {
				w.logger.WithError(err).Warnf("failed to watch new directory %s", event.Name)
			}
		}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.count("removed")
		w.fileGone(event.Name)
	}
}

// fileGone synchronizes the index after a tracked file vanished from
// disk.
func (w *Watcher) fileGone(path string) {
	guid := w.mapper.GuidFromPath(path)
	owners := w.idx.Owners(guid)
	if len(owners) == 0 {
		return
	}
	w.logger.Infof("tracked file externally deleted: %s", path)

	for _, owner := range owners {
		w.dropFile(owner, guid)
	}
	w.mapper.Forget(guid)
}

// dropFile removes one file from an owner's entry, untracking the asset
// entirely when its last file goes.
func (w *Watcher) dropFile(owner api.TrackedAssetIdentifier, guid string) {
	entry := w.idx.LookupTracked(owner)
	if entry == nil {
		return
	}

	kept := make([]api.ImportedFileInfo, 0, len(entry.Files))
	for _, f := range entry.Files {
		if f.Guid != guid {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(entry.Files) {
		return
	}

	if len(kept) == 0 {
		if err := w.idx.Remove(owner.WithVersion("")); err != nil {
			w.logger.WithError(err).Warnf("failed to untrack %s after external deletion", owner.Key())
		}
		w.count("asset_untracked")
		return
	}

	updated := *entry
	updated.Files = kept
	if err := w.idx.Upsert(&updated); err != nil {
		w.logger.WithError(err).Warnf("failed to update %s after external deletion", owner.Key())
	}
}

// Scan reconciles the whole index against disk in one pass, dropping
// every tracked file that no longer exists. Used by the daemon's
// scheduled drift sweep and at startup.
func (w *Watcher) Scan(ctx context.Context) error {
	for _, entry := range w.idx.All() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, f := range entry.Files {
			path, ok := w.mapper.PathFromGuid(f.Guid)
			if !ok {
				continue
			}
			if !w.fs.Exists(path) {
				w.count("scan_removed")
				w.dropFile(entry.Asset.ID.Tracked(), f.Guid)
			}
		}
	}
	return nil
}

func (w *Watcher) count(eventType string) {
	if w.metrics != nil {
		w.metrics.DriftEventsTotal.WithLabelValues(eventType).Inc()
	}
}
