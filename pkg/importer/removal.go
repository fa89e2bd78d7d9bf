package importer

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/platinummonkey/stash/pkg/api"
)

// PathError records one on-disk path that failed to delete.
type PathError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// RemovalResult reports a removal batch in aggregate: partial success is
// allowed and communicated, never masked as total failure.
type RemovalResult struct {
	Removed     []api.TrackedAssetIdentifier `json:"removed"`
	NotTracked  []api.TrackedAssetIdentifier `json:"not_tracked,omitempty"`
	FailedPaths []PathError                  `json:"failed_paths,omitempty"`
}

// Remove untracks the given assets and deletes their owned files plus any
// now-empty ancestor directories up to the destination root.
//
// Files still referenced by an asset outside the removal batch are
// preserved, and so is their guid-index membership for the surviving
// owner. Untracking happens before physical deletion: a crash between
// the two leaves orphaned files on disk rather than dangling index
// entries.
func (o *Orchestrator) Remove(ctx context.Context, ids []api.AssetIdentifier) (*RemovalResult, error) {
	result := &RemovalResult{}

	batch := make(map[api.TrackedAssetIdentifier]*api.ImportedAssetInfo, len(ids))
	for _, id := range ids {
		if !id.IsValid() {
			return nil, api.ErrInvalidIdentifier
		}
		tracked := id.Tracked()
		entry := o.idx.LookupTracked(tracked)
		if entry == nil {
			result.NotTracked = append(result.NotTracked, tracked)
			continue
		}
		batch[tracked] = entry
	}

	// Resolve the delete set before untracking: a guid referenced by any
	// owner outside the batch stays on disk.
	type deleteItem struct {
		guid string
		path string
	}
	var deletes []deleteItem
	deleteDirs := make(map[string]struct{})
	for _, entry := range batch {
		for _, f := range entry.Files {
			if o.sharedOutsideBatch(f.Guid, batch) {
				o.logger.Debugf("preserving shared file %s (still referenced outside removal batch)", f.Guid)
				continue
			}
			path, ok := o.mapper.PathFromGuid(f.Guid)
			if !ok {
				continue
			}
			deletes = append(deletes, deleteItem{guid: f.Guid, path: path})
			if f.MetaChecksum != "" {
				// Folded companion file, tracked through its primary.
				deletes = append(deletes, deleteItem{path: path + ".meta"})
			}
			deleteDirs[filepath.Dir(path)] = struct{}{}
		}
	}

	// Untrack first. Index consistency is prioritized over disk
	// cleanliness.
	for tracked := range batch {
		if err := o.idx.Remove(tracked.WithVersion("")); err != nil {
			return nil, err
		}
		if o.metrics != nil {
			o.metrics.IndexWritesTotal.WithLabelValues("remove").Inc()
		}
		result.Removed = append(result.Removed, tracked)
	}

	// Delete files, attempting every remaining item and reporting
	// failures in aggregate.
	for _, d := range deletes {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := o.fs.Delete(d.path); err != nil {
			result.FailedPaths = append(result.FailedPaths, PathError{Path: d.path, Err: err.Error()})
			if o.metrics != nil {
				o.metrics.RemovalFailedPathsTotal.Inc()
			}
			continue
		}
		if d.guid != "" {
			o.mapper.Forget(d.guid)
		}
	}

	for dir := range deleteDirs {
		o.pruneEmptyAncestors(dir)
	}

	status := "success"
	if len(result.FailedPaths) > 0 {
		status = "partial"
		o.logger.Warnf("removal completed with %d undeletable paths", len(result.FailedPaths))
	}
	if o.metrics != nil {
		o.metrics.RemovalsTotal.WithLabelValues(status).Add(float64(len(result.Removed)))
		o.metrics.TrackedAssetsTotal.Set(float64(o.idx.Len()))
	}
	return result, nil
}

// sharedOutsideBatch reports whether the guid is still referenced by an
// asset that is not being removed.
func (o *Orchestrator) sharedOutsideBatch(guid string, batch map[api.TrackedAssetIdentifier]*api.ImportedAssetInfo) bool {
	for _, owner := range o.idx.Owners(guid) {
		if _, inBatch := batch[owner]; !inBatch {
			return true
		}
	}
	return false
}

// pruneEmptyAncestors walks from dir up to the destination root, deleting
// each directory that no longer contains any file.
func (o *Orchestrator) pruneEmptyAncestors(dir string) {
	root := filepath.Clean(o.cfg.DestinationRoot)
	for {
		dir = filepath.Clean(dir)
		if dir == root || !strings.HasPrefix(dir, root+string(filepath.Separator)) {
			return
		}
		remaining, err := o.fs.EnumerateFiles(dir)
		if err != nil || len(remaining) > 0 {
			return
		}
		if err := o.fs.DeleteDir(dir); err != nil {
			o.logger.WithError(err).Warnf("failed to prune empty directory %s", dir)
			return
		}
		dir = filepath.Dir(dir)
	}
}
