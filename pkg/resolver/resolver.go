package resolver

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/observability"
)

// Progress reports how many of the root set's direct dependencies have
// been loaded. The transitive total is unknown until resolution finishes,
// so Total only counts direct dependencies of the requested assets.
type Progress struct {
	Loaded int
	Total  int
}

// ProgressFunc receives progress updates during resolution. May be nil.
type ProgressFunc func(Progress)

// Result is one discovered asset, yielded as soon as it is fetched.
type Result struct {
	Asset *api.AssetData
	Err   error
}

// Resolver expands a set of requested assets into the full deduplicated
// set of assets plus transitive dependencies needed locally.
type Resolver struct {
	repo   api.RemoteRepository
	logger *observability.Logger
}

// New creates a Resolver over the remote repository.
func New(repo api.RemoteRepository, logger *observability.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger}
}

// Resolve drains Stream and reconciles duplicate versions: when two
// resolution paths yield the same asset at different versions, the
// snapshot with the higher sequence number wins regardless of discovery
// order. Equal sequence numbers keep the first-resolved snapshot.
//
// Cancellation surfaces as context.Canceled; callers map it to a
// Cancelled status rather than an error.
func (r *Resolver) Resolve(ctx context.Context, requested []api.AssetIdentifier, kind api.ImportKind, progress ProgressFunc) ([]*api.AssetData, error) {
	resolved := make(map[api.TrackedAssetIdentifier]*api.AssetData)
	order := make([]api.TrackedAssetIdentifier, 0, len(requested))

	for result := range r.Stream(ctx, requested, kind, progress) {
		if result.Err != nil {
			return nil, result.Err
		}
		tracked := result.Asset.ID.Tracked()
		prev, ok := resolved[tracked]
		if !ok {
			resolved[tracked] = result.Asset
			order = append(order, tracked)
			continue
		}
		if result.Asset.SequenceNumber > prev.SequenceNumber {
			resolved[tracked] = result.Asset
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]*api.AssetData, 0, len(order))
	for _, tracked := range order {
		out = append(out, resolved[tracked])
	}
	return out, nil
}

// workItem is one pending traversal step.
type workItem struct {
	id api.AssetIdentifier
	// rootDirect marks a direct dependency of the requested set; these
	// are the only items counted toward progress.
	rootDirect bool
}

// Stream walks the dependency graph depth-first per branch, yielding each
// discovered asset as soon as its snapshot is fetched rather than
// buffering until the whole graph is known. A visited set over full
// identifiers guarantees termination on cyclic graphs: an identifier
// reached by a second path is never re-expanded.
//
// Assets the remote reports missing or forbidden are skipped, not fatal;
// any other fetch failure terminates the stream with that error.
func (r *Resolver) Stream(ctx context.Context, requested []api.AssetIdentifier, kind api.ImportKind, progress ProgressFunc) <-chan Result {
	out := make(chan Result)

	go func() {
		defer close(out)

		visited := make(map[api.AssetIdentifier]struct{})
		prog := Progress{}
		report := func() {
			if progress != nil {
				progress(prog)
			}
		}

		emit := func(asset *api.AssetData) bool {
			select {
			case out <- Result{Asset: asset}:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			select {
			case out <- Result{Err: err}:
			case <-ctx.Done():
			}
		}

		stack := make([]workItem, 0, len(requested))

		// Roots first: fetch each requested asset and seed the stack
		// with its direct dependencies. The direct-dependency count of
		// the root set is the progress denominator.
		for _, id := range requested {
			if ctx.Err() != nil {
				return
			}
			if !id.IsValid() {
				fail(fmt.Errorf("requested asset %s: %w", id.String(), api.ErrInvalidIdentifier))
				return
			}
			asset, err := r.fetch(ctx, id, kind)
			if err != nil {
				if errors.Is(err, api.ErrAssetUnavailable) {
					r.logger.Warnf("requested asset %s is unavailable, skipping", id.String())
					continue
				}
				if ctx.Err() != nil {
					return
				}
				fail(err)
				return
			}
			visited[asset.ID] = struct{}{}
			if !emit(asset) {
				return
			}
			prog.Total += len(asset.Dependencies)
			// Depth-first per branch: push in reverse so the first
			// declared dependency is expanded first.
			for i := len(asset.Dependencies) - 1; i >= 0; i-- {
				stack = append(stack, workItem{id: asset.Dependencies[i], rootDirect: true})
			}
		}
		report()

		for len(stack) > 0 {
			if ctx.Err() != nil {
				return
			}
			item := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if _, seen := visited[item.id]; seen {
				if item.rootDirect {
					prog.Loaded++
					report()
				}
				continue
			}
			visited[item.id] = struct{}{}

			// Dependencies always pin a concrete version; UpdateToLatest
			// applies to the requested roots only.
			asset, err := r.fetch(ctx, item.id, api.KindImport)
			if item.rootDirect {
				prog.Loaded++
				report()
			}
			if err != nil {
				if errors.Is(err, api.ErrAssetUnavailable) {
					r.logger.Warnf("dependency %s is unavailable, skipping", item.id.String())
					continue
				}
				if ctx.Err() != nil {
					return
				}
				fail(err)
				return
			}
			// The fetched snapshot may carry a different version than the
			// declared identifier; mark both visited.
			visited[asset.ID] = struct{}{}

			if !emit(asset) {
				return
			}
			for i := len(asset.Dependencies) - 1; i >= 0; i-- {
				stack = append(stack, workItem{id: asset.Dependencies[i]})
			}
		}
	}()

	return out
}

// fetch retrieves the snapshot for id and concurrently refreshes its
// declared dependency identifiers, merging them into the returned data.
func (r *Resolver) fetch(ctx context.Context, id api.AssetIdentifier, kind api.ImportKind) (*api.AssetData, error) {
	var (
		asset *api.AssetData
		deps  []api.AssetIdentifier
	)
	latest := kind == api.KindUpdateToLatest || id.Version == ""

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if latest {
			asset, err = r.repo.GetLatestVersion(gctx, id)
		} else {
			asset, err = r.repo.GetAsset(gctx, id)
		}
		if err != nil {
			return fmt.Errorf("failed to fetch asset %s: %w", id.String(), err)
		}
		return nil
	})
	g.Go(func() error {
		// The dependency lookup must match the snapshot the other branch
		// resolves: a pinned identifier routed to latest would otherwise
		// pair the newest content with a stale dependency set.
		depID := id
		if latest {
			depID.Version = ""
		}
		var err error
		deps, err = r.repo.GetDependencies(gctx, depID)
		if err != nil {
			// Missing dependency metadata degrades to "no dependencies"
			// only when the asset itself is gone; the asset fetch above
			// reports that. Other failures propagate.
			if errors.Is(err, api.ErrAssetUnavailable) {
				deps = nil
				return nil
			}
			return fmt.Errorf("failed to fetch dependencies of %s: %w", id.String(), err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(deps) > 0 {
		asset.Dependencies = deps
	}
	return asset, nil
}
