package conflict

import (
	"context"
	"path/filepath"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/index"
	"github.com/platinummonkey/stash/pkg/observability"
)

// Decision is the per-asset outcome for a conflicting import.
type Decision int

const (
	// DecisionReplace re-imports the asset, replacing local state.
	DecisionReplace Decision = iota
	// DecisionSkip leaves the local state untouched.
	DecisionSkip
)

func (d Decision) String() string {
	if d == DecisionSkip {
		return "skip"
	}
	return "replace"
}

// Decider obtains a decision per conflicting asset. It receives the whole
// classification so it can present requested assets and dependants
// separately. Assets absent from the returned map fall back to replace.
type Decider interface {
	Decide(ctx context.Context, c *Classification) (map[api.TrackedAssetIdentifier]Decision, error)
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(ctx context.Context, c *Classification) (map[api.TrackedAssetIdentifier]Decision, error)

func (f DeciderFunc) Decide(ctx context.Context, c *Classification) (map[api.TrackedAssetIdentifier]Decision, error) {
	return f(ctx, c)
}

// AssetResolution classifies one resolved asset against local state.
type AssetResolution struct {
	Asset *api.AssetData
	// Existed is true when the local index already tracks this asset
	// identity, at any version.
	Existed bool
	// FileConflicts lists the asset's files whose computed destination
	// path already exists on disk. Only populated for assets that do not
	// already exist in the index; file existence is the sole collision
	// signal, content is not compared here.
	FileConflicts []string
}

// RequiresDecision reports whether importing this asset needs an explicit
// replace-or-skip decision.
func (r AssetResolution) RequiresDecision() bool {
	return r.Existed || len(r.FileConflicts) > 0
}

// Classification splits resolved assets into those matching an originally
// requested identity and the dependants pulled in by resolution.
type Classification struct {
	Assets     []AssetResolution
	Dependants []AssetResolution
}

// All returns every resolution, requested assets first.
func (c *Classification) All() []AssetResolution {
	all := make([]AssetResolution, 0, len(c.Assets)+len(c.Dependants))
	all = append(all, c.Assets...)
	all = append(all, c.Dependants...)
	return all
}

// NeedsDecision reports whether any asset in scope already exists
// locally, which is what triggers consulting the Decider.
func (c *Classification) NeedsDecision() bool {
	for _, r := range c.All() {
		if r.Existed {
			return true
		}
	}
	return false
}

// Resolver classifies resolved assets against the local index and disk,
// then obtains replace-or-skip decisions for the conflicting ones.
type Resolver struct {
	idx     *index.LocalAssetIndex
	fs      api.FileSystem
	decider Decider
	logger  *observability.Logger
}

// New creates a Resolver. decider may be nil: the default policy is
// replace everything, failing open toward re-importing rather than
// silently skipping.
func New(idx *index.LocalAssetIndex, fs api.FileSystem, decider Decider, logger *observability.Logger) *Resolver {
	return &Resolver{idx: idx, fs: fs, decider: decider, logger: logger}
}

// DestinationDir computes the directory an asset's files import into:
// the destination root namespaced by the sanitized asset name. Conflict
// detection and the real import both use this function; divergent logic
// here would produce false conflict results.
func DestinationDir(destinationRoot string, asset *api.AssetData) string {
	folder := api.SanitizeFolderName(asset.Name)
	if folder == "" {
		folder = asset.ID.AssetID
	}
	return filepath.Join(destinationRoot, folder)
}

// DestinationFilePath computes the on-disk path for one remote-relative
// file path of an asset.
func DestinationFilePath(destinationRoot string, asset *api.AssetData, remotePath string) string {
	return filepath.Join(DestinationDir(destinationRoot, asset), filepath.FromSlash(remotePath))
}

// Classify files each resolved asset under Assets when it matches one of
// the originally requested identities (ignoring version), otherwise under
// Dependants, and computes its existence and file-conflict state.
func (r *Resolver) Classify(resolved []*api.AssetData, requested []api.AssetIdentifier, destinationRoot string) *Classification {
	requestedSet := make(map[api.TrackedAssetIdentifier]struct{}, len(requested))
	for _, id := range requested {
		requestedSet[id.Tracked()] = struct{}{}
	}

	c := &Classification{}
	for _, asset := range resolved {
		res := AssetResolution{Asset: asset}
		res.Existed = r.idx.Lookup(asset.ID) != nil
		if !res.Existed {
			for _, f := range asset.Files {
				if r.fs.Exists(DestinationFilePath(destinationRoot, asset, f.Path)) {
					res.FileConflicts = append(res.FileConflicts, f.Path)
				}
			}
		}

		if _, ok := requestedSet[asset.ID.Tracked()]; ok {
			c.Assets = append(c.Assets, res)
		} else {
			c.Dependants = append(c.Dependants, res)
		}
	}
	return c
}

// Decide returns exactly the assets to import: everything that did not
// require a decision, plus the conflicting assets decided Replace. The
// Decider is only consulted when some asset in scope already exists
// locally; without a Decider every conflict resolves to Replace.
func (r *Resolver) Decide(ctx context.Context, c *Classification) ([]*api.AssetData, error) {
	var decisions map[api.TrackedAssetIdentifier]Decision
	if c.NeedsDecision() && r.decider != nil {
		var err error
		decisions, err = r.decider.Decide(ctx, c)
		if err != nil {
			return nil, err
		}
	}

	accepted := make([]*api.AssetData, 0, len(c.Assets)+len(c.Dependants))
	for _, res := range c.All() {
		if !res.RequiresDecision() {
			accepted = append(accepted, res.Asset)
			continue
		}
		decision, ok := decisions[res.Asset.ID.Tracked()]
		if !ok {
			decision = DecisionReplace
		}
		if decision == DecisionReplace {
			accepted = append(accepted, res.Asset)
		} else {
			r.logger.Debugf("skipping %s by decision", res.Asset.ID.String())
		}
	}
	return accepted, nil
}
