package index

import (
	"fmt"
	"sync"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/observability"
)

// Change is the payload delivered to subscribers whenever index state
// mutates. Each set holds the tracked identities affected by the mutation.
type Change struct {
	Added   []api.TrackedAssetIdentifier
	Removed []api.TrackedAssetIdentifier
	Updated []api.TrackedAssetIdentifier
}

// Empty reports whether the change carries no identities.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Updated) == 0
}

// Subscriber receives index change notifications. Dispatch is synchronous
// on the mutating call; subscribers must not mutate the index re-entrantly.
type Subscriber interface {
	OnIndexChanged(Change)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(Change)

func (f SubscriberFunc) OnIndexChanged(c Change) { f(c) }

// LocalAssetIndex maps version-erased asset identities to their imported
// state, maintains a reverse file-guid index, and caches the latest known
// remote metadata per asset.
//
// At most one ImportedAssetInfo exists per tracked identity; Upsert
// replaces, never duplicates. Guid associations are rebuilt on every
// Upsert so stale entries are never retained.
type LocalAssetIndex struct {
	mu      sync.RWMutex
	entries map[api.TrackedAssetIdentifier]*api.ImportedAssetInfo
	// byGuid maps a file guid to every tracked asset referencing it.
	// Cross-asset file sharing means one guid can have multiple owners.
	byGuid map[string]map[api.TrackedAssetIdentifier]struct{}
	// remoteCache mirrors the latest known remote metadata. Cleared on
	// authentication loss; the import tracking above persists.
	remoteCache map[api.TrackedAssetIdentifier]*api.AssetData

	store  Store
	logger *observability.Logger

	subMu  sync.Mutex
	subs   map[int]Subscriber
	nextID int
}

// New creates an empty index. store may be nil for a purely in-memory
// index (tests); logger must not be nil.
func New(store Store, logger *observability.Logger) *LocalAssetIndex {
	return &LocalAssetIndex{
		entries:     make(map[api.TrackedAssetIdentifier]*api.ImportedAssetInfo),
		byGuid:      make(map[string]map[api.TrackedAssetIdentifier]struct{}),
		remoteCache: make(map[api.TrackedAssetIdentifier]*api.AssetData),
		store:       store,
		logger:      logger,
		subs:        make(map[int]Subscriber),
	}
}

// Subscribe registers a subscriber and returns a function that removes it.
func (x *LocalAssetIndex) Subscribe(s Subscriber) func() {
	x.subMu.Lock()
	defer x.subMu.Unlock()
	id := x.nextID
	x.nextID++
	x.subs[id] = s
	return func() {
		x.subMu.Lock()
		defer x.subMu.Unlock()
		delete(x.subs, id)
	}
}

func (x *LocalAssetIndex) notify(c Change) {
	if c.Empty() {
		return
	}
	x.subMu.Lock()
	subs := make([]Subscriber, 0, len(x.subs))
	for _, s := range x.subs {
		subs = append(subs, s)
	}
	x.subMu.Unlock()
	for _, s := range subs {
		s.OnIndexChanged(c)
	}
}

// Lookup returns the imported state for the asset identity, ignoring the
// identifier's version. A syntactically invalid identifier yields nil.
func (x *LocalAssetIndex) Lookup(id api.AssetIdentifier) *api.ImportedAssetInfo {
	if !id.IsValid() {
		return nil
	}
	return x.LookupTracked(id.Tracked())
}

// LookupTracked returns the imported state for a tracked identity, or nil.
func (x *LocalAssetIndex) LookupTracked(t api.TrackedAssetIdentifier) *api.ImportedAssetInfo {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.entries[t]
}

// Owners returns every tracked asset referencing the file guid.
func (x *LocalAssetIndex) Owners(guid string) []api.TrackedAssetIdentifier {
	x.mu.RLock()
	defer x.mu.RUnlock()
	owners := make([]api.TrackedAssetIdentifier, 0, len(x.byGuid[guid]))
	for t := range x.byGuid[guid] {
		owners = append(owners, t)
	}
	return owners
}

// All returns a snapshot of every tracked entry.
func (x *LocalAssetIndex) All() []*api.ImportedAssetInfo {
	x.mu.RLock()
	defer x.mu.RUnlock()
	all := make([]*api.ImportedAssetInfo, 0, len(x.entries))
	for _, info := range x.entries {
		all = append(all, info)
	}
	return all
}

// Len returns the number of tracked assets.
func (x *LocalAssetIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Upsert inserts or replaces the entry for info's tracked identity and
// rebuilds its guid-index contributions: stale associations are removed
// before current ones are added. Written through to the persisted store
// before the in-memory state mutates.
func (x *LocalAssetIndex) Upsert(info *api.ImportedAssetInfo) error {
	if info == nil || !info.Asset.ID.IsValid() {
		return api.ErrInvalidIdentifier
	}
	tracked := info.Asset.ID.Tracked()

	if x.store != nil {
		if err := x.store.Save(info); err != nil {
			return fmt.Errorf("failed to persist index entry for %s: %w", tracked.Key(), err)
		}
	}

	x.mu.Lock()
	_, existed := x.entries[tracked]
	x.removeGuidContributionsLocked(tracked)
	x.entries[tracked] = info
	x.addGuidContributionsLocked(tracked, info)
	x.mu.Unlock()

	change := Change{}
	if existed {
		change.Updated = []api.TrackedAssetIdentifier{tracked}
	} else {
		change.Added = []api.TrackedAssetIdentifier{tracked}
	}
	x.notify(change)
	return nil
}

// Remove deletes the tracked entry and all its guid associations. Removing
// an untracked identity is a no-op returning api.ErrNotTracked.
func (x *LocalAssetIndex) Remove(id api.AssetIdentifier) error {
	if !id.IsValid() {
		return api.ErrInvalidIdentifier
	}
	tracked := id.Tracked()

	x.mu.Lock()
	_, existed := x.entries[tracked]
	if !existed {
		x.mu.Unlock()
		return api.ErrNotTracked
	}
	x.removeGuidContributionsLocked(tracked)
	delete(x.entries, tracked)
	delete(x.remoteCache, tracked)
	x.mu.Unlock()

	if x.store != nil {
		if err := x.store.Delete(tracked); err != nil {
			// The in-memory removal stands; a stale file on disk is
			// reconciled at next load.
			x.logger.WithError(err).Warnf("failed to delete persisted entry for %s", tracked.Key())
		}
	}

	x.notify(Change{Removed: []api.TrackedAssetIdentifier{tracked}})
	return nil
}

// ApplyBatch replaces state in bulk, emitting one consolidated change
// event instead of one per entry. Used at startup load and by drift
// synchronization.
func (x *LocalAssetIndex) ApplyBatch(added, updated []*api.ImportedAssetInfo, removed []api.TrackedAssetIdentifier) {
	change := Change{}

	x.mu.Lock()
	for _, t := range removed {
		if _, ok := x.entries[t]; !ok {
			continue
		}
		x.removeGuidContributionsLocked(t)
		delete(x.entries, t)
		delete(x.remoteCache, t)
		change.Removed = append(change.Removed, t)
	}
	for _, info := range added {
		t := info.Asset.ID.Tracked()
		x.removeGuidContributionsLocked(t)
		x.entries[t] = info
		x.addGuidContributionsLocked(t, info)
		change.Added = append(change.Added, t)
	}
	for _, info := range updated {
		t := info.Asset.ID.Tracked()
		x.removeGuidContributionsLocked(t)
		x.entries[t] = info
		x.addGuidContributionsLocked(t, info)
		change.Updated = append(change.Updated, t)
	}
	x.mu.Unlock()

	x.notify(change)
}

// CacheRemote records the latest known remote metadata for an asset.
func (x *LocalAssetIndex) CacheRemote(data *api.AssetData) {
	if data == nil || !data.ID.IsValid() {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.remoteCache[data.ID.Tracked()] = data
}

// CachedRemote returns the cached remote metadata for an asset, if any.
func (x *LocalAssetIndex) CachedRemote(t api.TrackedAssetIdentifier) (*api.AssetData, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	data, ok := x.remoteCache[t]
	return data, ok
}

// OnAuthenticationLost clears the cached remote metadata mirror. Imported
// file tracking is untouched: only the "latest known remote" cache resets.
func (x *LocalAssetIndex) OnAuthenticationLost() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.remoteCache = make(map[api.TrackedAssetIdentifier]*api.AssetData)
}

func (x *LocalAssetIndex) addGuidContributionsLocked(t api.TrackedAssetIdentifier, info *api.ImportedAssetInfo) {
	for _, f := range info.Files {
		owners, ok := x.byGuid[f.Guid]
		if !ok {
			owners = make(map[api.TrackedAssetIdentifier]struct{})
			x.byGuid[f.Guid] = owners
		}
		owners[t] = struct{}{}
	}
}

func (x *LocalAssetIndex) removeGuidContributionsLocked(t api.TrackedAssetIdentifier) {
	info, ok := x.entries[t]
	if !ok {
		return
	}
	for _, f := range info.Files {
		owners := x.byGuid[f.Guid]
		delete(owners, t)
		if len(owners) == 0 {
			delete(x.byGuid, f.Guid)
		}
	}
}
