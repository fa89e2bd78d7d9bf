package resolver

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ParseLogLevel("error"), io.Discard)
}

func id(asset, version string) api.AssetIdentifier {
	return api.AssetIdentifier{OrgID: "o", ProjectID: "p", AssetID: asset, Version: version}
}

// fakeRepo serves canned snapshots keyed by full identifier, with a
// separate latest snapshot per asset identity.
type fakeRepo struct {
	assets map[string]*api.AssetData
	latest map[string]*api.AssetData
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		assets: make(map[string]*api.AssetData),
		latest: make(map[string]*api.AssetData),
	}
}

func (r *fakeRepo) add(asset, version string, seq int64, deps ...api.AssetIdentifier) *api.AssetData {
	data := &api.AssetData{
		ID:             id(asset, version),
		SequenceNumber: seq,
		Name:           asset,
		Dependencies:   deps,
	}
	r.assets[data.ID.String()] = data
	prev, ok := r.latest[data.ID.Tracked().Key()]
	if !ok || seq > prev.SequenceNumber {
		r.latest[data.ID.Tracked().Key()] = data
	}
	return data
}

func (r *fakeRepo) GetAsset(ctx context.Context, aid api.AssetIdentifier) (*api.AssetData, error) {
	if data, ok := r.assets[aid.String()]; ok {
		copied := *data
		return &copied, nil
	}
	return nil, api.ErrAssetUnavailable
}

func (r *fakeRepo) GetLatestVersion(ctx context.Context, aid api.AssetIdentifier) (*api.AssetData, error) {
	if data, ok := r.latest[aid.Tracked().Key()]; ok {
		copied := *data
		return &copied, nil
	}
	return nil, api.ErrAssetUnavailable
}

func (r *fakeRepo) GetDependencies(ctx context.Context, aid api.AssetIdentifier) ([]api.AssetIdentifier, error) {
	var data *api.AssetData
	var ok bool
	if aid.Version == "" {
		data, ok = r.latest[aid.Tracked().Key()]
	} else {
		data, ok = r.assets[aid.String()]
	}
	if !ok {
		return nil, api.ErrAssetUnavailable
	}
	return data.Dependencies, nil
}

func (r *fakeRepo) GetDownloadURLs(ctx context.Context, asset *api.AssetData) (map[string]string, error) {
	return map[string]string{}, nil
}

func (r *fakeRepo) Download(ctx context.Context, ref string) (io.ReadCloser, error) {
	return nil, api.ErrAssetUnavailable
}

func TestResolve_CyclicGraphTerminates(t *testing.T) {
	repo := newFakeRepo()
	repo.add("a", "1", 1, id("b", "1"))
	repo.add("b", "1", 1, id("c", "1"))
	repo.add("c", "1", 1, id("a", "1"))

	r := New(repo, testLogger())
	resolved, err := r.Resolve(context.Background(), []api.AssetIdentifier{id("a", "1")}, api.KindImport, nil)
	require.NoError(t, err)

	names := make([]string, 0, len(resolved))
	for _, asset := range resolved {
		names = append(names, asset.ID.AssetID)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, names)
}

func TestResolve_SequenceNumberWins(t *testing.T) {
	// Two roots reach the same asset at different versions. The snapshot
	// with the higher sequence number must win regardless of which path
	// is walked first.
	build := func() *fakeRepo {
		repo := newFakeRepo()
		repo.add("r1", "1", 1, id("x", "1"))
		repo.add("r2", "1", 1, id("x", "2"))
		repo.add("x", "1", 3)
		repo.add("x", "2", 5)
		return repo
	}

	for _, roots := range [][]api.AssetIdentifier{
		{id("r1", "1"), id("r2", "1")},
		{id("r2", "1"), id("r1", "1")},
	} {
		r := New(build(), testLogger())
		resolved, err := r.Resolve(context.Background(), roots, api.KindImport, nil)
		require.NoError(t, err)

		var x *api.AssetData
		for _, asset := range resolved {
			if asset.ID.AssetID == "x" {
				require.Nil(t, x, "x must be reconciled to a single snapshot")
				x = asset
			}
		}
		require.NotNil(t, x)
		assert.Equal(t, int64(5), x.SequenceNumber)
		assert.Equal(t, "2", x.ID.Version)
	}
}

func TestResolve_UnavailableAssetsSkipped(t *testing.T) {
	repo := newFakeRepo()
	repo.add("a", "1", 1, id("gone", "1"))

	r := New(repo, testLogger())

	t.Run("missing dependency", func(t *testing.T) {
		resolved, err := r.Resolve(context.Background(), []api.AssetIdentifier{id("a", "1")}, api.KindImport, nil)
		require.NoError(t, err)
		require.Len(t, resolved, 1)
		assert.Equal(t, "a", resolved[0].ID.AssetID)
	})

	t.Run("missing root", func(t *testing.T) {
		resolved, err := r.Resolve(context.Background(), []api.AssetIdentifier{id("ghost", "1"), id("a", "1")}, api.KindImport, nil)
		require.NoError(t, err)
		require.Len(t, resolved, 1)
	})
}

func TestResolve_InvalidIdentifier(t *testing.T) {
	r := New(newFakeRepo(), testLogger())
	_, err := r.Resolve(context.Background(), []api.AssetIdentifier{{OrgID: "o"}}, api.KindImport, nil)
	assert.True(t, errors.Is(err, api.ErrInvalidIdentifier))
}

func TestResolve_ProgressCountsRootDirectDeps(t *testing.T) {
	repo := newFakeRepo()
	repo.add("root", "1", 1, id("d1", "1"), id("d2", "1"))
	repo.add("d1", "1", 1, id("d1a", "1"))
	repo.add("d1a", "1", 1)
	repo.add("d2", "1", 1)

	var last Progress
	r := New(repo, testLogger())
	resolved, err := r.Resolve(context.Background(), []api.AssetIdentifier{id("root", "1")}, api.KindImport, func(p Progress) {
		last = p
	})
	require.NoError(t, err)
	require.Len(t, resolved, 4)

	// Transitive dependencies do not widen the denominator.
	assert.Equal(t, Progress{Loaded: 2, Total: 2}, last)
}

func TestResolve_UpdateToLatestAppliesToRootsOnly(t *testing.T) {
	repo := newFakeRepo()
	repo.add("root", "1", 1, id("dep", "1"))
	repo.add("root", "2", 9, id("dep", "1"))
	repo.add("dep", "1", 1)
	repo.add("dep", "2", 9)

	r := New(repo, testLogger())
	resolved, err := r.Resolve(context.Background(), []api.AssetIdentifier{id("root", "1")}, api.KindUpdateToLatest, nil)
	require.NoError(t, err)
	require.Len(t, resolved, 2)

	byName := make(map[string]string)
	for _, asset := range resolved {
		byName[asset.ID.AssetID] = asset.ID.Version
	}
	assert.Equal(t, "2", byName["root"], "requested root must update to latest")
	assert.Equal(t, "1", byName["dep"], "dependencies must stay pinned")
}

func TestResolve_UpdateToLatestUsesLatestDependencies(t *testing.T) {
	// A pinned root routed to latest must carry the latest snapshot's
	// dependency set, not the dependencies declared by the pinned version.
	repo := newFakeRepo()
	repo.add("root", "1", 1, id("olddep", "1"))
	repo.add("root", "2", 9, id("newdep", "1"))
	repo.add("olddep", "1", 1)
	repo.add("newdep", "1", 1)

	r := New(repo, testLogger())
	resolved, err := r.Resolve(context.Background(), []api.AssetIdentifier{id("root", "1")}, api.KindUpdateToLatest, nil)
	require.NoError(t, err)

	names := make([]string, 0, len(resolved))
	for _, asset := range resolved {
		names = append(names, asset.ID.AssetID)
	}
	assert.ElementsMatch(t, []string{"root", "newdep"}, names)
}

func TestResolve_Cancelled(t *testing.T) {
	repo := newFakeRepo()
	repo.add("a", "1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(repo, testLogger())
	_, err := r.Resolve(ctx, []api.AssetIdentifier{id("a", "1")}, api.KindImport, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}
