package remote

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/platinummonkey/stash/pkg/api"
)

// countingRepo counts calls that reach the real repository.
type countingRepo struct {
	asset  int
	latest int
	deps   int
	urls   int
}

func (r *countingRepo) GetAsset(ctx context.Context, id api.AssetIdentifier) (*api.AssetData, error) {
	r.asset++
	return &api.AssetData{ID: id, SequenceNumber: 1}, nil
}

func (r *countingRepo) GetLatestVersion(ctx context.Context, id api.AssetIdentifier) (*api.AssetData, error) {
	r.latest++
	return &api.AssetData{ID: id.Tracked().WithVersion("9.9"), SequenceNumber: 9}, nil
}

func (r *countingRepo) GetDependencies(ctx context.Context, id api.AssetIdentifier) ([]api.AssetIdentifier, error) {
	r.deps++
	return nil, nil
}

func (r *countingRepo) GetDownloadURLs(ctx context.Context, asset *api.AssetData) (map[string]string, error) {
	r.urls++
	return map[string]string{}, nil
}

func (r *countingRepo) Download(ctx context.Context, ref string) (io.ReadCloser, error) {
	return nil, api.ErrAssetUnavailable
}

func cacheConfig() CacheConfig {
	return CacheConfig{MaxEntries: 16, SnapshotTTL: time.Minute, LatestTTL: time.Minute}
}

func TestCachedRepository_SnapshotCached(t *testing.T) {
	inner := &countingRepo{}
	c := NewCachedRepository(inner, cacheConfig(), nil)
	ctx := context.Background()

	id := testID("1.0")
	for i := 0; i < 3; i++ {
		if _, err := c.GetAsset(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if inner.asset != 1 {
		t.Errorf("Expected one upstream fetch, got %d", inner.asset)
	}

	// A different version is a different cache entry.
	if _, err := c.GetAsset(ctx, testID("2.0")); err != nil {
		t.Fatal(err)
	}
	if inner.asset != 2 {
		t.Errorf("Expected a second upstream fetch, got %d", inner.asset)
	}
}

func TestCachedRepository_LatestSeedsSnapshotCache(t *testing.T) {
	inner := &countingRepo{}
	c := NewCachedRepository(inner, cacheConfig(), nil)
	ctx := context.Background()

	latest, err := c.GetLatestVersion(ctx, testID(""))
	if err != nil {
		t.Fatal(err)
	}

	// Fetching the pinned version the latest lookup returned must not go
	// upstream again.
	if _, err := c.GetAsset(ctx, latest.ID); err != nil {
		t.Fatal(err)
	}
	if inner.asset != 0 {
		t.Errorf("Expected the latest lookup to seed the snapshot cache, got %d fetches", inner.asset)
	}
}

func TestCachedRepository_DependenciesCached(t *testing.T) {
	inner := &countingRepo{}
	c := NewCachedRepository(inner, cacheConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.GetDependencies(ctx, testID("1.0")); err != nil {
			t.Fatal(err)
		}
	}
	if inner.deps != 1 {
		t.Errorf("Expected one upstream dependency fetch, got %d", inner.deps)
	}
}

func TestCachedRepository_DownloadURLsNeverCached(t *testing.T) {
	inner := &countingRepo{}
	c := NewCachedRepository(inner, cacheConfig(), nil)
	ctx := context.Background()

	asset := &api.AssetData{ID: testID("1.0")}
	for i := 0; i < 2; i++ {
		if _, err := c.GetDownloadURLs(ctx, asset); err != nil {
			t.Fatal(err)
		}
	}
	if inner.urls != 2 {
		t.Errorf("Download URL lookups must bypass the cache, got %d", inner.urls)
	}
}

func TestCachedRepository_InvalidateAll(t *testing.T) {
	inner := &countingRepo{}
	c := NewCachedRepository(inner, cacheConfig(), nil)
	ctx := context.Background()

	if _, err := c.GetAsset(ctx, testID("1.0")); err != nil {
		t.Fatal(err)
	}
	c.InvalidateAll()
	if _, err := c.GetAsset(ctx, testID("1.0")); err != nil {
		t.Fatal(err)
	}
	if inner.asset != 2 {
		t.Errorf("Invalidation must force upstream fetches, got %d", inner.asset)
	}
}
