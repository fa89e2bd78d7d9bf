package remote

import (
	"context"
	"io"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/observability"
)

// CacheConfig tunes the remote metadata cache.
type CacheConfig struct {
	MaxEntries int
	// SnapshotTTL applies to pinned-version snapshots and dependency
	// lists; LatestTTL applies to "latest" lookups, which go stale the
	// moment the remote publishes a new version.
	SnapshotTTL time.Duration
	LatestTTL   time.Duration
}

// DefaultCacheConfig returns sensible defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries:  1024,
		SnapshotTTL: 1 * time.Hour,
		LatestTTL:   1 * time.Minute,
	}
}

// CachedRepository decorates a RemoteRepository with an expiring LRU over
// metadata lookups. Byte downloads are never cached. InvalidateAll drops
// everything, which consumers call on authentication loss.
type CachedRepository struct {
	inner   api.RemoteRepository
	assets  *lru.LRU[string, *api.AssetData]
	latest  *lru.LRU[string, *api.AssetData]
	deps    *lru.LRU[string, []api.AssetIdentifier]
	metrics *observability.Metrics
}

// NewCachedRepository wraps inner with metadata caching. metrics may be
// nil.
func NewCachedRepository(inner api.RemoteRepository, cfg CacheConfig, metrics *observability.Metrics) *CachedRepository {
	if cfg.MaxEntries <= 0 {
		cfg = DefaultCacheConfig()
	}
	return &CachedRepository{
		inner:   inner,
		assets:  lru.NewLRU[string, *api.AssetData](cfg.MaxEntries, nil, cfg.SnapshotTTL),
		latest:  lru.NewLRU[string, *api.AssetData](cfg.MaxEntries, nil, cfg.LatestTTL),
		deps:    lru.NewLRU[string, []api.AssetIdentifier](cfg.MaxEntries, nil, cfg.SnapshotTTL),
		metrics: metrics,
	}
}

func (c *CachedRepository) hit() {
	if c.metrics != nil {
		c.metrics.RemoteCacheHitsTotal.Inc()
	}
}

func (c *CachedRepository) miss() {
	if c.metrics != nil {
		c.metrics.RemoteCacheMissesTotal.Inc()
	}
}

// GetAsset implements api.RemoteRepository.
func (c *CachedRepository) GetAsset(ctx context.Context, id api.AssetIdentifier) (*api.AssetData, error) {
	key := id.String()
	if data, ok := c.assets.Get(key); ok {
		c.hit()
		return data, nil
	}
	c.miss()

	data, err := c.inner.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	c.assets.Add(key, data)
	return data, nil
}

// GetLatestVersion implements api.RemoteRepository.
func (c *CachedRepository) GetLatestVersion(ctx context.Context, id api.AssetIdentifier) (*api.AssetData, error) {
	key := id.Tracked().Key()
	if data, ok := c.latest.Get(key); ok {
		c.hit()
		return data, nil
	}
	c.miss()

	data, err := c.inner.GetLatestVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	c.latest.Add(key, data)
	// A latest lookup also yields a pinned snapshot.
	c.assets.Add(data.ID.String(), data)
	return data, nil
}

// GetDependencies implements api.RemoteRepository.
func (c *CachedRepository) GetDependencies(ctx context.Context, id api.AssetIdentifier) ([]api.AssetIdentifier, error) {
	key := id.String()
	if deps, ok := c.deps.Get(key); ok {
		c.hit()
		return deps, nil
	}
	c.miss()

	deps, err := c.inner.GetDependencies(ctx, id)
	if err != nil {
		return nil, err
	}
	c.deps.Add(key, deps)
	return deps, nil
}

// GetDownloadURLs implements api.RemoteRepository, uncached: references
// are commonly short-lived presigned URLs.
func (c *CachedRepository) GetDownloadURLs(ctx context.Context, asset *api.AssetData) (map[string]string, error) {
	return c.inner.GetDownloadURLs(ctx, asset)
}

// Download implements api.RemoteRepository, uncached.
func (c *CachedRepository) Download(ctx context.Context, ref string) (io.ReadCloser, error) {
	return c.inner.Download(ctx, ref)
}

// InvalidateAll drops every cached entry.
func (c *CachedRepository) InvalidateAll() {
	c.assets.Purge()
	c.latest.Purge()
	c.deps.Purge()
}
