package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/conflict"
	"github.com/platinummonkey/stash/pkg/config"
	"github.com/platinummonkey/stash/pkg/drift"
	"github.com/platinummonkey/stash/pkg/importer"
	"github.com/platinummonkey/stash/pkg/index"
	"github.com/platinummonkey/stash/pkg/localfs"
	"github.com/platinummonkey/stash/pkg/observability"
	"github.com/platinummonkey/stash/pkg/remote"
	"github.com/platinummonkey/stash/pkg/resolver"
)

// app holds the fully wired component graph for in-process commands.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	fs       *localfs.FileSystem
	mapper   *localfs.Mapper
	idx      *index.LocalAssetIndex
	cache    *remote.CachedRepository
	orch     *importer.Orchestrator
	watcher  *drift.Watcher
}

// buildApp loads configuration and wires every component: persisted
// index, path mapper, remote client with metadata cache, resolver,
// conflict handling and the import orchestrator.
func buildApp(decider conflict.Decider) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	fs, err := localfs.New(cfg.Project.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open project root: %w", err)
	}
	mapper := localfs.NewMapper(cfg.Project.Root)

	store, err := index.NewFileStore(cfg.Project.IndexRoot())
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}
	idx := index.New(store, logger)
	if err := index.LoadInto(idx, store); err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	if err := mapper.Rehydrate(fs, cfg.Project.DestinationRoot()); err != nil {
		logger.WithError(err).Warn("path mapper rehydration incomplete")
	}

	clientOpts := []remote.ClientOption{remote.WithTimeout(cfg.Registry.Timeout)}
	if cfg.Registry.Token != "" {
		clientOpts = append(clientOpts, remote.WithToken(cfg.Registry.Token))
	}
	if cfg.Observability.OTelEnabled {
		clientOpts = append(clientOpts, remote.WithTracing())
	}
	client := remote.NewClient(cfg.Registry.URL, logger, clientOpts...)

	cache := remote.NewCachedRepository(client, remote.CacheConfig{
		MaxEntries:  cfg.Registry.CacheEntries,
		SnapshotTTL: cfg.Registry.SnapshotTTL,
		LatestTTL:   cfg.Registry.LatestTTL,
	}, metrics)
	client.OnAuthLost = func() {
		cache.InvalidateAll()
		idx.OnAuthenticationLost()
	}

	res := resolver.New(cache, logger)
	con := conflict.New(idx, fs, decider, logger)

	orchCfg := importer.DefaultConfig(cfg.Project.DestinationRoot())
	orchCfg.MaxConcurrent = cfg.Import.MaxConcurrent
	orch := importer.New(orchCfg, cache, fs, mapper, idx, res, con, logger, metrics)

	watcher := drift.New(idx, fs, mapper, logger, metrics)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics,
		fs:       fs,
		mapper:   mapper,
		idx:      idx,
		cache:    cache,
		orch:     orch,
		watcher:  watcher,
	}, nil
}

// parseIdentifiers parses positional org/project/asset[@version] args.
func parseIdentifiers(args []string) ([]api.AssetIdentifier, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one org/project/asset[@version] argument is required")
	}
	ids := make([]api.AssetIdentifier, 0, len(args))
	for _, arg := range args {
		id, err := api.ParseIdentifier(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// deciderFor maps the -on-conflict flag value to a conflict policy.
func deciderFor(policy string) (conflict.Decider, error) {
	switch policy {
	case "replace", "":
		return nil, nil
	case "skip":
		return conflict.DeciderFunc(func(ctx context.Context, c *conflict.Classification) (map[api.TrackedAssetIdentifier]conflict.Decision, error) {
			decisions := make(map[api.TrackedAssetIdentifier]conflict.Decision)
			for _, r := range c.All() {
				if r.RequiresDecision() {
					decisions[r.Asset.ID.Tracked()] = conflict.DecisionSkip
				}
			}
			return decisions, nil
		}), nil
	case "prompt":
		return conflict.DeciderFunc(promptDecider), nil
	default:
		return nil, fmt.Errorf("invalid on-conflict policy %q (want replace, skip or prompt)", policy)
	}
}

// promptDecider asks replace-or-skip per conflicting asset on stdin.
func promptDecider(ctx context.Context, c *conflict.Classification) (map[api.TrackedAssetIdentifier]conflict.Decision, error) {
	decisions := make(map[api.TrackedAssetIdentifier]conflict.Decision)
	reader := bufio.NewReader(os.Stdin)
	for _, r := range c.All() {
		if !r.RequiresDecision() {
			continue
		}
		reason := "files already on disk"
		if r.Existed {
			reason = "already tracked"
		}
		fmt.Printf("%s (%s) - replace? [Y/n] ", r.Asset.ID.String(), reason)
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read decision: %w", err)
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer == "n" || answer == "no" {
			decisions[r.Asset.ID.Tracked()] = conflict.DecisionSkip
		} else {
			decisions[r.Asset.ID.Tracked()] = conflict.DecisionReplace
		}
	}
	return decisions, nil
}
