package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/clusterd/internal/collector"
	"github.com/thebtf/clusterd/internal/config"
	"github.com/thebtf/clusterd/internal/db/gorm"
	"github.com/thebtf/clusterd/internal/embedding"
	"github.com/thebtf/clusterd/internal/engine"
	"github.com/thebtf/clusterd/internal/registry"
	"github.com/thebtf/clusterd/internal/sources"
	"github.com/thebtf/clusterd/internal/sse"
)

// app holds every wired component of one process.
type app struct {
	cfg         *config.Config
	store       *gorm.Store
	metadata    *gorm.MetadataStore
	embeddings  *gorm.EmbeddingStore
	registry    *registry.Registry
	engine      *engine.Engine
	broadcaster *sse.Broadcaster
	sources     []sources.Source
	redis       *embedding.RedisProvider
}

// newApp opens the database, loads the source registry and the persisted
// clusters, and wires the engine.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := gorm.NewStore(gorm.Config{
		Path:     cfg.DBPath,
		DSN:      cfg.DatabaseDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:         cfg,
		store:       store,
		metadata:    gorm.NewMetadataStore(store),
		embeddings:  gorm.NewEmbeddingStore(store),
		broadcaster: sse.NewBroadcaster(),
	}

	specs, err := sources.Load(cfg.SourcesPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load sources: %w", err)
	}
	a.sources, err = specs.Build()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build sources: %w", err)
	}
	if len(a.sources) == 0 {
		log.Warn().Str("path", cfg.SourcesPath).Msg("No session sources configured")
	}

	a.registry = registry.New(gorm.NewClusterStore(store), a.metadata, registry.WithOverlapRatio(cfg.MergeOverlap))
	if err := a.registry.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load clusters: %w", err)
	}

	col := collector.New(a.sources, a.metadata,
		collector.WithRecentDays(cfg.RecentDays),
		collector.WithMembership(a.registry.IsClustered),
	)

	chain := embedding.Chain{embedding.NewStoreProvider(a.embeddings)}
	if cfg.RedisURL != "" {
		a.redis = embedding.NewRedisProvider(cfg.RedisURL)
		chain = append(chain, a.redis)
		log.Info().Msg("Redis embedding provider enabled")
	}

	a.engine = engine.New(col, a.registry, a.metadata, chain, engine.Config{
		Threshold:      cfg.ClusterThreshold,
		MinClusterSize: cfg.MinClusterSize,
		MaxClusters:    cfg.IndexClusters,
		MaxSessions:    cfg.IndexSessions,
	}, engine.WithNotifier(a.broadcaster))

	log.Debug().
		Str("dialect", store.Dialect()).
		Int("sources", len(a.sources)).
		Int("clusters", a.registry.Len()).
		Msg("Engine ready")
	return a, nil
}

// sourcePaths lists the on-disk locations of every configured source.
func (a *app) sourcePaths() []string {
	paths := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		paths = append(paths, s.Path())
	}
	return paths
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close redis pool")
		}
	}
	if err := a.store.Close(); err != nil {
		log.Debug().Err(err).Msg("Failed to close store")
	}
}
