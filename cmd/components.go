package main

import (
	"context"

	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/internal/cache"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"github.com/amankumarsingh77/crawlindex/internal/indexer"
	"github.com/amankumarsingh77/crawlindex/internal/query"
	"github.com/amankumarsingh77/crawlindex/pkg/search"
	"go.uber.org/zap"
)

const mirrorQueue = 16

// index bundles the engine with its optional Postgres mirror.
type index struct {
	engine  *indexer.Engine
	mirror  *indexer.PostgresMirror
	storage *indexer.Storage
	logger  *zap.Logger
}

func analyzerFor(cfg *config.IndexerConfig) *common.Analyzer {
	return &common.Analyzer{Stem: cfg.Stem, StopWords: cfg.StopWords, MinTokenLen: 1}
}

func openIndex(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*index, error) {
	idx := &index{logger: logger}

	var opts []indexer.Option
	if cfg.Index.PostgresDSN != "" {
		storage, err := indexer.NewPostgresClient(ctx, &cfg.Index)
		if err != nil {
			return nil, err
		}
		idx.storage = storage
		idx.mirror = indexer.NewPostgresMirror(storage, mirrorQueue, logger)
		opts = append(opts, indexer.WithSink(idx.mirror))
		logger.Info("mirroring flushed segments to postgres")
	}

	engine, err := indexer.NewEngine(&cfg.Index, analyzerFor(&cfg.Index), logger, opts...)
	if err != nil {
		idx.closeMirror()
		return nil, err
	}
	idx.engine = engine
	return idx, nil
}

func (i *index) closeMirror() {
	if i.mirror != nil {
		i.mirror.Close()
		mirrored, dropped, failed := i.mirror.Counts()
		i.logger.Info("postgres mirror closed",
			zap.Int64("mirrored", mirrored),
			zap.Int64("dropped", dropped),
			zap.Int64("failed", failed))
	}
	if i.storage != nil {
		i.storage.Close()
	}
}

// Close flushes the engine before the mirror drains, so the final segment is mirrored too.
func (i *index) Close() {
	if err := i.engine.Close(); err != nil {
		i.logger.Error("failed to close the index", zap.Error(err))
	}
	i.closeMirror()
}

// connectRedis returns nil when redis is disabled or unreachable; callers
// degrade to local state.
func connectRedis(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) *cache.Client {
	client, up := dialRedis(ctx, cfg, logger)
	if client != nil && !up {
		_ = client.Close()
		return nil
	}
	return client
}

// dialRedis builds a client whenever redis is enabled and reports whether it
// answered the first ping. An unanswered client is still returned so
// long-running components can probe it later.
func dialRedis(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*cache.Client, bool) {
	if !cfg.Enabled {
		return nil, false
	}
	client := cache.NewClient(cfg)
	if err := client.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, continuing without it", zap.String("addr", cfg.Addr), zap.Error(err))
		return client, false
	}
	return client, true
}

func newQueryService(engine *indexer.Engine, rc *cache.Client, cfg *config.Config, logger *zap.Logger) *query.Service {
	var remote query.ResultCache
	if rc != nil {
		remote = rc
	}
	return query.NewService(engine, remote, cfg.Query, logger)
}

func newSearchAPI(svc *query.Service, idx *index, rc *cache.Client, cfg *config.Config, logger *zap.Logger, extra ...search.Option) *search.SearchAPI {
	opts := []search.Option{
		search.WithMetrics("index", func() any { return idx.engine.Stats() }),
		search.WithMetrics("query", func() any { return svc.Stats() }),
	}
	if idx.mirror != nil {
		opts = append(opts, search.WithMetrics("postgres_mirror", func() any {
			mirrored, dropped, failed := idx.mirror.Counts()
			return map[string]int64{"mirrored": mirrored, "dropped": dropped, "failed": failed}
		}))
	}
	if rc != nil {
		opts = append(opts, search.WithMeta(rc))
	}
	opts = append(opts, extra...)
	return search.NewSearchAPI(svc, &cfg.Query, logger, opts...)
}
