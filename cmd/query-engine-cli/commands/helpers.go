package commands

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/adaptive"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/cache"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/config"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/embedding"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/engine"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/mining"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/normalize"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/retrieval"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/storage"
)

// app bundles the wired components a command needs.
type app struct {
	Pipeline *engine.Pipeline
	Wrapper  *adaptive.Wrapper
	Miner    *mining.Miner
	Engine   *retrieval.Engine
	Store    *retrieval.MemoryStore
	Fallback *retrieval.FallbackIndex
	Embedder embedding.Embedder

	db          *sql.DB
	cacheClient cache.Client
	stopReload  func()
}

func (a *app) Close() {
	if a.stopReload != nil {
		a.stopReload()
	}
	if a.cacheClient != nil {
		a.cacheClient.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	driver := cfg.Database.Driver
	if driver == "sqlite" {
		driver = "sqlite3"
	}
	db, err := sql.Open(driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.Driver == "postgres" {
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.Postgres.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// newCacheClient returns the configured cache backend. Both backends also
// serve as the reload publisher; the memory backend only reaches this
// process.
func newCacheClient(cfg *config.Config) (cache.Client, cache.Publisher, error) {
	if cfg.Cache.Driver == "redis" {
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
			Prefix:   "qe:",
		})
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	}
	client := cache.NewMemoryClient(0)
	return client, client, nil
}

// buildApp wires the full pipeline from config. contentPath may be empty;
// retrieval then starts with empty collections.
func buildApp(ctx context.Context, contentPath string, progress func(done, total int)) (*app, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	cacheClient, publisher, err := newCacheClient(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	patterns := storage.NewPatternRepository(db)
	normLog := storage.NewNormalizationLogRepository(db)
	runs := storage.NewMiningRunRepository(db)

	corrector := normalize.Corrector(nil)
	if cfg.Normalizer.SpellCheckEnabled {
		corrector = normalize.NewRuleCorrector(cacheClient, cfg.Cache.TTL, logger)
	}

	wrapper := adaptive.NewWrapper(ctx,
		adaptive.Options{
			LowConfidenceThreshold: cfg.Normalizer.LowConfidenceThreshold,
			QueueLimit:             cfg.Mining.QueueLimit,
		},
		normalize.Options{
			FuzzyThreshold:      cfg.Normalizer.FuzzyThreshold,
			ContextPenalty:      cfg.Normalizer.ContextPenalty,
			IntentPenalty:       cfg.Normalizer.IntentPenalty,
			HeavyRewritePenalty: cfg.Normalizer.HeavyRewritePenalty,
		},
		corrector, patterns, normLog, publisher, logger)

	stopReload, err := wrapper.SubscribeReloads(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("reload subscription unavailable")
		stopReload = func() {}
	}

	var embedder embedding.Embedder = embedding.NewClient(embedding.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
	}, logger)
	if cfg.Embedding.BaseURL == "" {
		embedder = embedding.NewMockClient(cfg.Embedding.Dimension)
	}

	store := retrieval.NewMemoryStore()
	fallback, err := retrieval.NewFallbackIndex(logger)
	if err != nil {
		stopReload()
		cacheClient.Close()
		db.Close()
		return nil, err
	}

	if contentPath != "" {
		chunks, err := retrieval.LoadContent(contentPath)
		if err != nil {
			stopReload()
			cacheClient.Close()
			db.Close()
			return nil, err
		}
		if err := retrieval.IndexContent(ctx, store, fallback, embedder, chunks, progress); err != nil {
			stopReload()
			cacheClient.Close()
			db.Close()
			return nil, err
		}
	}

	retrievalEngine := retrieval.NewEngine(retrieval.Options{
		MaxResults:        cfg.Retrieval.MaxResults,
		DistanceThreshold: cfg.Retrieval.DistanceThreshold,
		CacheCapacity:     cfg.Retrieval.CacheCapacity,
		FallbackEnabled:   cfg.Retrieval.FallbackEnabled,
	}, embedder, store, fallback, retrieval.DefaultSubjectCollections(), logger)

	scorer := retrieval.NewScorer(cfg.Retrieval.MinContextChars)

	miner := mining.NewMiner(mining.Options{
		MinFrequency: cfg.Mining.MinFrequency,
		NgramMin:     cfg.Mining.NgramMin,
		NgramMax:     cfg.Mining.NgramMax,
		QueueLimit:   cfg.Mining.QueueLimit,
		MaxExamples:  cfg.Mining.MaxExamples,
	}, patterns, normLog, runs, publisher, logger)

	return &app{
		Pipeline:    engine.NewPipeline(wrapper, retrievalEngine, scorer, miner, logger),
		Wrapper:     wrapper,
		Miner:       miner,
		Engine:      retrievalEngine,
		Store:       store,
		Fallback:    fallback,
		Embedder:    embedder,
		db:          db,
		cacheClient: cacheClient,
		stopReload:  stopReload,
	}, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Minute)
}
