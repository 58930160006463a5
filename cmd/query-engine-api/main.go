// query-engine-api serves the query pipeline and the pattern review
// workflow over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/adaptive"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/cache"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/config"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/embedding"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/engine"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/mining"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/normalize"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/observability"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/retrieval"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgFile     = flag.String("config", "", "config file path")
		contentPath = flag.String("content", "", "content file to index at startup")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*cfgFile)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "query-engine-api",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	cacheClient, publisher, err := newCacheClient(cfg)
	if err != nil {
		return err
	}
	defer cacheClient.Close()

	pipeline, embedder, err := buildPipeline(ctx, cfg, db, cacheClient, publisher, *contentPath, logger)
	if err != nil {
		return err
	}

	srv := newServer(cfg, pipeline, embedder, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("query-engine API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
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

func buildPipeline(ctx context.Context, cfg *config.Config, db *sql.DB,
	cacheClient cache.Client, publisher cache.Publisher, contentPath string,
	logger *observability.Logger) (*engine.Pipeline, embedding.Embedder, error) {

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

	if _, err := wrapper.SubscribeReloads(ctx); err != nil {
		logger.Warn().Err(err).Msg("reload subscription unavailable")
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
		return nil, nil, err
	}

	if contentPath != "" {
		chunks, err := retrieval.LoadContent(contentPath)
		if err != nil {
			return nil, nil, err
		}
		if err := retrieval.IndexContent(ctx, store, fallback, embedder, chunks, nil); err != nil {
			return nil, nil, err
		}
		logger.Info().Int("chunks", len(chunks)).Msg("content indexed")
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

	return engine.NewPipeline(wrapper, retrievalEngine, scorer, miner, logger), embedder, nil
}
