// Command chessmate runs the query service and its embedding workers.
//
// With -snapshot it instead creates a vector store snapshot, records it
// in the operator catalogue, and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/chessmate-labs/chessmate/internal/agent"
	"github.com/chessmate-labs/chessmate/internal/breaker"
	"github.com/chessmate-labs/chessmate/internal/config"
	"github.com/chessmate-labs/chessmate/internal/embeddings"
	"github.com/chessmate-labs/chessmate/internal/executor"
	"github.com/chessmate-labs/chessmate/internal/games"
	"github.com/chessmate-labs/chessmate/internal/health"
	"github.com/chessmate-labs/chessmate/internal/httpapi"
	"github.com/chessmate-labs/chessmate/internal/intent"
	"github.com/chessmate-labs/chessmate/internal/metrics"
	"github.com/chessmate-labs/chessmate/internal/ratelimit"
	"github.com/chessmate-labs/chessmate/internal/sanitize"
	"github.com/chessmate-labs/chessmate/internal/snapshot"
	"github.com/chessmate-labs/chessmate/internal/vectordb"
	"github.com/chessmate-labs/chessmate/internal/worker"
)

func main() {
	snapshotMode := flag.Bool("snapshot", false, "create a vector store snapshot and exit")
	flag.Parse()

	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Configuration invalid", zap.String("error", sanitize.Error(err)))
	}

	if *snapshotMode {
		runSnapshot(cfg, logger)
		return
	}
	run(cfg, logger)
}

func run(cfg *config.Config, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := games.Open(cfg.DatabaseURL, cfg.DBPoolSize, logger)
	if err != nil {
		logger.Fatal("Database unavailable", zap.String("error", sanitize.Error(err)))
	}
	defer repo.Close()
	repo.StartPoolStats(ctx, 15*time.Second)

	vdb := vectordb.New(vectordb.Config{
		URL:        cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
		VectorSize: cfg.QdrantVectorSize,
		Distance:   cfg.QdrantDistance,
	}, logger)
	if err := vdb.EnsureCollection(ctx); err != nil {
		logger.Fatal("Vector store unavailable", zap.String("error", sanitize.Error(err)))
	}

	var embedder *embeddings.Service
	if cfg.OpenAIAPIKey != "" {
		embedder = embeddings.NewService(embeddings.Config{
			APIKey:           cfg.OpenAIAPIKey,
			Model:            cfg.EmbeddingModel,
			ChunkSize:        cfg.EmbeddingChunkSize,
			MaxChars:         cfg.EmbeddingMaxChars,
			RetryMaxAttempts: cfg.RetryMaxAttempts,
			RetryBaseDelay:   cfg.RetryBaseDelay,
		}, logger)
	} else {
		logger.Warn("OPENAI_API_KEY not set, query embeddings use the deterministic fallback")
	}

	gate := breaker.New(breaker.Config{
		Threshold: cfg.AgentBreakerThreshold,
		Cooloff:   cfg.AgentBreakerCooloff,
		OnStateChange: func(s breaker.Status) {
			metrics.CircuitBreakerState.Set(float64(s))
		},
	}, logger)

	var evaluator executor.AgentEvaluator
	var cache agent.Cache
	if cfg.AgentEnabled() {
		evaluator = agent.New(agent.Config{
			APIKey:             cfg.AgentAPIKey,
			Model:              cfg.AgentModel,
			ReasoningEffort:    cfg.AgentReasoningEffort,
			Verbosity:          cfg.AgentVerbosity,
			Timeout:            cfg.AgentRequestTimeout,
			PGNTruncateChars:   cfg.PGNTruncateChars,
			CostInputPer1K:     cfg.AgentCostInputPer1K,
			CostOutputPer1K:    cfg.AgentCostOutputPer1K,
			CostReasoningPer1K: cfg.AgentCostReasoningPer1K,
		}, logger)
		cache = buildAgentCache(cfg, logger)
	}

	var searchEmbedder executor.Embedder
	if embedder != nil {
		searchEmbedder = embedder
	}
	searcher := executor.NewSearcher(searchEmbedder, vdb, cfg.QdrantVectorSize, logger)

	exec := executor.New(executor.Config{
		AgentEnabled:        cfg.AgentEnabled(),
		CandidateMax:        cfg.CandidateMax,
		CandidateMultiplier: cfg.CandidateMultiplier,
	}, repo, searcher, repo, evaluator, gate, cache, logger)

	limiter, err := ratelimit.New(ratelimit.Config{
		RequestsPerMinute:  cfg.RateLimitRequestsPerMinute,
		BucketSize:         cfg.RateLimitBucketSize,
		BodyBytesPerMinute: cfg.RateLimitBodyBytesPerMinute,
	}, logger)
	if err != nil {
		logger.Fatal("Rate limiter misconfigured", zap.String("error", sanitize.Error(err)))
	}

	healthMgr := health.NewManager(3*time.Second, logger,
		health.NewPingChecker("postgres", true, repo),
		health.NewPingChecker("qdrant", true, vdb),
		health.NewPingChecker("redis", false, redisPinger(cache)),
		health.NewOpenAIChecker(cfg.OpenAIAPIKey, ""),
	)

	if embedder != nil {
		pool := worker.NewPool(worker.Config{
			Workers:   cfg.WorkerCount,
			BatchSize: cfg.WorkerBatchSize,
			PollSleep: cfg.WorkerPollSleep,
			ChunkSize: cfg.EmbeddingChunkSize,
			MaxChars:  cfg.EmbeddingMaxChars,
		}, repo, embedder, vdb, logger)
		pool.Start(ctx)
		defer pool.Wait()
	} else {
		logger.Warn("Embedding workers disabled without a provider key")
	}

	api := httpapi.New(httpapi.Config{MaxBodyBytes: cfg.MaxRequestBodyBytes},
		intent.NewAnalyzer(cfg.DefaultLimit, cfg.MaxLimit), exec, limiter, healthMgr, logger)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.String("error", sanitize.Error(err)))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.String("error", sanitize.Error(err)))
	}
	cancel()
}

func buildAgentCache(cfg *config.Config, logger *zap.Logger) agent.Cache {
	if cfg.AgentCacheRedisURL != "" {
		cache, err := agent.NewRedisCache(cfg.AgentCacheRedisURL, cfg.AgentCacheTTL, logger)
		if err == nil {
			logger.Info("Agent cache backed by Redis")
			return cache
		}
		logger.Warn("Redis cache unavailable, using in-memory cache",
			zap.String("error", sanitize.Error(err)))
	}
	return agent.NewMemoryCache(cfg.AgentCacheCapacity)
}

// redisPinger exposes the Redis cache as a health target when one is
// configured.
func redisPinger(cache agent.Cache) health.Pinger {
	if rc, ok := cache.(*agent.RedisCache); ok {
		return rc
	}
	return nil
}

func runSnapshot(cfg *config.Config, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	vdb := vectordb.New(vectordb.Config{
		URL:        cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
		VectorSize: cfg.QdrantVectorSize,
		Distance:   cfg.QdrantDistance,
	}, logger)

	info, err := vdb.CreateSnapshot(ctx)
	if err != nil {
		logger.Fatal("Snapshot failed", zap.String("error", sanitize.Error(err)))
	}

	catalog := snapshot.NewCatalog(cfg.SnapshotCatalogPath)
	if err := catalog.Append(snapshot.Entry{
		Name:      info.Name,
		Location:  cfg.QdrantURL,
		SizeBytes: info.SizeBytes,
		CreatedAt: info.CreatedAt,
	}); err != nil {
		logger.Fatal("Snapshot catalogue write failed", zap.String("error", sanitize.Error(err)))
	}
	logger.Info("Snapshot recorded",
		zap.String("name", info.Name),
		zap.Int64("size_bytes", info.SizeBytes),
		zap.String("catalog", cfg.SnapshotCatalogPath),
	)
}
