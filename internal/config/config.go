// Package config loads and validates all service configuration from the
// environment. The variable names are load-bearing for ops tooling; the
// resulting Config is frozen and passed into constructors.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every knob the service reads at startup.
type Config struct {
	// Relational store
	DatabaseURL string
	DBPoolSize  int

	// Vector store
	QdrantURL        string
	QdrantCollection string
	QdrantVectorSize int
	QdrantDistance   string

	// Embedding provider
	OpenAIAPIKey       string
	EmbeddingModel     string
	EmbeddingChunkSize int
	EmbeddingMaxChars  int
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration

	// Agent (LLM re-ranking)
	AgentAPIKey             string
	AgentModel              string
	AgentReasoningEffort    string
	AgentVerbosity          string
	AgentRequestTimeout     time.Duration
	AgentBreakerThreshold   int
	AgentBreakerCooloff     time.Duration
	AgentCacheRedisURL      string
	AgentCacheTTL           time.Duration
	AgentCacheCapacity      int
	AgentCostInputPer1K     float64
	AgentCostOutputPer1K    float64
	AgentCostReasoningPer1K float64

	// HTTP admission
	RateLimitRequestsPerMinute  int
	RateLimitBucketSize         int
	RateLimitBodyBytesPerMinute int
	MaxRequestBodyBytes         int64

	// Worker
	MaxPendingEmbeddings int
	WorkerBatchSize      int
	WorkerCount          int
	WorkerPollSleep      time.Duration

	// Query engine
	DefaultLimit        int
	MaxLimit            int
	CandidateMax        int
	CandidateMultiplier int
	PGNTruncateChars    int

	// HTTP server
	ListenAddr      string
	ShutdownTimeout time.Duration

	// Snapshot catalogue
	SnapshotCatalogPath string
}

// Load reads, defaults, and validates configuration from the environment.
// Validation failures carry a remediation hint so an operator can fix the
// deployment without reading source.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		QdrantURL:        getEnvOrDefault("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: getEnvOrDefault("QDRANT_COLLECTION_NAME", "chess_positions"),
		QdrantDistance:   getEnvOrDefault("QDRANT_DISTANCE", "Cosine"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		EmbeddingModel:   getEnvOrDefault("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),

		AgentAPIKey:          firstNonEmpty(os.Getenv("AGENT_API_KEY"), os.Getenv("OPENAI_API_KEY")),
		AgentModel:           getEnvOrDefault("AGENT_MODEL", "gpt-5-mini"),
		AgentReasoningEffort: getEnvOrDefault("AGENT_REASONING_EFFORT", "medium"),
		AgentVerbosity:       getEnvOrDefault("AGENT_VERBOSITY", "low"),
		AgentCacheRedisURL:   os.Getenv("AGENT_CACHE_REDIS_URL"),

		ListenAddr:          getEnvOrDefault("CHESSMATE_LISTEN_ADDR", ":8080"),
		SnapshotCatalogPath: getEnvOrDefault("CHESSMATE_SNAPSHOT_CATALOG", "snapshots.jsonl"),
	}

	var err error
	if cfg.QdrantVectorSize, err = getEnvInt("QDRANT_VECTOR_SIZE", 1536); err != nil {
		return nil, err
	}
	if cfg.DBPoolSize, err = getEnvInt("CHESSMATE_DB_POOL_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.RateLimitRequestsPerMinute, err = getEnvInt("CHESSMATE_RATE_LIMIT_REQUESTS_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	if cfg.RateLimitBucketSize, err = getEnvInt("CHESSMATE_RATE_LIMIT_BUCKET_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.RateLimitBodyBytesPerMinute, err = getEnvInt("CHESSMATE_RATE_LIMIT_BODY_BYTES_PER_MINUTE", 0); err != nil {
		return nil, err
	}
	maxBody, err := getEnvInt("CHESSMATE_MAX_REQUEST_BODY_BYTES", 1<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxRequestBodyBytes = int64(maxBody)
	if cfg.MaxPendingEmbeddings, err = getEnvInt("CHESSMATE_MAX_PENDING_EMBEDDINGS", 10000); err != nil {
		return nil, err
	}
	if cfg.WorkerBatchSize, err = getEnvInt("CHESSMATE_WORKER_BATCH_SIZE", 16); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = getEnvInt("CHESSMATE_WORKER_COUNT", 2); err != nil {
		return nil, err
	}
	if cfg.EmbeddingChunkSize, err = getEnvInt("OPENAI_EMBEDDING_CHUNK_SIZE", 64); err != nil {
		return nil, err
	}
	if cfg.EmbeddingMaxChars, err = getEnvInt("OPENAI_EMBEDDING_MAX_CHARS", 16000); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = getEnvInt("OPENAI_RETRY_MAX_ATTEMPTS", 4); err != nil {
		return nil, err
	}
	baseDelayMs, err := getEnvInt("OPENAI_RETRY_BASE_DELAY_MS", 250)
	if err != nil {
		return nil, err
	}
	cfg.RetryBaseDelay = time.Duration(baseDelayMs) * time.Millisecond

	agentTimeout, err := getEnvInt("AGENT_REQUEST_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}
	cfg.AgentRequestTimeout = time.Duration(agentTimeout) * time.Second
	if cfg.AgentBreakerThreshold, err = getEnvInt("AGENT_CIRCUIT_BREAKER_THRESHOLD", 3); err != nil {
		return nil, err
	}
	cooloff, err := getEnvInt("AGENT_CIRCUIT_BREAKER_COOLOFF_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.AgentBreakerCooloff = time.Duration(cooloff) * time.Second
	cacheTTL, err := getEnvInt("AGENT_CACHE_TTL_SECONDS", 0)
	if err != nil {
		return nil, err
	}
	cfg.AgentCacheTTL = time.Duration(cacheTTL) * time.Second
	if cfg.AgentCacheCapacity, err = getEnvInt("AGENT_CACHE_CAPACITY", 512); err != nil {
		return nil, err
	}
	if cfg.AgentCostInputPer1K, err = getEnvFloat("AGENT_COST_INPUT_PER_1K", 0); err != nil {
		return nil, err
	}
	if cfg.AgentCostOutputPer1K, err = getEnvFloat("AGENT_COST_OUTPUT_PER_1K", 0); err != nil {
		return nil, err
	}
	if cfg.AgentCostReasoningPer1K, err = getEnvFloat("AGENT_COST_REASONING_PER_1K", 0); err != nil {
		return nil, err
	}

	pollSleepSec, err := getEnvInt("CHESSMATE_WORKER_POLL_SLEEP_SECONDS", 5)
	if err != nil {
		return nil, err
	}
	cfg.WorkerPollSleep = time.Duration(pollSleepSec) * time.Second
	shutdownSec, err := getEnvInt("CHESSMATE_SHUTDOWN_TIMEOUT_SECONDS", 20)
	if err != nil {
		return nil, err
	}
	cfg.ShutdownTimeout = time.Duration(shutdownSec) * time.Second

	cfg.DefaultLimit = 50
	cfg.MaxLimit = 500
	cfg.CandidateMax = 25
	cfg.CandidateMultiplier = 5
	cfg.PGNTruncateChars = 3000

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required (set it to a postgres:// connection string)")
	}
	if !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must be a postgres:// URL (got a value with scheme %q)", schemeOf(c.DatabaseURL))
	}
	if _, err := url.Parse(c.QdrantURL); err != nil {
		return fmt.Errorf("QDRANT_URL is not a valid URL: %v (example: http://localhost:6333)", err)
	}
	if c.QdrantVectorSize <= 0 {
		return fmt.Errorf("QDRANT_VECTOR_SIZE must be positive (set it to your embedding model's dimension, e.g. 1536)")
	}
	switch c.QdrantDistance {
	case "Cosine", "Dot", "Euclid":
	default:
		return fmt.Errorf("QDRANT_DISTANCE must be one of Cosine, Dot, Euclid (got %q)", c.QdrantDistance)
	}
	if c.DBPoolSize <= 0 {
		return fmt.Errorf("CHESSMATE_DB_POOL_SIZE must be positive (default 10)")
	}
	if c.RateLimitRequestsPerMinute <= 0 {
		return fmt.Errorf("CHESSMATE_RATE_LIMIT_REQUESTS_PER_MINUTE must be positive (default 60)")
	}
	if c.RateLimitBucketSize <= 0 {
		return fmt.Errorf("CHESSMATE_RATE_LIMIT_BUCKET_SIZE must be positive (default 10)")
	}
	if c.RateLimitBodyBytesPerMinute < 0 {
		return fmt.Errorf("CHESSMATE_RATE_LIMIT_BODY_BYTES_PER_MINUTE must be >= 0 (0 disables the body limiter)")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("CHESSMATE_MAX_REQUEST_BODY_BYTES must be positive (default 1048576)")
	}
	if c.WorkerBatchSize <= 0 {
		return fmt.Errorf("CHESSMATE_WORKER_BATCH_SIZE must be positive (default 16)")
	}
	if c.EmbeddingChunkSize <= 0 {
		return fmt.Errorf("OPENAI_EMBEDDING_CHUNK_SIZE must be positive (default 64)")
	}
	if c.EmbeddingMaxChars <= 0 {
		return fmt.Errorf("OPENAI_EMBEDDING_MAX_CHARS must be positive (default 16000)")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("OPENAI_RETRY_MAX_ATTEMPTS must be positive (default 4)")
	}
	switch c.AgentReasoningEffort {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("AGENT_REASONING_EFFORT must be one of low, medium, high (got %q)", c.AgentReasoningEffort)
	}
	switch c.AgentVerbosity {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("AGENT_VERBOSITY must be one of low, medium, high (got %q)", c.AgentVerbosity)
	}
	return nil
}

// AgentEnabled reports whether the LLM re-ranking stage is configured.
func (c *Config) AgentEnabled() bool {
	return c.AgentAPIKey != ""
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, v)
	}
	return n, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number (got %q)", key, v)
	}
	return f, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func schemeOf(raw string) string {
	if i := strings.Index(raw, "://"); i > 0 {
		return raw[:i]
	}
	return ""
}
