package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessmate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chessmate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Database pool metrics
	DBPoolCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chessmate_db_pool_capacity",
			Help: "Configured size of the database connection pool",
		},
	)

	DBPoolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chessmate_db_pool_in_use",
			Help: "Database connections currently in use",
		},
	)

	DBPoolAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chessmate_db_pool_available",
			Help: "Idle database connections available",
		},
	)

	DBPoolWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chessmate_db_pool_waiting",
			Help: "Cumulative number of waits for a database connection",
		},
	)

	DBPoolWaitRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chessmate_db_pool_wait_ratio",
			Help: "Fraction of connection acquisitions that had to wait",
		},
	)

	// Rate limit metrics
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessmate_rate_limited_total",
			Help: "Total number of rate-limited requests",
		},
		[]string{"kind"},
	)

	RateLimitedByClient = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessmate_rate_limited_client_total",
			Help: "Rate-limited requests per client key",
		},
		[]string{"client", "kind"},
	)

	// Agent cache metrics
	AgentCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chessmate_agent_cache_hits_total",
			Help: "Total number of agent cache hits",
		},
	)

	AgentCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chessmate_agent_cache_misses_total",
			Help: "Total number of agent cache misses",
		},
	)

	// Agent evaluation metrics
	AgentEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessmate_agent_evaluations_total",
			Help: "Total number of agent evaluation calls",
		},
		[]string{"status"},
	)

	AgentEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chessmate_agent_evaluation_duration_seconds",
			Help:    "Agent evaluation call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 15, 30},
		},
	)

	AgentEvaluationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chessmate_agent_evaluation_errors_total",
			Help: "Total number of failed agent evaluation calls",
		},
	)

	// Circuit breaker state: 0=disabled 1=closed 2=half_open 3=open
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chessmate_circuit_breaker_state",
			Help: "Agent circuit breaker state (0=disabled 1=closed 2=half_open 3=open)",
		},
	)

	// Embedding worker metrics
	WorkerJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessmate_embedding_jobs_processed_total",
			Help: "Total number of embedding jobs processed",
		},
		[]string{"status"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chessmate_embedding_queue_depth",
			Help: "Number of embedding jobs by status",
		},
		[]string{"status"},
	)

	// Vector store metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessmate_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chessmate_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Embedding provider metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessmate_embedding_requests_total",
			Help: "Total number of embedding provider requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chessmate_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)
)

// RecordHTTPMetrics records metrics for a served HTTP request.
func RecordHTTPMetrics(route, method, status string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(durationSeconds)
}

// RecordVectorSearchMetrics records vector search metrics.
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding provider metrics.
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordAgentEvaluation records the outcome of one agent evaluation call.
func RecordAgentEvaluation(status string, durationSeconds float64) {
	AgentEvaluations.WithLabelValues(status).Inc()
	AgentEvaluationDuration.Observe(durationSeconds)
	if status != "ok" {
		AgentEvaluationErrors.Inc()
	}
}

// RecordRateLimited increments the global and per-client limited counters.
// Client keys are already sanitized by the limiter, which keeps the label
// cardinality bounded to observed callers.
func RecordRateLimited(client, kind string) {
	RateLimitedTotal.WithLabelValues(kind).Inc()
	RateLimitedByClient.WithLabelValues(client, kind).Inc()
}

// SetDBPoolStats publishes connection pool gauges.
func SetDBPoolStats(capacity, inUse, available int, waitCount int64, waitRatio float64) {
	DBPoolCapacity.Set(float64(capacity))
	DBPoolInUse.Set(float64(inUse))
	DBPoolAvailable.Set(float64(available))
	DBPoolWaiting.Set(float64(waitCount))
	DBPoolWaitRatio.Set(waitRatio)
}
