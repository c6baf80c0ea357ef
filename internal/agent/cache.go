package agent

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chessmate-labs/chessmate/internal/intent"
	"github.com/chessmate-labs/chessmate/internal/metrics"
	"github.com/chessmate-labs/chessmate/internal/sanitize"
)

const (
	redisKeyPrefix   = "chessmate:agent:"
	redisFindTimeout = 500 * time.Millisecond
)

// Cache stores one evaluation per candidate, keyed by a digest of the
// plan and that candidate. Implementations must treat their own failures
// as misses; a broken cache never fails a query.
type Cache interface {
	Find(ctx context.Context, key string) (Evaluation, bool)
	Store(ctx context.Context, key string, eval Evaluation)
	Ping(ctx context.Context) error
}

// Key derives a deterministic cache key for one candidate under a plan.
// Keys are stable across processes; any change to the plan's semantics,
// the candidate's summary fields, or its PGN produces a different key.
func Key(plan intent.Plan, c Candidate) string {
	h := sha256.New()
	fmt.Fprintf(h, "text=%s\n", plan.CleanedText)
	fmt.Fprintf(h, "keywords=%v\n", plan.Keywords)
	fmt.Fprintf(h, "limit=%d\n", plan.Limit)
	fmt.Fprintf(h, "rating=%d/%d/%d\n", plan.Rating.WhiteMin, plan.Rating.BlackMin, plan.Rating.MaxRatingDelta)
	for _, f := range plan.Filters {
		fmt.Fprintf(h, "filter=%s:%s\n", f.Field, f.Value)
	}
	pgnSum := sha256.Sum256([]byte(c.PGN))
	fmt.Fprintf(h, "game=%d:%s:%s:%x\n",
		c.Summary.ID, c.Summary.OpeningSlug.String, c.Summary.Result.String, pgnSum[:8])
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is a fixed-capacity in-process LRU cache.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type memEntry struct {
	key  string
	eval Evaluation
}

// NewMemoryCache builds a cache holding at most capacity entries.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 512
	}
	return &MemoryCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *MemoryCache) Find(_ context.Context, key string) (Evaluation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		metrics.AgentCacheMisses.Inc()
		return Evaluation{}, false
	}
	c.order.MoveToFront(el)
	metrics.AgentCacheHits.Inc()
	return el.Value.(*memEntry).eval, true
}

func (c *MemoryCache) Store(_ context.Context, key string, eval Evaluation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*memEntry).eval = eval
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*memEntry).key)
		}
	}
	c.items[key] = c.order.PushFront(&memEntry{key: key, eval: eval})
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

// Len reports the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// RedisCache shares agent evaluations across instances. Lookups are
// bounded so a slow Redis cannot stall the query path.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisCache connects to Redis from a redis:// URL. A zero TTL keeps
// entries until Redis evicts them.
func NewRedisCache(redisURL string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %s", sanitize.Error(err))
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl, log: logger}, nil
}

// NewRedisCacheWithClient wraps an existing client; used by tests.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, log: logger}
}

func (c *RedisCache) Find(ctx context.Context, key string) (Evaluation, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisFindTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		metrics.AgentCacheMisses.Inc()
		return Evaluation{}, false
	}
	if err != nil {
		c.log.Warn("Agent cache lookup failed", zap.String("error", sanitize.Error(err)))
		metrics.AgentCacheMisses.Inc()
		return Evaluation{}, false
	}
	var eval Evaluation
	if err := json.Unmarshal(raw, &eval); err != nil {
		c.log.Warn("Agent cache entry corrupt", zap.String("key", key))
		metrics.AgentCacheMisses.Inc()
		return Evaluation{}, false
	}
	metrics.AgentCacheHits.Inc()
	return eval, true
}

func (c *RedisCache) Store(ctx context.Context, key string, eval Evaluation) {
	raw, err := json.Marshal(eval)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("Agent cache store failed", zap.String("error", sanitize.Error(err)))
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
