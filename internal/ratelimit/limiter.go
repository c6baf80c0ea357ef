// Package ratelimit implements per-client admission control with two
// token-bucket reservoirs: one counting requests, one counting request
// body bytes. Buckets refill lazily on check and idle buckets are pruned
// on a fixed cadence.
package ratelimit

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate-labs/chessmate/internal/metrics"
)

// Config holds limiter construction parameters.
type Config struct {
	RequestsPerMinute int
	BucketSize        int
	// BodyBytesPerMinute of 0 disables the body reservoir.
	BodyBytesPerMinute int
	IdleTimeout        time.Duration
	PruneInterval      time.Duration
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	// Remaining request tokens after the check (floor).
	Remaining int
}

type bucket struct {
	reqTokens  float64
	bodyTokens float64
	lastRefill time.Time
	lastSeen   time.Time

	reqLimitedCount  uint64
	bodyLimitedCount uint64
}

// Limiter is a process-wide admission gate. All state is guarded by a
// single mutex; the lock is never held across I/O.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	reqCap   float64
	reqRate  float64 // tokens per second
	bodyCap  float64
	bodyRate float64

	idleTimeout   time.Duration
	pruneInterval time.Duration
	lastPrune     time.Time

	logger *zap.Logger
	now    func() time.Time
}

// New validates the configuration and builds a limiter.
func New(cfg Config, logger *zap.Logger) (*Limiter, error) {
	if cfg.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("ratelimit: requests per minute must be positive, got %d", cfg.RequestsPerMinute)
	}
	if cfg.BucketSize <= 0 {
		return nil, fmt.Errorf("ratelimit: bucket size must be positive, got %d", cfg.BucketSize)
	}
	if cfg.BodyBytesPerMinute < 0 {
		return nil, fmt.Errorf("ratelimit: body bytes per minute must be >= 0, got %d", cfg.BodyBytesPerMinute)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Minute
	}

	l := &Limiter{
		buckets:       make(map[string]*bucket),
		reqCap:        float64(cfg.BucketSize),
		reqRate:       float64(cfg.RequestsPerMinute) / 60.0,
		idleTimeout:   cfg.IdleTimeout,
		pruneInterval: cfg.PruneInterval,
		logger:        logger,
		now:           time.Now,
	}
	if cfg.BodyBytesPerMinute > 0 {
		l.bodyCap = float64(cfg.BodyBytesPerMinute)
		l.bodyRate = float64(cfg.BodyBytesPerMinute) / 60.0
	}
	return l, nil
}

// NormalizeKey trims, lowercases, and sanitizes a client key so it is safe
// as a map key and a metrics label. Empty keys become "unknown".
func NormalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "unknown"
	}
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == ':', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Check decides whether a request with the given body size may proceed.
// It is infallible: the worst outcome is a limited decision.
func (l *Limiter) Check(key string, bodyBytes int) Decision {
	key = NormalizeKey(key)
	if bodyBytes < 0 {
		bodyBytes = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) >= l.pruneInterval {
		l.pruneLocked(now)
		l.lastPrune = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			reqTokens:  l.reqCap,
			bodyTokens: l.bodyCap,
			lastRefill: now,
		}
		l.buckets[key] = b
	}
	l.refillLocked(b, now)
	b.lastSeen = now

	bodyCost := 0.0
	if l.bodyRate > 0 {
		bodyCost = float64(bodyBytes)
	}

	if b.reqTokens >= 1 && b.bodyTokens >= bodyCost {
		b.reqTokens--
		b.bodyTokens -= bodyCost
		return Decision{Allowed: true, Remaining: int(b.reqTokens)}
	}

	var retry time.Duration
	if b.reqTokens < 1 {
		b.reqLimitedCount++
		metrics.RecordRateLimited(key, "requests")
		retry = maxDuration(retry, delayFor(1-b.reqTokens, l.reqRate))
	}
	if l.bodyRate > 0 && b.bodyTokens < bodyCost {
		b.bodyLimitedCount++
		metrics.RecordRateLimited(key, "body_bytes")
		retry = maxDuration(retry, delayFor(bodyCost-b.bodyTokens, l.bodyRate))
	}

	if l.logger != nil {
		l.logger.Warn("Rate limit exceeded",
			zap.String("client", key),
			zap.Duration("retry_after", retry),
		)
	}
	return Decision{Allowed: false, RetryAfter: retry, Remaining: int(b.reqTokens)}
}

// refillLocked adds elapsed*rate tokens to both reservoirs, capped at
// their capacities.
func (l *Limiter) refillLocked(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.reqTokens = math.Min(l.reqCap, b.reqTokens+elapsed*l.reqRate)
	if l.bodyRate > 0 {
		b.bodyTokens = math.Min(l.bodyCap, b.bodyTokens+elapsed*l.bodyRate)
	}
	b.lastRefill = now
}

func (l *Limiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTimeout {
			delete(l.buckets, key)
		}
	}
}

// Size returns the number of tracked buckets.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func delayFor(deficit, rate float64) time.Duration {
	if rate <= 0 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(deficit / rate * float64(time.Second))
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
