// Package embeddings generates text embeddings through the OpenAI API,
// with batching, retry, pacing, and a small local cache in front of the
// provider.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chessmate-labs/chessmate/internal/metrics"
	"github.com/chessmate-labs/chessmate/internal/sanitize"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config holds provider settings.
type Config struct {
	APIKey            string
	Model             string
	BaseURL           string
	ChunkSize         int
	MaxChars          int
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration
	RequestsPerSecond float64
	CacheCapacity     int
	Timeout           time.Duration
}

// Service calls the embedding provider. Batching and retries are the
// caller-visible behavior; pacing and caching happen underneath.
type Service struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cache   *LocalLRU
	log     *zap.Logger

	// sleep is replaced in tests to skip backoff waits.
	sleep func(time.Duration)
}

// NewService builds a service. Zero-valued knobs get conservative
// defaults.
func NewService(cfg Config, logger *zap.Logger) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 4
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 250 * time.Millisecond
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	return &Service{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		cache:   NewLocalLRU(cfg.CacheCapacity),
		log:     logger,
		sleep:   time.Sleep,
	}
}

// Model returns the configured embedding model name.
func (s *Service) Model() string { return s.cfg.Model }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// transientError marks a failure worth retrying.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err as a retryable failure.
func MarkTransient(err error) error {
	return &transientError{err: err}
}

// IsTransient reports whether err is a retryable provider failure
// (network error, 429, 5xx) rather than a permanent one.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Embed generates embeddings for one batch, checking the local cache
// first and calling the provider only for misses. Result order matches
// the input order.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if vec, ok := s.cache.Get(t); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := s.callProvider(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		out[missingIdx[j]] = vec
		s.cache.Put(missing[j], vec)
	}
	return out, nil
}

func (s *Service) callProvider(ctx context.Context, texts []string) ([][]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	body, _ := json.Marshal(embeddingRequest{Model: s.cfg.Model, Input: texts})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.http.Do(req)
	if err != nil {
		metrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		return nil, &transientError{err: fmt.Errorf("embedding request: %s", sanitize.Error(err))}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		err := fmt.Errorf("embedding provider status %d: %s", resp.StatusCode, sanitize.String(string(raw)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &transientError{err: err}
		}
		return nil, err
	}

	var er embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(er.Data) != len(texts) {
		metrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(er.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding provider returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	metrics.RecordEmbeddingMetrics(s.cfg.Model, "ok", time.Since(start).Seconds())
	return vectors, nil
}

// EmbedWithRetry wraps Embed with exponential backoff and jitter.
// Non-transient provider errors fail immediately; transient ones are
// retried up to the configured attempt budget.
func (s *Service) EmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.RetryMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := s.cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
			delay += time.Duration(rand.Int63n(int64(s.cfg.RetryBaseDelay)))
			s.log.Warn("Retrying embedding request",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.String("error", sanitize.Error(lastErr)),
			)
			s.sleep(delay)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vectors, err := s.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		var te *transientError
		if !errors.As(err, &te) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", s.cfg.RetryMaxAttempts, lastErr)
}

// FallbackVector derives a deterministic unit-length vector from the
// text alone. It lets query-time vector search run when no provider key
// is configured; stored positions embedded the same way still match.
func FallbackVector(text string, size int) []float32 {
	if size <= 0 {
		size = 1536
	}
	vec := make([]float32, size)
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	rng := rand.New(rand.NewSource(int64(seed)))
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
