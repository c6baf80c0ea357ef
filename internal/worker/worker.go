// Package worker drains the embedding job queue: claim pending jobs,
// embed position texts in provider-sized batches, upsert the vectors,
// and record the outcome per job.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chessmate-labs/chessmate/internal/embeddings"
	"github.com/chessmate-labs/chessmate/internal/games"
	"github.com/chessmate-labs/chessmate/internal/metrics"
	"github.com/chessmate-labs/chessmate/internal/sanitize"
	"github.com/chessmate-labs/chessmate/internal/vectordb"
)

// Repo is the queue slice of the games repository.
type Repo interface {
	ClaimJobs(ctx context.Context, workerID string, n int) ([]games.Job, error)
	CompleteJob(ctx context.Context, jobID int64, vectorID string) error
	FailJob(ctx context.Context, jobID int64, lastError string, maxAttempts int) (terminal bool, err error)
	CountJobs(ctx context.Context) (games.JobCounts, error)
	FetchAnnotations(ctx context.Context, ids []int64) (map[int64][]games.Annotation, error)
}

// Embedder generates vectors with retry already applied.
type Embedder interface {
	EmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter stores vectors.
type VectorWriter interface {
	Upsert(ctx context.Context, points []vectordb.UpsertItem) error
}

// Config holds pool tuning.
type Config struct {
	Workers     int
	BatchSize   int
	MaxAttempts int
	PollSleep   time.Duration
	ChunkSize   int
	MaxChars    int
}

// Pool runs a fixed set of workers plus a queue depth poller.
type Pool struct {
	cfg    Config
	repo   Repo
	embed  Embedder
	writer VectorWriter
	log    *zap.Logger
	wg     sync.WaitGroup
}

// NewPool builds a pool. Zero-valued knobs get defaults.
func NewPool(cfg Config, repo Repo, embed Embedder, writer VectorWriter, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollSleep <= 0 {
		cfg.PollSleep = 5 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64
	}
	return &Pool{cfg: cfg, repo: repo, embed: embed, writer: writer, log: logger}
}

// Start launches the workers and the depth poller. They run until ctx
// is canceled; Wait blocks until all have exited.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollQueueDepth(ctx)
	}()
	p.log.Info("Embedding workers started", zap.Int("workers", p.cfg.Workers))
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	log := p.log.With(zap.String("worker_id", workerID))
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.processOnce(ctx, workerID)
		if err != nil {
			log.Warn("Worker pass failed", zap.String("error", sanitize.Error(err)))
		}
		if processed == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollSleep):
			}
		}
	}
}

// processOnce claims and processes one batch. It returns the number of
// jobs claimed so the caller knows whether to sleep.
func (p *Pool) processOnce(ctx context.Context, workerID string) (int, error) {
	jobs, err := p.repo.ClaimJobs(ctx, workerID, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	gameIDs := make([]int64, 0, len(jobs))
	for _, j := range jobs {
		gameIDs = append(gameIDs, j.GameID)
	}
	annotations, err := p.repo.FetchAnnotations(ctx, gameIDs)
	if err != nil {
		// Payloads degrade to game metadata only.
		p.log.Warn("Annotation fetch failed", zap.String("error", sanitize.Error(err)))
		annotations = map[int64][]games.Annotation{}
	}

	texts := make([]string, len(jobs))
	for i, j := range jobs {
		texts[i] = embedText(j, annotations[j.GameID])
	}

	processed := 0
	offset := 0
	for _, batch := range embeddings.SplitBatches(texts, p.cfg.ChunkSize, p.cfg.MaxChars) {
		p.processBatch(ctx, jobs[offset:offset+len(batch)], batch, annotations)
		offset += len(batch)
		processed += len(batch)
	}
	return processed, nil
}

func (p *Pool) processBatch(ctx context.Context, jobs []games.Job, texts []string, annotations map[int64][]games.Annotation) {
	vectors, err := p.embed.EmbedWithRetry(ctx, texts)
	if err != nil {
		p.failAll(ctx, jobs, err, embeddings.IsTransient(err))
		return
	}

	items := make([]vectordb.UpsertItem, len(jobs))
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = uuid.NewString()
		items[i] = vectordb.UpsertItem{
			ID:      ids[i],
			Vector:  vectors[i],
			Payload: payloadFor(j, annotations[j.GameID]),
		}
	}
	if err := p.writer.Upsert(ctx, items); err != nil {
		// Vector store writes are transport failures, worth the budget.
		p.failAll(ctx, jobs, err, true)
		return
	}

	for i, j := range jobs {
		if err := p.repo.CompleteJob(ctx, j.ID, ids[i]); err != nil {
			p.log.Warn("Complete job failed",
				zap.Int64("job_id", j.ID),
				zap.String("error", sanitize.Error(err)))
			continue
		}
		metrics.WorkerJobsProcessed.WithLabelValues(games.JobCompleted).Inc()
	}
}

// failAll records a failed attempt for every job in the batch. Transient
// causes spend the attempt budget; non-transient ones land in failed on
// the first attempt. The failed counter moves only when a job actually
// goes terminal.
func (p *Pool) failAll(ctx context.Context, jobs []games.Job, cause error, transient bool) {
	msg := sanitize.Error(cause)
	budget := p.cfg.MaxAttempts
	if !transient {
		budget = 1
	}
	for _, j := range jobs {
		terminal, err := p.repo.FailJob(ctx, j.ID, msg, budget)
		if err != nil {
			p.log.Warn("Fail job failed",
				zap.Int64("job_id", j.ID),
				zap.String("error", sanitize.Error(err)))
			continue
		}
		if terminal {
			metrics.WorkerJobsProcessed.WithLabelValues(games.JobFailed).Inc()
		}
	}
	p.log.Warn("Embedding batch failed",
		zap.Int("jobs", len(jobs)),
		zap.String("error", msg))
}

func (p *Pool) pollQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := p.repo.CountJobs(ctx)
			if err != nil {
				continue
			}
			for _, status := range []string{games.JobPending, games.JobInProgress, games.JobCompleted, games.JobFailed} {
				metrics.QueueDepth.WithLabelValues(status).Set(float64(counts[status]))
			}
		}
	}
}

// embedText is the textual rendering of a position that gets embedded.
// It mixes the FEN with game metadata so semantic search can match on
// players, openings, and annotated themes.
func embedText(j games.Job, annotations []games.Annotation) string {
	var b strings.Builder
	b.WriteString(j.FEN)
	fmt.Fprintf(&b, " | %s vs %s", j.White, j.Black)
	if j.OpeningSlug.Valid {
		b.WriteString(" | ")
		b.WriteString(strings.ReplaceAll(j.OpeningSlug.String, "_", " "))
	}
	for _, a := range annotations {
		b.WriteString(" | ")
		b.WriteString(a.Value)
	}
	return b.String()
}

func payloadFor(j games.Job, annotations []games.Annotation) map[string]interface{} {
	payload := map[string]interface{}{
		"game_id":     j.GameID,
		"position_id": j.PositionID,
		"fen":         j.FEN,
		"white":       j.White,
		"black":       j.Black,
	}
	if j.OpeningSlug.Valid {
		payload["opening_slug"] = j.OpeningSlug.String
	}
	var phases, themes []string
	for _, a := range annotations {
		switch a.Kind {
		case "phase":
			phases = append(phases, a.Value)
		case "theme":
			themes = append(themes, a.Value)
		}
	}
	if len(phases) > 0 {
		payload["phases"] = phases
	}
	if len(themes) > 0 {
		payload["themes"] = themes
	}
	return payload
}
