package games

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/chessmate-labs/chessmate/internal/intent"
	"github.com/chessmate-labs/chessmate/internal/metrics"
)

// Repository provides game metadata, PGNs, and the embedding job queue.
type Repository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to Postgres, configures the pool, and verifies the
// connection.
func Open(databaseURL string, poolSize int, logger *zap.Logger) (*Repository, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connected", zap.Int("pool_size", poolSize))
	return &Repository{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

// StartPoolStats publishes connection pool gauges until ctx is done.
func (r *Repository) StartPoolStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	start := time.Now()
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := r.db.Stats()
				elapsed := time.Since(start).Seconds()
				ratio := 0.0
				if elapsed > 0 {
					ratio = s.WaitDuration.Seconds() / elapsed
				}
				metrics.SetDBPoolStats(s.MaxOpenConnections, s.InUse, s.Idle, s.WaitCount, ratio)
			}
		}
	}()
}

// FetchGames returns one page of summaries matching the plan's filters
// and rating bounds, plus the unpaginated total. Ordering is rating desc,
// date desc, id asc, which also serves as the executor's tie-breaker.
func (r *Repository) FetchGames(ctx context.Context, plan intent.Plan, limit, offset int) (Page, error) {
	where, args := buildPredicates(plan)

	countQuery := "SELECT COUNT(*) FROM games g WHERE " + where
	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(countQuery), args...); err != nil {
		return Page{}, fmt.Errorf("count games: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT g.id, g.white, g.black, g.white_elo, g.black_elo, g.event,
		       g.played_on, g.result, g.eco_code, g.opening_slug,
		       g.opening_name, g.synopsis
		FROM games g
		WHERE %s
		ORDER BY GREATEST(COALESCE(g.white_elo, 0), COALESCE(g.black_elo, 0)) DESC,
		         g.played_on DESC NULLS LAST,
		         g.id ASC
		LIMIT ? OFFSET ?`, where)
	args = append(args, limit, offset)

	var summaries []Summary
	if err := r.db.SelectContext(ctx, &summaries, r.db.Rebind(query), args...); err != nil {
		return Page{}, fmt.Errorf("select games: %w", err)
	}
	return Page{Summaries: summaries, Total: total}, nil
}

// buildPredicates maps plan filters and rating bounds onto SQL. ECO
// ranges filter here; everything else also reaches the vector store as a
// payload filter.
func buildPredicates(plan intent.Plan) (string, []interface{}) {
	conds := []string{"1=1"}
	var args []interface{}

	for _, f := range plan.Filters {
		switch f.Field {
		case intent.FieldOpening:
			conds = append(conds, "g.opening_slug = ?")
			args = append(args, f.Value)
		case intent.FieldECORange:
			if rng, err := intent.ParseECORange(f.Value); err == nil {
				conds = append(conds, "g.eco_code BETWEEN ? AND ?")
				args = append(args, rng.From, rng.To)
			}
		case intent.FieldResult:
			conds = append(conds, "g.result = ?")
			args = append(args, f.Value)
		case intent.FieldPhase, intent.FieldTheme:
			conds = append(conds,
				"EXISTS (SELECT 1 FROM game_annotations a WHERE a.game_id = g.id AND a.kind = ? AND a.value = ?)")
			args = append(args, f.Field, f.Value)
		}
	}

	if plan.Rating.WhiteMin > 0 {
		conds = append(conds, "g.white_elo >= ?")
		args = append(args, plan.Rating.WhiteMin)
	}
	if plan.Rating.BlackMin > 0 {
		conds = append(conds, "g.black_elo >= ?")
		args = append(args, plan.Rating.BlackMin)
	}
	if plan.Rating.MaxRatingDelta > 0 {
		conds = append(conds, "ABS(COALESCE(g.white_elo, 0) - COALESCE(g.black_elo, 0)) <= ?")
		args = append(args, plan.Rating.MaxRatingDelta)
	}

	return strings.Join(conds, " AND "), args
}

// FetchPGNs loads PGNs for the given game IDs in one round trip.
func (r *Repository) FetchPGNs(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}
	query, args, err := sqlx.In("SELECT id, pgn FROM games WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("build pgn query: %w", err)
	}
	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select pgns: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string, len(ids))
	for rows.Next() {
		var id int64
		var pgn string
		if err := rows.Scan(&id, &pgn); err != nil {
			return nil, fmt.Errorf("scan pgn: %w", err)
		}
		out[id] = pgn
	}
	return out, rows.Err()
}

// FetchAnnotations loads all annotations for the given game IDs,
// grouped by game.
func (r *Repository) FetchAnnotations(ctx context.Context, ids []int64) (map[int64][]Annotation, error) {
	if len(ids) == 0 {
		return map[int64][]Annotation{}, nil
	}
	query, args, err := sqlx.In(
		"SELECT game_id, kind, value FROM game_annotations WHERE game_id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("build annotations query: %w", err)
	}
	var rows []Annotation
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select annotations: %w", err)
	}
	out := make(map[int64][]Annotation, len(ids))
	for _, a := range rows {
		out[a.GameID] = append(out[a.GameID], a)
	}
	return out, nil
}

// ClaimJobs atomically marks up to n pending jobs in_progress for this
// worker and returns them with the position and game metadata needed for
// embedding. FOR UPDATE SKIP LOCKED keeps concurrent workers from ever
// observing the same job.
func (r *Repository) ClaimJobs(ctx context.Context, workerID string, n int) ([]Job, error) {
	const query = `
		WITH claimed AS (
			SELECT id FROM embedding_jobs
			WHERE status = 'pending'
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		), updated AS (
			UPDATE embedding_jobs j
			SET status = 'in_progress', claimed_by = $2, updated_at = NOW()
			FROM claimed c
			WHERE j.id = c.id
			RETURNING j.id, j.position_id, j.attempts
		)
		SELECT u.id, u.position_id, u.attempts,
		       p.fen, p.game_id, g.white, g.black, g.opening_slug
		FROM updated u
		JOIN positions p ON p.id = u.position_id
		JOIN games g ON g.id = p.game_id
		ORDER BY u.id`

	var jobs []Job
	if err := r.db.SelectContext(ctx, &jobs, query, n, workerID); err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	return jobs, nil
}

// CompleteJob marks a job completed with its assigned vector point ID.
func (r *Repository) CompleteJob(ctx context.Context, jobID int64, vectorID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE embedding_jobs
		 SET status = 'completed', vector_id = $1, last_error = NULL, updated_at = NOW()
		 WHERE id = $2`,
		vectorID, jobID)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", jobID, err)
	}
	return nil
}

// FailJob records a failed attempt. The job returns to pending until the
// attempt budget is spent, then lands in failed; a maxAttempts of 1
// sends it straight to failed. Reports whether the job went terminal.
// lastError must already be sanitized by the caller.
func (r *Repository) FailJob(ctx context.Context, jobID int64, lastError string, maxAttempts int) (bool, error) {
	var status string
	err := r.db.GetContext(ctx, &status,
		`UPDATE embedding_jobs
		 SET attempts = attempts + 1,
		     last_error = $1,
		     status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		     updated_at = NOW()
		 WHERE id = $3
		 RETURNING status`,
		lastError, maxAttempts, jobID)
	if err != nil {
		return false, fmt.Errorf("fail job %d: %w", jobID, err)
	}
	return status == JobFailed, nil
}

// CountJobs returns queue depth by status.
func (r *Repository) CountJobs(ctx context.Context) (JobCounts, error) {
	rows, err := r.db.QueryxContext(ctx,
		"SELECT status, COUNT(*) AS count FROM embedding_jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(JobCounts)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
