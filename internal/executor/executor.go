// Package executor runs the retrieval pipeline for one analyzed query:
// relational and vector search in parallel, score fusion, an optional
// LLM re-ranking pass, and pagination.
package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chessmate-labs/chessmate/internal/agent"
	"github.com/chessmate-labs/chessmate/internal/breaker"
	"github.com/chessmate-labs/chessmate/internal/games"
	"github.com/chessmate-labs/chessmate/internal/intent"
	"github.com/chessmate-labs/chessmate/internal/sanitize"
)

// Agent participation reported per response.
const (
	AgentDisabled    = "disabled"
	AgentEnabled     = "enabled"
	AgentCircuitOpen = "circuit_open"
)

// VectorHit is the best vector match for one game, with payload
// metadata merged across its matching positions.
type VectorHit struct {
	Score    float64
	Phases   []string
	Themes   []string
	Keywords []string
}

// Result is one ranked game.
type Result struct {
	Summary      games.Summary
	VectorScore  float64
	KeywordScore float64
	AgentScore   *float64
	TotalScore   float64
	Explanation  string
	AgentThemes  []string
	Phases       []string
	Themes       []string
	Keywords     []string
}

// Output is the full response for one query.
type Output struct {
	Plan        intent.Plan
	Results     []Result
	Total       int
	HasMore     bool
	Warnings    []string
	AgentStatus string
	AgentEffort string
	AgentUsage  *agent.Usage
}

// GameFetcher pages game summaries matching a plan.
type GameFetcher interface {
	FetchGames(ctx context.Context, plan intent.Plan, limit, offset int) (games.Page, error)
}

// PGNFetcher loads full PGNs for agent candidates.
type PGNFetcher interface {
	FetchPGNs(ctx context.Context, ids []int64) (map[int64]string, error)
}

// VectorSearcher returns the best vector hit per game, plus warnings
// about degraded retrieval.
type VectorSearcher interface {
	Search(ctx context.Context, plan intent.Plan, limit int) (map[int64]VectorHit, []string, error)
}

// AgentEvaluator scores a candidate set with the LLM.
type AgentEvaluator interface {
	Evaluate(ctx context.Context, plan intent.Plan, candidates []agent.Candidate) ([]agent.Evaluation, agent.Usage, error)
	ReasoningEffort(plan intent.Plan) string
}

// AgentGate is the circuit breaker slice the executor consults.
type AgentGate interface {
	ShouldAllow() bool
	RecordSuccess()
	RecordFailure()
	Status() breaker.Status
}

// Config holds the executor's tuning knobs.
type Config struct {
	AgentEnabled        bool
	CandidateMax        int
	CandidateMultiplier int
}

// Executor wires the pipeline stages together.
type Executor struct {
	cfg      Config
	fetcher  GameFetcher
	searcher VectorSearcher
	pgns     PGNFetcher
	agent    AgentEvaluator
	gate     AgentGate
	cache    agent.Cache
	log      *zap.Logger
}

// New builds an executor. The agent trio (evaluator, gate, cache) may be
// nil when re-ranking is not configured.
func New(cfg Config, fetcher GameFetcher, searcher VectorSearcher, pgns PGNFetcher,
	evaluator AgentEvaluator, gate AgentGate, cache agent.Cache, logger *zap.Logger) *Executor {
	if cfg.CandidateMax <= 0 {
		cfg.CandidateMax = 25
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 5
	}
	return &Executor{
		cfg:      cfg,
		fetcher:  fetcher,
		searcher: searcher,
		pgns:     pgns,
		agent:    evaluator,
		gate:     gate,
		cache:    cache,
		log:      logger,
	}
}

type vectorResult struct {
	hits     map[int64]VectorHit
	warnings []string
	err      error
}

// Execute runs the pipeline. SQL and vector retrieval run concurrently;
// a vector failure degrades to metadata-only scoring with a warning
// rather than failing the query. The SQL fetch over-fetches beyond
// plan.Limit so the agent re-ranks a broader pool; the page is cut back
// to plan.Limit only after scoring.
func (e *Executor) Execute(ctx context.Context, plan intent.Plan) (Output, error) {
	out := Output{Plan: plan, AgentStatus: AgentDisabled}

	vectorCh := make(chan vectorResult, 1)
	go func() {
		limit := plan.Limit * 3
		if limit < 15 {
			limit = 15
		}
		hits, warnings, err := e.searcher.Search(ctx, plan, limit)
		vectorCh <- vectorResult{hits: hits, warnings: warnings, err: err}
	}()

	page, err := e.fetcher.FetchGames(ctx, plan, e.poolSize(plan), plan.Offset)
	if err != nil {
		return Output{}, fmt.Errorf("fetch games: %s", sanitize.Error(err))
	}

	vr := <-vectorCh
	out.Warnings = append(out.Warnings, vr.warnings...)
	if vr.err != nil {
		e.log.Warn("Vector search failed, falling back to metadata scoring",
			zap.String("error", sanitize.Error(vr.err)))
		out.Warnings = append(out.Warnings, "vector search unavailable, results ranked by metadata only")
		vr.hits = nil
	}

	out.Results = scoreBase(plan, page.Summaries, vr.hits)

	e.runAgentStage(ctx, plan, &out)

	if len(out.Results) > plan.Limit {
		out.Results = out.Results[:plan.Limit]
	}
	out.Total = page.Total
	out.HasMore = page.Total > plan.Offset+len(out.Results)
	return out, nil
}

// poolSize is the SQL over-fetch window: plan.Limit × the candidate
// multiplier, capped at candidate max, never below plan.Limit.
func (e *Executor) poolSize(plan intent.Plan) int {
	n := plan.Limit * e.cfg.CandidateMultiplier
	if n > e.cfg.CandidateMax {
		n = e.cfg.CandidateMax
	}
	if n < plan.Limit {
		n = plan.Limit
	}
	return n
}

// runAgentStage re-ranks the top candidates when the agent is
// configured and the breaker admits the call. Each candidate is looked
// up in the cache under its own key; only misses go to the evaluator.
// Failures degrade to base ranking with a warning; only the breaker
// learns about them.
func (e *Executor) runAgentStage(ctx context.Context, plan intent.Plan, out *Output) {
	if !e.cfg.AgentEnabled || e.agent == nil || len(out.Results) == 0 {
		return
	}
	if e.gate != nil && !e.gate.ShouldAllow() {
		out.AgentStatus = AgentCircuitOpen
		out.Warnings = append(out.Warnings, "agent re-ranking temporarily suspended")
		return
	}
	out.AgentStatus = AgentEnabled

	window := plan.Limit * e.cfg.CandidateMultiplier
	if window < plan.Limit {
		window = plan.Limit
	}
	if window > e.cfg.CandidateMax {
		window = e.cfg.CandidateMax
	}
	if window > len(out.Results) {
		window = len(out.Results)
	}
	top := out.Results[:window]

	ids := make([]int64, 0, window)
	for _, r := range top {
		ids = append(ids, r.Summary.ID)
	}
	// Candidate keys digest the PGN, so the bulk fetch comes before the
	// cache lookups.
	pgns, err := e.pgns.FetchPGNs(ctx, ids)
	if err != nil {
		e.log.Warn("PGN fetch for agent failed", zap.String("error", sanitize.Error(err)))
		out.Warnings = append(out.Warnings, "agent re-ranking unavailable for this request")
		return
	}

	out.AgentEffort = e.agent.ReasoningEffort(plan)

	evals := make([]agent.Evaluation, 0, window)
	var misses []agent.Candidate
	missKeys := make(map[int64]string, window)
	for _, r := range top {
		c := agent.Candidate{Summary: r.Summary, PGN: pgns[r.Summary.ID]}
		key := agent.Key(plan, c)
		if e.cache != nil {
			if ev, ok := e.cache.Find(ctx, key); ok {
				evals = append(evals, ev)
				continue
			}
		}
		misses = append(misses, c)
		missKeys[c.Summary.ID] = key
	}

	if len(misses) > 0 {
		fresh, usage, err := e.agent.Evaluate(ctx, plan, misses)
		if err != nil {
			if e.gate != nil {
				e.gate.RecordFailure()
			}
			e.log.Warn("Agent evaluation failed", zap.String("error", sanitize.Error(err)))
			out.Warnings = append(out.Warnings, "agent re-ranking failed, results ranked by retrieval scores")
		} else {
			if e.gate != nil {
				e.gate.RecordSuccess()
			}
			out.AgentUsage = &usage
			if e.cache != nil {
				for _, ev := range fresh {
					if key, ok := missKeys[ev.GameID]; ok {
						e.cache.Store(ctx, key, ev)
					}
				}
			}
			evals = append(evals, fresh...)
		}
	}
	if len(evals) == 0 {
		return
	}
	if out.AgentUsage == nil {
		for _, ev := range evals {
			if ev.Usage != nil {
				out.AgentUsage = ev.Usage
				break
			}
		}
	}

	verdicts := make(map[int64]agentVerdict, len(evals))
	for _, ev := range evals {
		verdicts[ev.GameID] = agentVerdict{score: ev.Score, explanation: ev.Explanation, themes: ev.Themes}
	}
	applyAgentScores(out.Results, verdicts)
}
