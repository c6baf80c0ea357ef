package executor

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/chessmate-labs/chessmate/internal/agent"
	"github.com/chessmate-labs/chessmate/internal/breaker"
	"github.com/chessmate-labs/chessmate/internal/games"
	"github.com/chessmate-labs/chessmate/internal/intent"
)

type fakeFetcher struct {
	page      games.Page
	err       error
	gotLimit  int
	gotOffset int
}

func (f *fakeFetcher) FetchGames(_ context.Context, _ intent.Plan, limit, offset int) (games.Page, error) {
	f.gotLimit, f.gotOffset = limit, offset
	if f.err != nil {
		return games.Page{}, f.err
	}
	page := f.page
	if limit < len(page.Summaries) {
		page.Summaries = page.Summaries[:limit]
	}
	return page, nil
}

type fakeSearcher struct {
	hits     map[int64]VectorHit
	warnings []string
	err      error
}

func (f *fakeSearcher) Search(context.Context, intent.Plan, int) (map[int64]VectorHit, []string, error) {
	return f.hits, f.warnings, f.err
}

type fakePGNs struct {
	pgns map[int64]string
	err  error
}

func (f *fakePGNs) FetchPGNs(_ context.Context, ids []int64) (map[int64]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		out[id] = f.pgns[id]
	}
	return out, nil
}

// fakeAgent scores candidates from a map; unknown IDs score zero.
type fakeAgent struct {
	scores       map[int64]float64
	explanations map[int64]string
	err          error
	calls        int
	lastIDs      []int64
}

func (f *fakeAgent) Evaluate(_ context.Context, _ intent.Plan, cands []agent.Candidate) ([]agent.Evaluation, agent.Usage, error) {
	f.calls++
	f.lastIDs = nil
	if f.err != nil {
		return nil, agent.Usage{}, f.err
	}
	usage := agent.Usage{PromptTokens: 100}
	evals := make([]agent.Evaluation, 0, len(cands))
	for _, c := range cands {
		f.lastIDs = append(f.lastIDs, c.Summary.ID)
		evals = append(evals, agent.Evaluation{
			GameID:      c.Summary.ID,
			Score:       f.scores[c.Summary.ID],
			Explanation: f.explanations[c.Summary.ID],
			Usage:       &usage,
		})
	}
	return evals, usage, nil
}

func (f *fakeAgent) ReasoningEffort(intent.Plan) string { return "medium" }

func summary(id int64, white string, whiteElo int64, slug string) games.Summary {
	return games.Summary{
		ID:          id,
		White:       white,
		Black:       "Opponent",
		WhiteElo:    sql.NullInt64{Int64: whiteElo, Valid: whiteElo > 0},
		BlackElo:    sql.NullInt64{Int64: whiteElo - 50, Valid: whiteElo > 0},
		OpeningSlug: sql.NullString{String: slug, Valid: slug != ""},
	}
}

func testPlan(limit int) intent.Plan {
	return intent.Plan{
		CleanedText: "french defense games",
		Keywords:    []string{"french", "defense"},
		Filters:     []intent.Filter{{Field: intent.FieldOpening, Value: "french_defense"}},
		Limit:       limit,
	}
}

func newTestExecutor(t *testing.T, cfg Config, fetcher GameFetcher, searcher VectorSearcher,
	pgns PGNFetcher, evaluator AgentEvaluator, gate AgentGate, cache agent.Cache) *Executor {
	t.Helper()
	return New(cfg, fetcher, searcher, pgns, evaluator, gate, cache, zaptest.NewLogger(t))
}

func TestExecuteRanksAndPaginates(t *testing.T) {
	fetcher := &fakeFetcher{page: games.Page{
		Summaries: []games.Summary{
			summary(1, "Korchnoi", 2600, "french_defense"),
			summary(2, "Short", 2650, "french_defense"),
			summary(3, "Petrosian", 2620, "caro_kann"),
		},
		Total: 12,
	}}
	searcher := &fakeSearcher{hits: map[int64]VectorHit{
		1: {Score: 0.5},
		2: {Score: 0.95, Themes: []string{"king_attack"}},
		3: {Score: 0.2},
	}}

	e := newTestExecutor(t, Config{}, fetcher, searcher, &fakePGNs{}, nil, nil, nil)
	out, err := e.Execute(context.Background(), testPlan(3))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if out.AgentStatus != AgentDisabled {
		t.Errorf("expected agent disabled, got %q", out.AgentStatus)
	}
	if len(out.Results) != 3 || out.Total != 12 || !out.HasMore {
		t.Errorf("unexpected page: %d results, total %d, has_more %v", len(out.Results), out.Total, out.HasMore)
	}
	for i := 1; i < len(out.Results); i++ {
		if out.Results[i].TotalScore > out.Results[i-1].TotalScore {
			t.Fatal("results not sorted by total score")
		}
	}
	if out.Results[0].Summary.ID != 2 {
		t.Errorf("expected strongest vector hit first, got game %d", out.Results[0].Summary.ID)
	}
	if len(out.Results[0].Themes) != 1 || out.Results[0].Themes[0] != "king_attack" {
		t.Errorf("expected payload themes carried through, got %v", out.Results[0].Themes)
	}
	for _, r := range out.Results {
		if r.TotalScore < 0 || r.TotalScore > 1 {
			t.Errorf("total score out of range: %v", r.TotalScore)
		}
	}
}

func TestExecuteOverFetchesForReRanking(t *testing.T) {
	var summaries []games.Summary
	pgns := map[int64]string{}
	for i := int64(1); i <= 30; i++ {
		summaries = append(summaries, summary(i, "Player", 2800-i, "french_defense"))
		pgns[i] = "1. e4 e6"
	}
	fetcher := &fakeFetcher{page: games.Page{Summaries: summaries, Total: 30}}
	// Only a game well outside the first page convinces the agent.
	evaluator := &fakeAgent{scores: map[int64]float64{23: 1.0}}

	e := newTestExecutor(t, Config{AgentEnabled: true}, fetcher, &fakeSearcher{},
		&fakePGNs{pgns: pgns}, evaluator, nil, nil)

	out, err := e.Execute(context.Background(), testPlan(5))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fetcher.gotLimit != 25 {
		t.Errorf("expected SQL fetch of 25 rows for limit 5, got %d", fetcher.gotLimit)
	}
	if len(evaluator.lastIDs) != 25 {
		t.Errorf("expected agent to see 25 candidates, got %d", len(evaluator.lastIDs))
	}
	if len(out.Results) != 5 {
		t.Fatalf("expected page truncated to 5 results, got %d", len(out.Results))
	}
	if out.Results[0].Summary.ID != 23 {
		t.Errorf("expected agent to pull game 23 into the page, got %d first", out.Results[0].Summary.ID)
	}
	if out.Total != 30 || !out.HasMore {
		t.Errorf("unexpected pagination: total %d, has_more %v", out.Total, out.HasMore)
	}
}

func TestExecuteVectorFailureDegrades(t *testing.T) {
	fetcher := &fakeFetcher{page: games.Page{
		Summaries: []games.Summary{summary(1, "Tal", 2700, "french_defense")},
		Total:     1,
	}}
	searcher := &fakeSearcher{err: errors.New("qdrant down at redis://cache:6379")}

	e := newTestExecutor(t, Config{}, fetcher, searcher, &fakePGNs{}, nil, nil, nil)
	out, err := e.Execute(context.Background(), testPlan(5))
	if err != nil {
		t.Fatalf("Execute should not fail on vector outage: %v", err)
	}
	if len(out.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", out.Warnings)
	}
	if out.HasMore {
		t.Error("expected no further pages")
	}
	// Fallback path still scores from metadata.
	if out.Results[0].VectorScore == 0 {
		t.Error("expected metadata fallback vector score")
	}
}

func TestExecuteSurfacesSearcherWarnings(t *testing.T) {
	fetcher := &fakeFetcher{page: games.Page{
		Summaries: []games.Summary{summary(1, "Tal", 2700, "french_defense")},
		Total:     1,
	}}
	searcher := &fakeSearcher{warnings: []string{"embedding provider unavailable, semantic search used a fallback query vector"}}

	e := newTestExecutor(t, Config{}, fetcher, searcher, &fakePGNs{}, nil, nil, nil)
	out, err := e.Execute(context.Background(), testPlan(5))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Warnings) != 1 || out.Warnings[0] != searcher.warnings[0] {
		t.Errorf("expected fallback vector warning surfaced, got %v", out.Warnings)
	}
}

func TestExecuteSQLFailureFails(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused to postgres://user:pw@db/games")}
	e := newTestExecutor(t, Config{}, fetcher, &fakeSearcher{}, &fakePGNs{}, nil, nil, nil)

	_, err := e.Execute(context.Background(), testPlan(5))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestExecuteAgentReRanks(t *testing.T) {
	fetcher := &fakeFetcher{page: games.Page{
		Summaries: []games.Summary{
			summary(1, "Anand", 2780, "french_defense"),
			summary(2, "Gelfand", 2740, "french_defense"),
		},
		Total: 2,
	}}
	searcher := &fakeSearcher{hits: map[int64]VectorHit{1: {Score: 0.9}, 2: {Score: 0.5}}}
	evaluator := &fakeAgent{
		scores:       map[int64]float64{1: 0.1, 2: 1.0},
		explanations: map[int64]string{2: "textbook example"},
	}
	gate := breaker.New(breaker.Config{Threshold: 3, Cooloff: time.Minute}, zaptest.NewLogger(t))
	cache := agent.NewMemoryCache(8)

	e := newTestExecutor(t, Config{AgentEnabled: true}, fetcher, searcher,
		&fakePGNs{pgns: map[int64]string{1: "1. e4", 2: "1. d4"}}, evaluator, gate, cache)

	out, err := e.Execute(context.Background(), testPlan(2))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.AgentStatus != AgentEnabled {
		t.Errorf("expected agent enabled, got %q", out.AgentStatus)
	}
	if out.Results[0].Summary.ID != 2 {
		t.Errorf("agent verdict should outrank retrieval, got game %d first", out.Results[0].Summary.ID)
	}
	if out.Results[0].Explanation != "textbook example" {
		t.Errorf("expected explanation carried through, got %q", out.Results[0].Explanation)
	}
	if out.Results[0].AgentScore == nil || *out.Results[0].AgentScore != 1.0 {
		t.Error("expected agent score attached")
	}
	if out.AgentEffort != "medium" {
		t.Errorf("expected reasoning effort reported, got %q", out.AgentEffort)
	}
	if out.AgentUsage == nil || out.AgentUsage.PromptTokens != 100 {
		t.Error("expected usage reported")
	}
	for _, r := range out.Results {
		if r.TotalScore > 1 {
			t.Errorf("total exceeds 1: %v", r.TotalScore)
		}
	}

	// Second run must come from cache, usage included.
	out, err = e.Execute(context.Background(), testPlan(2))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if evaluator.calls != 1 {
		t.Errorf("expected cached evaluations on second run, got %d calls", evaluator.calls)
	}
	if out.AgentUsage == nil || out.AgentUsage.PromptTokens != 100 {
		t.Error("expected usage restored from cached evaluations")
	}
}

func TestExecuteAgentEvaluatesOnlyCacheMisses(t *testing.T) {
	fetcher := &fakeFetcher{page: games.Page{
		Summaries: []games.Summary{
			summary(1, "Anand", 2780, "french_defense"),
			summary(2, "Gelfand", 2740, "french_defense"),
		},
		Total: 2,
	}}
	evaluator := &fakeAgent{scores: map[int64]float64{1: 0.5, 2: 0.5, 3: 0.5}}
	cache := agent.NewMemoryCache(8)
	pgns := &fakePGNs{pgns: map[int64]string{1: "1. e4", 2: "1. d4", 3: "1. c4"}}

	e := newTestExecutor(t, Config{AgentEnabled: true}, fetcher, &fakeSearcher{},
		pgns, evaluator, nil, cache)

	if _, err := e.Execute(context.Background(), testPlan(3)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if evaluator.calls != 1 || len(evaluator.lastIDs) != 2 {
		t.Fatalf("expected one call with 2 candidates, got %d calls with %v", evaluator.calls, evaluator.lastIDs)
	}

	// A new candidate joins the pool; cached verdicts must survive.
	fetcher.page.Summaries = append(fetcher.page.Summaries, summary(3, "Kramnik", 2760, "french_defense"))
	fetcher.page.Total = 3

	if _, err := e.Execute(context.Background(), testPlan(3)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if evaluator.calls != 2 {
		t.Fatalf("expected a second call for the new candidate, got %d calls", evaluator.calls)
	}
	if len(evaluator.lastIDs) != 1 || evaluator.lastIDs[0] != 3 {
		t.Errorf("expected only the uncached candidate evaluated, got %v", evaluator.lastIDs)
	}
}

func TestExecuteAgentFailureDegrades(t *testing.T) {
	fetcher := &fakeFetcher{page: games.Page{
		Summaries: []games.Summary{summary(1, "Carlsen", 2850, "french_defense")},
		Total:     1,
	}}
	evaluator := &fakeAgent{err: errors.New("model overloaded")}
	gate := breaker.New(breaker.Config{Threshold: 1, Cooloff: time.Minute}, zaptest.NewLogger(t))

	e := newTestExecutor(t, Config{AgentEnabled: true}, fetcher, &fakeSearcher{},
		&fakePGNs{pgns: map[int64]string{1: "1. e4"}}, evaluator, gate, agent.NewMemoryCache(8))

	out, err := e.Execute(context.Background(), testPlan(1))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Results) != 1 {
		t.Fatal("expected base results despite agent failure")
	}
	if len(out.Warnings) == 0 {
		t.Error("expected a warning")
	}
	if gate.Status() != breaker.StatusOpen {
		t.Errorf("expected breaker open after failure at threshold 1, got %v", gate.Status())
	}

	// Next query sees the open circuit.
	out, err = e.Execute(context.Background(), testPlan(1))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.AgentStatus != AgentCircuitOpen {
		t.Errorf("expected circuit_open, got %q", out.AgentStatus)
	}
	if evaluator.calls != 1 {
		t.Errorf("expected no agent call while open, got %d", evaluator.calls)
	}
}

func TestExecuteCandidateWindowCapped(t *testing.T) {
	var summaries []games.Summary
	for i := int64(1); i <= 40; i++ {
		summaries = append(summaries, summary(i, "Player", 2500+i, "french_defense"))
	}
	fetcher := &fakeFetcher{page: games.Page{Summaries: summaries, Total: 40}}

	var gotIDs []int64
	pgns := &fakePGNs{pgns: map[int64]string{}}
	evaluator := &fakeAgent{}
	capture := &capturePGNs{inner: pgns, ids: &gotIDs}

	e := newTestExecutor(t, Config{AgentEnabled: true, CandidateMax: 25, CandidateMultiplier: 5},
		fetcher, &fakeSearcher{}, capture, evaluator, nil, nil)

	if _, err := e.Execute(context.Background(), testPlan(40)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(gotIDs) != 25 {
		t.Errorf("expected candidate window capped at 25, got %d", len(gotIDs))
	}
}

type capturePGNs struct {
	inner PGNFetcher
	ids   *[]int64
}

func (c *capturePGNs) FetchPGNs(ctx context.Context, ids []int64) (map[int64]string, error) {
	*c.ids = append(*c.ids, ids...)
	return c.inner.FetchPGNs(ctx, ids)
}
