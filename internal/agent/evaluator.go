// Package agent re-ranks candidate games with an LLM. One call scores a
// whole candidate set; results are cached and the caller decides whether
// the agent runs at all.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate-labs/chessmate/internal/games"
	"github.com/chessmate-labs/chessmate/internal/intent"
	"github.com/chessmate-labs/chessmate/internal/metrics"
	"github.com/chessmate-labs/chessmate/internal/sanitize"
)

const defaultBaseURL = "https://api.openai.com/v1"

const systemPrompt = `You are a chess analyst. You receive a user's request and a set of candidate games with metadata and PGN. Score how well each game matches the request on a 0.0 to 1.0 scale. Respond with JSON only, in the form {"evaluations":[{"game_id":<id>,"score":<0..1>,"explanation":"<one sentence>","themes":["<theme>", ...]}]}. Include every candidate exactly once.`

// Candidate is one game handed to the agent: its summary plus PGN.
type Candidate struct {
	Summary games.Summary
	PGN     string
}

// Evaluation is the agent's verdict on one game. ReasoningEffort and
// Usage record the call that produced it, so cached verdicts keep their
// provenance.
type Evaluation struct {
	GameID          int64    `json:"game_id"`
	Score           float64  `json:"score"`
	Explanation     string   `json:"explanation,omitempty"`
	Themes          []string `json:"themes,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
	Usage           *Usage   `json:"usage,omitempty"`
}

// Usage reports token consumption for one evaluation call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens"`
}

// Config holds evaluator settings.
type Config struct {
	APIKey           string
	Model            string
	BaseURL          string
	ReasoningEffort  string
	Verbosity        string
	Timeout          time.Duration
	PGNTruncateChars int

	CostInputPer1K     float64
	CostOutputPer1K    float64
	CostReasoningPer1K float64
}

// Evaluator calls the LLM provider.
type Evaluator struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

// New builds an evaluator.
func New(cfg Config, logger *zap.Logger) *Evaluator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PGNTruncateChars <= 0 {
		cfg.PGNTruncateChars = 3000
	}
	return &Evaluator{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

type chatRequest struct {
	Model           string        `json:"model"`
	Messages        []chatMessage `json:"messages"`
	ResponseFormat  *respFormat   `json:"response_format,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
	Verbosity       string        `json:"verbosity,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens            int `json:"prompt_tokens"`
		CompletionTokens        int `json:"completion_tokens"`
		CompletionTokensDetails struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
}

type evaluationEnvelope struct {
	Evaluations []Evaluation `json:"evaluations"`
}

// Evaluate scores the candidate set against the plan in one provider
// call. Scores come back clamped to [0,1]; entries the model returned
// without a known game_id are dropped.
func (e *Evaluator) Evaluate(ctx context.Context, plan intent.Plan, candidates []Candidate) ([]Evaluation, Usage, error) {
	if len(candidates) == 0 {
		return nil, Usage{}, nil
	}
	start := time.Now()
	effort := e.ReasoningEffort(plan)

	body, _ := json.Marshal(chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: e.buildPrompt(plan, candidates)},
		},
		ResponseFormat:  &respFormat{Type: "json_object"},
		ReasoningEffort: effort,
		Verbosity:       e.verbosityFor(plan),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, Usage{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.http.Do(req)
	if err != nil {
		metrics.RecordAgentEvaluation("error", time.Since(start).Seconds())
		return nil, Usage{}, fmt.Errorf("agent request: %s", sanitize.Error(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.RecordAgentEvaluation("error", time.Since(start).Seconds())
		return nil, Usage{}, fmt.Errorf("agent provider status %d: %s", resp.StatusCode, sanitize.String(string(raw)))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		metrics.RecordAgentEvaluation("error", time.Since(start).Seconds())
		return nil, Usage{}, fmt.Errorf("decode agent response: %w", err)
	}
	if len(cr.Choices) == 0 {
		metrics.RecordAgentEvaluation("error", time.Since(start).Seconds())
		return nil, Usage{}, fmt.Errorf("agent returned no choices")
	}

	var env evaluationEnvelope
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &env); err != nil {
		metrics.RecordAgentEvaluation("error", time.Since(start).Seconds())
		return nil, Usage{}, fmt.Errorf("agent returned malformed evaluations: %w", err)
	}

	usage := Usage{
		PromptTokens:     cr.Usage.PromptTokens,
		CompletionTokens: cr.Usage.CompletionTokens,
		ReasoningTokens:  cr.Usage.CompletionTokensDetails.ReasoningTokens,
	}

	known := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		known[c.Summary.ID] = true
	}
	evals := make([]Evaluation, 0, len(env.Evaluations))
	for _, ev := range env.Evaluations {
		if !known[ev.GameID] {
			continue
		}
		if ev.Score < 0 {
			ev.Score = 0
		}
		if ev.Score > 1 {
			ev.Score = 1
		}
		ev.ReasoningEffort = effort
		ev.Usage = &usage
		evals = append(evals, ev)
	}
	elapsed := time.Since(start)
	metrics.RecordAgentEvaluation("ok", elapsed.Seconds())
	e.log.Info("Agent evaluation completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("evaluations", len(evals)),
		zap.Duration("duration", elapsed),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Int("reasoning_tokens", usage.ReasoningTokens),
		zap.Float64("cost_usd", e.cost(usage)),
	)
	return evals, usage, nil
}

func (e *Evaluator) cost(u Usage) float64 {
	return float64(u.PromptTokens)/1000*e.cfg.CostInputPer1K +
		float64(u.CompletionTokens)/1000*e.cfg.CostOutputPer1K +
		float64(u.ReasoningTokens)/1000*e.cfg.CostReasoningPer1K
}

// ReasoningEffort raises reasoning effort for thematic requests, which
// need the model to actually read the moves.
func (e *Evaluator) ReasoningEffort(plan intent.Plan) string {
	if plan.HasFilter(intent.FieldTheme) || len(plan.Keywords) >= 4 {
		return "high"
	}
	if e.cfg.ReasoningEffort != "" {
		return e.cfg.ReasoningEffort
	}
	return "medium"
}

func (e *Evaluator) verbosityFor(plan intent.Plan) string {
	if len(plan.Filters) <= 1 && len(plan.Keywords) <= 2 {
		return "low"
	}
	if e.cfg.Verbosity != "" && e.cfg.Verbosity != "low" {
		return e.cfg.Verbosity
	}
	return "medium"
}

func (e *Evaluator) buildPrompt(plan intent.Plan, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("Request: ")
	b.WriteString(plan.CleanedText)
	b.WriteString("\n")
	if len(plan.Keywords) > 0 {
		b.WriteString("Keywords: ")
		b.WriteString(strings.Join(plan.Keywords, ", "))
		b.WriteString("\n")
	}
	for _, f := range plan.Filters {
		fmt.Fprintf(&b, "Filter: %s = %s\n", f.Field, f.Value)
	}
	b.WriteString("\nCandidates:\n")

	for _, c := range candidates {
		s := c.Summary
		fmt.Fprintf(&b, "\n--- game_id: %d ---\n", s.ID)
		fmt.Fprintf(&b, "White: %s (%d)  Black: %s (%d)\n",
			s.White, s.WhiteElo.Int64, s.Black, s.BlackElo.Int64)
		if s.OpeningName.Valid {
			fmt.Fprintf(&b, "Opening: %s (%s)\n", s.OpeningName.String, s.ECOCode.String)
		}
		if s.Result.Valid {
			fmt.Fprintf(&b, "Result: %s\n", s.Result.String)
		}
		if s.Synopsis.Valid {
			fmt.Fprintf(&b, "Synopsis: %s\n", s.Synopsis.String)
		}
		pgn := c.PGN
		if len(pgn) > e.cfg.PGNTruncateChars {
			pgn = pgn[:e.cfg.PGNTruncateChars] + "..."
		}
		b.WriteString("PGN:\n")
		b.WriteString(pgn)
		b.WriteString("\n")
	}
	return b.String()
}
