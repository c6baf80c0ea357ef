package httpapi

import (
	"fmt"

	"github.com/chessmate-labs/chessmate/internal/agent"
	"github.com/chessmate-labs/chessmate/internal/executor"
	"github.com/chessmate-labs/chessmate/internal/intent"
)

// queryResponse is the wire shape of a successful /query call.
type queryResponse struct {
	Question    string       `json:"question"`
	Plan        intent.Plan  `json:"plan"`
	Summary     string       `json:"summary"`
	Results     []gameResult `json:"results"`
	Total       int          `json:"total"`
	Offset      int          `json:"offset"`
	HasMore     bool         `json:"has_more"`
	AgentStatus string       `json:"agent_status"`
	Warnings    []string     `json:"warnings,omitempty"`
}

type gameResult struct {
	GameID      int64    `json:"game_id"`
	White       string   `json:"white"`
	Black       string   `json:"black"`
	Result      string   `json:"result,omitempty"`
	Year        int      `json:"year,omitempty"`
	Event       string   `json:"event,omitempty"`
	OpeningSlug string   `json:"opening_slug,omitempty"`
	OpeningName string   `json:"opening_name,omitempty"`
	ECO         string   `json:"eco,omitempty"`
	Phases      []string `json:"phases,omitempty"`
	Themes      []string `json:"themes,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	WhiteElo    int64    `json:"white_elo,omitempty"`
	BlackElo    int64    `json:"black_elo,omitempty"`
	Synopsis    string   `json:"synopsis,omitempty"`

	Score                float64      `json:"score"`
	VectorScore          float64      `json:"vector_score"`
	KeywordScore         float64      `json:"keyword_score"`
	AgentScore           *float64     `json:"agent_score,omitempty"`
	AgentExplanation     string       `json:"agent_explanation,omitempty"`
	AgentThemes          []string     `json:"agent_themes,omitempty"`
	AgentReasoningEffort string       `json:"agent_reasoning_effort,omitempty"`
	AgentUsage           *agent.Usage `json:"agent_usage,omitempty"`
}

func buildQueryResponse(question string, out executor.Output) queryResponse {
	resp := queryResponse{
		Question:    question,
		Plan:        out.Plan,
		Results:     make([]gameResult, 0, len(out.Results)),
		Total:       out.Total,
		Offset:      out.Plan.Offset,
		HasMore:     out.HasMore,
		AgentStatus: out.AgentStatus,
		Warnings:    out.Warnings,
	}
	for _, r := range out.Results {
		s := r.Summary
		g := gameResult{
			GameID:       s.ID,
			White:        s.White,
			Black:        s.Black,
			Result:       s.Result.String,
			Year:         s.Year(),
			Event:        s.Event.String,
			OpeningSlug:  s.OpeningSlug.String,
			OpeningName:  s.OpeningName.String,
			ECO:          s.ECOCode.String,
			Phases:       r.Phases,
			Themes:       r.Themes,
			Keywords:     r.Keywords,
			WhiteElo:     s.WhiteElo.Int64,
			BlackElo:     s.BlackElo.Int64,
			Synopsis:     s.Synopsis.String,
			Score:        r.TotalScore,
			VectorScore:  r.VectorScore,
			KeywordScore: r.KeywordScore,
		}
		if r.AgentScore != nil {
			g.AgentScore = r.AgentScore
			g.AgentExplanation = r.Explanation
			g.AgentThemes = r.AgentThemes
			g.AgentReasoningEffort = out.AgentEffort
			g.AgentUsage = out.AgentUsage
		}
		resp.Results = append(resp.Results, g)
	}
	resp.Summary = summarize(out)
	return resp
}

func summarize(out executor.Output) string {
	if out.Total == 0 {
		return "No games matched your query."
	}
	return fmt.Sprintf("Found %d matching games, showing %d starting at offset %d.",
		out.Total, len(out.Results), out.Plan.Offset)
}
