package executor

import (
	"database/sql"
	"math"
	"testing"

	"github.com/chessmate-labs/chessmate/internal/games"
	"github.com/chessmate-labs/chessmate/internal/intent"
)

func TestNormalizeScore(t *testing.T) {
	cases := map[float64]float64{
		0.5:               0.5,
		-0.2:              0,
		1.7:               1,
		math.NaN():        0,
		math.Inf(1):       0,
		math.Inf(-1):      0,
		0:                 0,
		1:                 1,
	}
	for in, want := range cases {
		if got := normalizeScore(in); got != want {
			t.Errorf("normalizeScore(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestFallbackVectorScore(t *testing.T) {
	s := games.Summary{
		ID:          1,
		WhiteElo:    sql.NullInt64{Int64: 2400, Valid: true},
		BlackElo:    sql.NullInt64{Int64: 2380, Valid: true},
		OpeningSlug: sql.NullString{String: "sicilian_defense", Valid: true},
		ECOCode:     sql.NullString{String: "B33", Valid: true},
	}

	// Rating bound violated: hard zero.
	plan := intent.Plan{Rating: intent.Rating{WhiteMin: 2600}}
	if got := fallbackVectorScore(plan, s); got != 0 {
		t.Errorf("expected 0 for failed rating, got %v", got)
	}

	// No filters: moderate constant.
	if got := fallbackVectorScore(intent.Plan{}, s); got != fallbackUnfiltered {
		t.Errorf("expected %v for unfiltered plan, got %v", fallbackUnfiltered, got)
	}

	// Half the filters match.
	plan = intent.Plan{Filters: []intent.Filter{
		{Field: intent.FieldOpening, Value: "sicilian_defense"},
		{Field: intent.FieldResult, Value: "1-0"},
	}}
	want := fallbackMatchedBase + fallbackMatchedSpan*0.5
	if got := fallbackVectorScore(plan, s); math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, got)
	}

	// ECO range match counts.
	plan = intent.Plan{Filters: []intent.Filter{{Field: intent.FieldECORange, Value: "B20-B99"}}}
	if got := fallbackVectorScore(plan, s); got != 1 {
		t.Errorf("expected full fallback for matched eco range, got %v", got)
	}
}

func TestKeywordScore(t *testing.T) {
	s := games.Summary{
		White:       "Kasparov",
		Black:       "Karpov",
		OpeningName: sql.NullString{String: "King's Indian Defense", Valid: true},
		OpeningSlug: sql.NullString{String: "kings_indian_defense", Valid: true},
	}

	if got := keywordScore(nil, s, nil); got != 0 {
		t.Errorf("expected 0 for no keywords, got %v", got)
	}
	if got := keywordScore([]string{"kasparov", "indian"}, s, nil); got != 1 {
		t.Errorf("expected full overlap, got %v", got)
	}
	if got := keywordScore([]string{"kasparov", "najdorf"}, s, nil); got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
	if got := keywordScore([]string{"kasparov", "najdorf"}, s, []string{"najdorf"}); got != 1 {
		t.Errorf("expected vector keywords to count, got %v", got)
	}
}

func TestApplyAgentScoresCapsAtOne(t *testing.T) {
	results := []Result{
		{Summary: games.Summary{ID: 1}, TotalScore: 0.95},
		{Summary: games.Summary{ID: 2}, TotalScore: 0.2},
	}
	applyAgentScores(results, map[int64]agentVerdict{
		1: {score: 1.0},
	})
	if results[0].TotalScore > 1 {
		t.Errorf("total exceeds 1: %v", results[0].TotalScore)
	}
	if results[1].TotalScore != 0.2 {
		t.Errorf("unscored game should keep base total, got %v", results[1].TotalScore)
	}
}
