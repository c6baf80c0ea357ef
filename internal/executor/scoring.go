package executor

import (
	"math"
	"sort"
	"strings"

	"github.com/chessmate-labs/chessmate/internal/games"
	"github.com/chessmate-labs/chessmate/internal/intent"
)

// Fusion weights. Base score blends the two retrieval signals; when the
// agent runs its verdict dominates but never erases retrieval entirely.
const (
	baseVectorWeight  = 0.75
	baseKeywordWeight = 0.25
	fusionBaseWeight  = 0.6
	fusionAgentWeight = 0.4
)

// Fallback vector scores for games the vector store did not return.
const (
	fallbackUnfiltered  = 0.6
	fallbackMatchedBase = 0.4
	fallbackMatchedSpan = 0.6
)

// scoreBase computes vector, keyword, and fused base scores for each
// summary and returns results sorted by base score descending. The sort
// is stable, so ties keep the repository's rating-then-date order.
func scoreBase(plan intent.Plan, summaries []games.Summary, vectorHits map[int64]VectorHit) []Result {
	results := make([]Result, 0, len(summaries))
	for _, s := range summaries {
		hit, hasHit := vectorHits[s.ID]
		var vs float64
		if hasHit && ratingSatisfied(plan.Rating, s) {
			vs = normalizeScore(hit.Score)
		} else {
			vs = fallbackVectorScore(plan, s)
		}
		ks := keywordScore(plan.Keywords, s, hit.Keywords)
		results = append(results, Result{
			Summary:      s,
			VectorScore:  vs,
			KeywordScore: ks,
			TotalScore:   baseVectorWeight*vs + baseKeywordWeight*ks,
			Phases:       hit.Phases,
			Themes:       hit.Themes,
			Keywords:     hit.Keywords,
		})
	}
	sortResults(results)
	return results
}

// applyAgentScores folds agent verdicts into the totals and re-sorts.
// Games the agent did not score keep their base total.
func applyAgentScores(results []Result, evals map[int64]agentVerdict) {
	for i := range results {
		v, ok := evals[results[i].Summary.ID]
		if !ok {
			continue
		}
		score := v.score
		results[i].AgentScore = &score
		results[i].Explanation = v.explanation
		results[i].AgentThemes = v.themes
		total := fusionBaseWeight*results[i].TotalScore + fusionAgentWeight*score
		results[i].TotalScore = math.Min(1, total)
	}
	sortResults(results)
}

type agentVerdict struct {
	score       float64
	explanation string
	themes      []string
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TotalScore > results[j].TotalScore
	})
}

// normalizeScore clamps a raw similarity to [0,1] and zeroes anything
// non-finite.
func normalizeScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fallbackVectorScore substitutes for a missing vector hit from metadata
// alone. A game that fails the plan's rating bounds scores zero; an
// unfiltered plan treats every SQL row as a moderate match; otherwise
// the score grows with the fraction of filters the metadata satisfies.
func fallbackVectorScore(plan intent.Plan, s games.Summary) float64 {
	if !ratingSatisfied(plan.Rating, s) {
		return 0
	}
	if len(plan.Filters) == 0 {
		return fallbackUnfiltered
	}
	matched := 0
	for _, f := range plan.Filters {
		if filterMatches(f, s) {
			matched++
		}
	}
	frac := float64(matched) / float64(len(plan.Filters))
	return fallbackMatchedBase + fallbackMatchedSpan*frac
}

func ratingSatisfied(r intent.Rating, s games.Summary) bool {
	if r.WhiteMin > 0 && (!s.WhiteElo.Valid || s.WhiteElo.Int64 < int64(r.WhiteMin)) {
		return false
	}
	if r.BlackMin > 0 && (!s.BlackElo.Valid || s.BlackElo.Int64 < int64(r.BlackMin)) {
		return false
	}
	if r.MaxRatingDelta > 0 {
		delta := s.WhiteElo.Int64 - s.BlackElo.Int64
		if delta < 0 {
			delta = -delta
		}
		if delta > int64(r.MaxRatingDelta) {
			return false
		}
	}
	return true
}

// filterMatches checks one filter against summary metadata. Phase and
// theme filters live in the annotations table, which the SQL stage has
// already enforced, so they count as satisfied here.
func filterMatches(f intent.Filter, s games.Summary) bool {
	switch f.Field {
	case intent.FieldOpening:
		return s.OpeningSlug.Valid && s.OpeningSlug.String == f.Value
	case intent.FieldECORange:
		rng, err := intent.ParseECORange(f.Value)
		return err == nil && s.ECOCode.Valid && rng.Contains(s.ECOCode.String)
	case intent.FieldResult:
		return s.Result.Valid && s.Result.String == f.Value
	case intent.FieldPhase, intent.FieldTheme:
		return true
	}
	return false
}

// keywordScore is the overlap between plan keywords and the summary's
// metadata tokens, normalized by the keyword count. Keywords stored with
// the game's vector payload count as tokens too.
func keywordScore(keywords []string, s games.Summary, hitKeywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	tokens := summaryTokens(s)
	for _, k := range hitKeywords {
		tokens[strings.ToLower(k)] = true
	}
	matched := 0
	for _, k := range keywords {
		if tokens[k] {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}

func summaryTokens(s games.Summary) map[string]bool {
	tokens := make(map[string]bool)
	add := func(text string) {
		for _, t := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
		}) {
			if len(t) >= 3 {
				tokens[t] = true
			}
		}
	}
	add(s.White)
	add(s.Black)
	if s.Event.Valid {
		add(s.Event.String)
	}
	if s.OpeningName.Valid {
		add(s.OpeningName.String)
	}
	if s.OpeningSlug.Valid {
		add(strings.ReplaceAll(s.OpeningSlug.String, "_", " "))
	}
	return tokens
}
