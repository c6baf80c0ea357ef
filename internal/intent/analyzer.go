package intent

import (
	"strconv"
	"strings"
	"unicode"
)

// Analyzer derives query plans from natural-language questions.
type Analyzer struct {
	defaultLimit int
	maxLimit     int
	openings     []Opening
}

// NewAnalyzer builds an analyzer with the given pagination bounds.
func NewAnalyzer(defaultLimit, maxLimit int) *Analyzer {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if maxLimit <= 0 {
		maxLimit = 500
	}
	return &Analyzer{
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		openings:     Openings(),
	}
}

// Analyse builds a plan from the request. It is pure and total: malformed
// input produces an empty keyword list and no filters, never an error.
func (a *Analyzer) Analyse(req Request) Plan {
	cleaned := Normalize(req.Text)
	tokens := strings.Fields(cleaned)

	plan := Plan{
		CleanedText: cleaned,
		Limit:       a.resolveLimit(tokens, req.Limit),
		Offset:      maxInt(req.Offset, 0),
	}

	plan.Filters = a.detectFilters(cleaned)
	plan.Keywords = extractKeywords(tokens)
	plan.Rating = parseRating(tokens)
	plan.Filters = dedupeFilters(plan.Filters)
	return plan
}

// Normalize lowercases, keeps alphanumerics, drops ASCII apostrophes
// (so "King's" becomes "kings"), and maps everything else to a space.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'':
			// dropped: contractions collapse into one token
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// limit qualifiers: a small integer adjacent to one of these adopts as limit.
var limitQualifiers = map[string]bool{
	"top": true, "first": true, "show": true, "list": true,
	"give": true, "find": true, "return": true,
}

func (a *Analyzer) resolveLimit(tokens []string, requested int) int {
	if n, ok := extractLimit(tokens); ok {
		return clamp(n, 1, a.maxLimit)
	}
	if requested > 0 {
		return clamp(requested, 1, a.maxLimit)
	}
	return a.defaultLimit
}

func extractLimit(tokens []string) (int, bool) {
	for i, tok := range tokens {
		n, ok := parseCount(tok)
		if !ok || n > 50 {
			continue
		}
		if qualifierBefore(tokens, i, 3) || gamesAfter(tokens, i, 3) {
			return n, true
		}
	}
	return 0, false
}

func qualifierBefore(tokens []string, i, window int) bool {
	for j := i - 1; j >= 0 && j >= i-window; j-- {
		if limitQualifiers[tokens[j]] {
			return true
		}
	}
	return false
}

func gamesAfter(tokens []string, i, window int) bool {
	for j := i + 1; j < len(tokens) && j <= i+window; j++ {
		if tokens[j] == "games" || tokens[j] == "game" {
			return true
		}
	}
	return false
}

// phase and theme phrase tables, matched as substrings of cleaned text.
var phasePhrases = []struct{ phrase, slug string }{
	{"middlegame", "middlegame"},
	{"middle game", "middlegame"},
	{"endgame", "endgame"},
	{"end game", "endgame"},
	{"ending", "endgame"},
}

var themePhrases = []struct{ phrase, slug string }{
	{"queenside majority", "queenside_majority"},
	{"queen side majority", "queenside_majority"},
	{"exchange sacrifice", "exchange_sacrifice"},
	{"sacrifice", "sacrifice"},
	{"sacrificing", "sacrifice"},
	{"tactics", "tactics"},
	{"tactical", "tactics"},
	{"king attack", "king_attack"},
	{"kingside attack", "king_attack"},
	{"attack on the king", "king_attack"},
	{"pawn storm", "pawn_storm"},
	{"zugzwang", "zugzwang"},
	{"fortress", "fortress"},
	{"passed pawn", "passed_pawn"},
	{"pawn structure", "pawn_structure"},
	{"prophylaxis", "prophylaxis"},
}

func (a *Analyzer) detectFilters(cleaned string) []Filter {
	var filters []Filter

	for _, op := range a.openings {
		for _, phrase := range op.Phrases {
			if strings.Contains(cleaned, phrase) {
				filters = append(filters, Filter{Field: FieldOpening, Value: op.Slug})
				if _, err := ParseECORange(op.ECO); err == nil {
					filters = append(filters, Filter{Field: FieldECORange, Value: op.ECO})
				}
				break
			}
		}
	}

	for _, p := range phasePhrases {
		if strings.Contains(cleaned, p.phrase) {
			filters = append(filters, Filter{Field: FieldPhase, Value: p.slug})
		}
	}
	for _, t := range themePhrases {
		if strings.Contains(cleaned, t.phrase) {
			filters = append(filters, Filter{Field: FieldTheme, Value: t.slug})
		}
	}

	if result, ok := detectResult(cleaned); ok {
		filters = append(filters, Filter{Field: FieldResult, Value: result})
	}
	return filters
}

func detectResult(cleaned string) (string, bool) {
	switch {
	case strings.Contains(cleaned, "white win") || strings.Contains(cleaned, "white victor"):
		return "1-0", true
	case strings.Contains(cleaned, "black win") || strings.Contains(cleaned, "black victor"):
		return "0-1", true
	case strings.Contains(cleaned, "draw"):
		return "1/2-1/2", true
	}
	return "", false
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "are": true, "was": true, "were": true,
	"show": true, "find": true, "give": true, "list": true, "return": true,
	"top": true, "first": true, "please": true, "where": true, "which": true,
	"what": true, "who": true, "whose": true, "when": true, "how": true,
	"all": true, "any": true, "some": true, "than": true, "then": true,
	"into": true, "about": true, "did": true, "does": true,
	"can": true, "could": true, "would": true, "should": true, "have": true,
	"has": true, "had": true, "end": true, "ends": true, "ended": true,
	"played": true, "play": true, "between": true, "least": true, "most": true,
	"more": true, "less": true, "over": true, "above": true, "under": true,
	"below": true, "points": true, "rating": true, "rated": true, "elo": true,
	"white": true, "black": true, "win": true, "wins": true, "won": true,
	"you": true, "your": true, "out": true, "not": true, "but": true,
}

func extractKeywords(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, tok := range tokens {
		if len(tok) < 3 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// rating parsing vocabulary
var minQualifiers = map[string]bool{
	"least": true, "minimum": true, "min": true, "over": true, "above": true,
}

var deltaWords = map[string]bool{
	"lower": true, "less": true, "higher": true, "greater": true,
	"more": true, "fewer": true,
}

var ratingContextWords = map[string]bool{
	"points": true, "elo": true, "rating": true, "rated": true, "ratings": true,
}

// parseRating runs the stateful single pass of the spec: color tokens set
// context, numbers bind to minima or deltas depending on neighbors.
func parseRating(tokens []string) Rating {
	var r Rating
	color := "white"
	for i, tok := range tokens {
		switch tok {
		case "white":
			color = "white"
			continue
		case "black":
			color = "black"
			continue
		}

		n, ok := parseNumber(tok)
		if !ok {
			continue
		}

		if wordWithin(tokens, i-4, i-1, minQualifiers) {
			assignMin(&r, color, n)
			continue
		}
		if wordWithin(tokens, i+1, i+3, deltaWords) {
			if n > 0 {
				r.MaxRatingDelta = n
			}
			continue
		}
		// A bare number only counts as a rating when it is Elo-plausible
		// and the surrounding text is actually about ratings.
		if n >= 500 && n <= 3500 && wordWithin(tokens, i-4, i+4, ratingContextWords) {
			assignMin(&r, color, n)
		}
	}
	return r
}

func assignMin(r *Rating, color string, n int) {
	if n < 0 {
		return
	}
	if color == "black" {
		r.BlackMin = maxInt(r.BlackMin, n)
	} else {
		r.WhiteMin = maxInt(r.WhiteMin, n)
	}
}

func wordWithin(tokens []string, from, to int, set map[string]bool) bool {
	if from < 0 {
		from = 0
	}
	if to >= len(tokens) {
		to = len(tokens) - 1
	}
	for j := from; j <= to; j++ {
		if set[tokens[j]] {
			return true
		}
	}
	return false
}

var spelledNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
	"nineteen": 19, "twenty": 20, "thirty": 30, "forty": 40,
	"fifty": 50, "sixty": 60, "seventy": 70, "eighty": 80,
	"ninety": 90, "hundred": 100,
}

// parseNumber accepts Arabic integers and the spelled numbers the rating
// grammar recognizes.
func parseNumber(tok string) (int, bool) {
	if n, ok := spelledNumbers[tok]; ok {
		return n, true
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseCount is parseNumber restricted to plausible result-count values.
func parseCount(tok string) (int, bool) {
	n, ok := parseNumber(tok)
	if !ok || n < 1 {
		return 0, false
	}
	return n, true
}

func dedupeFilters(filters []Filter) []Filter {
	seen := make(map[Filter]bool, len(filters))
	out := filters[:0]
	for _, f := range filters {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
