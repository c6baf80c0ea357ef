// Package intent turns free-text questions about chess games into a
// structured, deterministic query plan. Analysis is a total function: it
// never calls out, never fails, and running it twice on the same input
// yields equal plans.
package intent

import (
	"fmt"
	"strings"
)

// Filter fields recognized by the retrieval pipeline.
const (
	FieldOpening  = "opening"
	FieldECORange = "eco_range"
	FieldPhase    = "phase"
	FieldTheme    = "theme"
	FieldResult   = "result"
)

// Request is the raw user input.
type Request struct {
	Text   string `json:"text"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Filter is a single metadata predicate. Values are slugs.
type Filter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Rating holds parsed rating bounds. Zero means unset.
type Rating struct {
	WhiteMin       int `json:"white_min"`
	BlackMin       int `json:"black_min"`
	MaxRatingDelta int `json:"max_rating_delta"`
}

// Plan is the immutable result of intent analysis.
type Plan struct {
	CleanedText string   `json:"cleaned_text"`
	Keywords    []string `json:"keywords"`
	Filters     []Filter `json:"filters"`
	Rating      Rating   `json:"rating"`
	Limit       int      `json:"limit"`
	Offset      int      `json:"offset"`
}

// HasFilter reports whether the plan carries a filter with the given field.
func (p Plan) HasFilter(field string) bool {
	for _, f := range p.Filters {
		if f.Field == field {
			return true
		}
	}
	return false
}

// FilterValue returns the first value for field, or "".
func (p Plan) FilterValue(field string) string {
	for _, f := range p.Filters {
		if f.Field == field {
			return f.Value
		}
	}
	return ""
}

// ECORange is an inclusive range of ECO codes, A00..E99.
type ECORange struct {
	From string
	To   string
}

// ParseECORange parses "A10-A39" or a single code "B01".
func ParseECORange(s string) (ECORange, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	parts := strings.SplitN(s, "-", 2)
	from := parts[0]
	to := from
	if len(parts) == 2 {
		to = parts[1]
	}
	if !validECO(from) || !validECO(to) {
		return ECORange{}, fmt.Errorf("invalid eco range %q", s)
	}
	if to < from {
		from, to = to, from
	}
	return ECORange{From: from, To: to}, nil
}

// Contains reports whether code falls inside the range. ECO codes share a
// fixed letter+two-digit shape, so lexicographic comparison is exact.
func (r ECORange) Contains(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !validECO(code) {
		return false
	}
	return code >= r.From && code <= r.To
}

func (r ECORange) String() string {
	if r.From == r.To {
		return r.From
	}
	return r.From + "-" + r.To
}

func validECO(code string) bool {
	if len(code) != 3 {
		return false
	}
	if code[0] < 'A' || code[0] > 'E' {
		return false
	}
	return code[1] >= '0' && code[1] <= '9' && code[2] >= '0' && code[2] <= '9'
}
