package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/chessmate-labs/chessmate/internal/intent"
)

func newTestEvaluator(t *testing.T, handler http.Handler) *Evaluator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		APIKey:           "test-key",
		Model:            "gpt-5-mini",
		BaseURL:          srv.URL,
		PGNTruncateChars: 3000,
	}, zaptest.NewLogger(t))
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"content": content}},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     120,
			"completion_tokens": 40,
			"completion_tokens_details": map[string]interface{}{
				"reasoning_tokens": 10,
			},
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode reply: %v", err)
	}
}

func TestEvaluateParsesScores(t *testing.T) {
	e := newTestEvaluator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, `{"evaluations":[
			{"game_id":1,"score":0.9,"explanation":"model attack","themes":["king_attack"]},
			{"game_id":2,"score":0.3}
		]}`)
	}))

	cands := []Candidate{candidate(1, "ruy_lopez", "1. e4 e5"), candidate(2, "ruy_lopez", "1. e4 e5 2. Nf3")}
	evals, usage, err := e.Evaluate(context.Background(), intent.Plan{CleanedText: "attacking games"}, cands)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(evals) != 2 {
		t.Fatalf("expected 2 evaluations, got %d", len(evals))
	}
	if evals[0].Score != 0.9 || evals[0].Themes[0] != "king_attack" {
		t.Errorf("unexpected first evaluation: %+v", evals[0])
	}
	if usage.PromptTokens != 120 || usage.ReasoningTokens != 10 {
		t.Errorf("unexpected usage: %+v", usage)
	}
	for _, ev := range evals {
		if ev.ReasoningEffort == "" {
			t.Errorf("evaluation %d missing reasoning effort", ev.GameID)
		}
		if ev.Usage == nil || ev.Usage.PromptTokens != 120 {
			t.Errorf("evaluation %d missing call usage: %+v", ev.GameID, ev.Usage)
		}
	}
}

func TestEvaluateClampsAndFilters(t *testing.T) {
	e := newTestEvaluator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, `{"evaluations":[
			{"game_id":1,"score":1.7},
			{"game_id":2,"score":-0.4},
			{"game_id":99,"score":0.5}
		]}`)
	}))

	cands := []Candidate{candidate(1, "", "x"), candidate(2, "", "y")}
	evals, _, err := e.Evaluate(context.Background(), intent.Plan{}, cands)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(evals) != 2 {
		t.Fatalf("expected hallucinated game dropped, got %d evaluations", len(evals))
	}
	if evals[0].Score != 1 || evals[1].Score != 0 {
		t.Errorf("scores not clamped: %+v", evals)
	}
}

func TestEvaluateMalformedContent(t *testing.T) {
	e := newTestEvaluator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "I think game 1 is best!")
	}))

	if _, _, err := e.Evaluate(context.Background(), intent.Plan{}, []Candidate{candidate(1, "", "x")}); err == nil {
		t.Fatal("expected error on non-JSON content")
	}
}

func TestEvaluateProviderError(t *testing.T) {
	e := newTestEvaluator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded for sk-live-key", http.StatusTooManyRequests)
	}))

	_, _, err := e.Evaluate(context.Background(), intent.Plan{}, []Candidate{candidate(1, "", "x")})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "sk-live-key") {
		t.Errorf("error leaked a secret: %v", err)
	}
}

func TestEvaluateEmptyCandidates(t *testing.T) {
	e := newTestEvaluator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	evals, _, err := e.Evaluate(context.Background(), intent.Plan{}, nil)
	if err != nil || evals != nil {
		t.Errorf("expected nil, nil; got %v, %v", evals, err)
	}
}

func TestEvaluateRequestShape(t *testing.T) {
	var got chatRequest
	e := newTestEvaluator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		chatReply(t, w, `{"evaluations":[{"game_id":1,"score":0.5}]}`)
	}))

	plan := intent.Plan{
		CleanedText: "endgame fortresses with queenside majority structures",
		Keywords:    []string{"endgame", "fortresses", "queenside", "majority", "structures"},
		Filters: []intent.Filter{
			{Field: intent.FieldTheme, Value: "fortress"},
			{Field: intent.FieldPhase, Value: "endgame"},
		},
	}
	longPGN := strings.Repeat("1. e4 e5 ", 1000)
	cand := Candidate{PGN: longPGN}
	cand.Summary.ID = 1
	cand.Summary.Result = sql.NullString{String: "1/2-1/2", Valid: true}

	if _, _, err := e.Evaluate(context.Background(), plan, []Candidate{cand}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.ReasoningEffort != "high" {
		t.Errorf("expected high effort for thematic request, got %q", got.ReasoningEffort)
	}
	if got.Verbosity != "medium" {
		t.Errorf("expected medium verbosity, got %q", got.Verbosity)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Error("expected json_object response format")
	}
	user := got.Messages[1].Content
	if !strings.Contains(user, "game_id: 1") {
		t.Error("prompt missing candidate header")
	}
	if !strings.Contains(user, "...") || len(user) > len(longPGN) {
		t.Error("expected PGN truncated with ellipsis")
	}
}
