package executor

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/chessmate-labs/chessmate/internal/embeddings"
	"github.com/chessmate-labs/chessmate/internal/intent"
	"github.com/chessmate-labs/chessmate/internal/sanitize"
	"github.com/chessmate-labs/chessmate/internal/vectordb"
)

// Embedder turns texts into vectors. Nil means no provider is
// configured and the deterministic fallback is used instead.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the query slice of the vector database client.
type VectorStore interface {
	Query(ctx context.Context, vec []float32, limit int, filter map[string]interface{}) ([]vectordb.Point, error)
}

// Searcher runs semantic retrieval for a plan: embed the cleaned text,
// translate plan filters into payload clauses, and collapse position
// hits to a per-game maximum score.
type Searcher struct {
	embedder   Embedder
	store      VectorStore
	vectorSize int
	log        *zap.Logger
}

// NewSearcher builds a searcher. embedder may be nil.
func NewSearcher(embedder Embedder, store VectorStore, vectorSize int, logger *zap.Logger) *Searcher {
	return &Searcher{embedder: embedder, store: store, vectorSize: vectorSize, log: logger}
}

// Search returns the best hit per game ID, with payload metadata merged
// across that game's matching positions. Warnings report degraded
// retrieval, such as a fallback query vector.
func (s *Searcher) Search(ctx context.Context, plan intent.Plan, limit int) (map[int64]VectorHit, []string, error) {
	text := plan.CleanedText
	if text == "" {
		text = strings.Join(plan.Keywords, " ")
	}

	vec, degraded := s.queryVector(ctx, text)
	var warnings []string
	if degraded {
		warnings = append(warnings, "embedding provider unavailable, semantic search used a fallback query vector")
	}
	points, err := s.store.Query(ctx, vec, limit, buildPayloadFilter(plan))
	if err != nil {
		return nil, warnings, err
	}

	hits := make(map[int64]VectorHit, len(points))
	for _, p := range points {
		id, ok := payloadGameID(p.Payload)
		if !ok {
			continue
		}
		hit := hits[id]
		if p.Score > hit.Score {
			hit.Score = p.Score
		}
		hit.Phases = mergeStrings(hit.Phases, payloadStrings(p.Payload, "phases"))
		hit.Themes = mergeStrings(hit.Themes, payloadStrings(p.Payload, "themes"))
		hit.Keywords = mergeStrings(hit.Keywords, payloadStrings(p.Payload, "keywords"))
		hits[id] = hit
	}
	return hits, warnings, nil
}

// queryVector embeds the text, falling back to a deterministic vector
// when no provider is configured or the provider call fails. A degraded
// query vector still beats no semantic signal at all; the second return
// reports that degradation so it reaches the response warnings.
func (s *Searcher) queryVector(ctx context.Context, text string) ([]float32, bool) {
	if s.embedder == nil {
		return embeddings.FallbackVector(text, s.vectorSize), true
	}
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil || len(vecs) != 1 {
		s.log.Warn("Query embedding failed, using fallback vector",
			zap.String("error", sanitize.Error(err)))
		return embeddings.FallbackVector(text, s.vectorSize), true
	}
	return vecs[0], false
}

// buildPayloadFilter maps plan filters onto Qdrant must clauses. ECO
// ranges have no payload representation and stay SQL-only.
func buildPayloadFilter(plan intent.Plan) map[string]interface{} {
	var must []map[string]interface{}
	match := func(key, value string) map[string]interface{} {
		return map[string]interface{}{
			"key":   key,
			"match": map[string]interface{}{"value": value},
		}
	}
	for _, f := range plan.Filters {
		switch f.Field {
		case intent.FieldOpening:
			must = append(must, match("opening_slug", f.Value))
		case intent.FieldPhase:
			must = append(must, match("phases", f.Value))
		case intent.FieldTheme:
			must = append(must, match("themes", f.Value))
		}
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]interface{}{"must": must}
}

func payloadStrings(payload map[string]interface{}, key string) []string {
	raw, ok := payload[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func mergeStrings(dst, src []string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}

func payloadGameID(payload map[string]interface{}) (int64, bool) {
	raw, ok := payload["game_id"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}
