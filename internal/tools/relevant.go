package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/evrenesat/asky/internal/corpus"
	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/store"
	"github.com/evrenesat/asky/internal/vector"
)

type chunkPayload struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

func (s *Set) getRelevantContentTool() definition {
	return definition{
		spec: llm.ToolSpec{
			Name:        "get_relevant_content",
			Description: "Hybrid semantic and lexical search over cached documents: returns the chunks most relevant to a query. Accepts web URLs and corpus handles.",
			Guideline:   "Prefer get_relevant_content over full documents; it returns only the passages that matter.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"urls": {"type": "array", "items": {"type": "string"}},
					"query": {"type": "string"},
					"max_chunks": {"type": "integer", "minimum": 1},
					"dense_weight": {"type": "number", "minimum": 0, "maximum": 1},
					"min_relevance": {"type": "number"},
					"section": {"type": "string", "description": "Restrict to one section of a corpus document"}
				},
				"required": ["urls", "query"]
			}`),
		},
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			urls, err := argURLs(args)
			if err != nil {
				return nil, err
			}
			query := argString(args, "query")
			maxChunks := argInt(args, "max_chunks", s.deps.DefaultTopK)
			denseWeight := argFloat(args, "dense_weight", s.deps.DenseWeight)
			minScore := argFloat(args, "min_relevance", 0)
			section := argString(args, "section")

			out := make(map[string]any, len(urls))
			for _, u := range urls {
				if err := checkRemote(u, true); err != nil {
					out[u] = ErrorPayload{Error: err.Error()}
					continue
				}
				entry, err := s.loadDocument(ctx, u)
				if err != nil {
					out[u] = ErrorPayload{Error: err.Error()}
					continue
				}
				hits, err := s.searchChunks(ctx, entry, query, maxChunks, denseWeight, minScore)
				if err != nil {
					out[u] = ErrorPayload{Error: err.Error()}
					continue
				}
				hits = s.scopeToSection(ctx, u, section, entry, hits)

				chunks := make([]chunkPayload, len(hits))
				for i, h := range hits {
					chunks[i] = chunkPayload{Text: h.Text, Score: h.Score}
				}
				out[u] = map[string]any{"title": entry.Title, "chunks": chunks}
			}
			return out, nil
		},
	}
}

// searchChunks runs the hybrid search, generating chunk embeddings on
// demand for entries that have none yet.
func (s *Set) searchChunks(ctx context.Context, entry *store.CacheEntry, query string, topK int, denseWeight, minScore float64) ([]vector.ChunkHit, error) {
	if s.deps.Vector == nil {
		return nil, nil
	}

	has, err := s.deps.Vector.HasChunkEmbeddingsForModel(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	if !has && s.deps.Embedder != nil && !s.deps.Embedder.LoadFailed() {
		texts := corpus.SplitText(entry.Content, 1600, 200)
		if err := s.deps.Vector.StoreChunkEmbeddings(ctx, entry.ID, texts); err != nil {
			return nil, err
		}
	}
	return s.deps.Vector.SearchChunksHybrid(ctx, entry.ID, query, topK, denseWeight, minScore)
}

// scopeToSection drops hits that fall outside a requested corpus section.
// Chunk windows overlap section boundaries, so membership is tested on the
// chunk's leading text.
func (s *Set) scopeToSection(ctx context.Context, rawURL, section string, entry *store.CacheEntry, hits []vector.ChunkHit) []vector.ChunkHit {
	if !corpus.IsHandle(rawURL) || s.deps.Corpus == nil {
		return hits
	}
	if section == "" && !hasSectionFragment(rawURL) {
		return hits
	}

	_, _, text, err := s.deps.Corpus.ResolveSection(ctx, rawURL, section)
	if err != nil || text == "" {
		return hits
	}

	var scoped []vector.ChunkHit
	for _, h := range hits {
		probe := h.Text
		if len(probe) > 80 {
			probe = probe[:80]
		}
		if strings.Contains(text, probe) {
			scoped = append(scoped, h)
		}
	}
	return scoped
}
