// Package vector provides semantic search over stored content: dense
// cosine ranking, hybrid dense+lexical chunk search, link ranking, and
// finding/memory recall.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/evrenesat/asky/internal/embed"
	"github.com/evrenesat/asky/internal/store"
)

// Index layers embedding search over the store. Every search operation
// returns an empty result, not an error, when embeddings are absent or the
// embedder has latched a failure; research degrades to lexical-only paths.
type Index struct {
	store    *store.Store
	embedder embed.Embedder
	logger   *slog.Logger

	// DenseWeight is the default hybrid blend; callers may override per
	// search. Clamped to [0,1].
	DenseWeight float64
	// BM25Window bounds the lexical candidate set per hybrid search.
	BM25Window int
}

// New creates an index over store and embedder.
func New(st *store.Store, embedder embed.Embedder, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		store:       st,
		embedder:    embedder,
		logger:      logger.With("component", "vector"),
		DenseWeight: 0.7,
		BM25Window:  200,
	}
}

// ChunkHit is one hybrid search result.
type ChunkHit struct {
	Text         string
	Score        float64
	DenseScore   float64
	LexicalScore float64
}

// LinkHit is one ranked link.
type LinkHit struct {
	Label string
	URL   string
	Score float64
}

// FindingHit is one recalled finding.
type FindingHit struct {
	Finding *store.Finding
	Score   float64
}

// MemoryHit is one recalled memory.
type MemoryHit struct {
	Memory store.Memory
	Score  float64
}

// StoreChunkEmbeddings replaces the chunk set for a cache entry: embeds all
// texts and stores them tagged with the embedding model.
func (ix *Index) StoreChunkEmbeddings(ctx context.Context, cacheID int64, texts []string) error {
	if len(texts) == 0 {
		return nil
	}
	if ix.embedder.LoadFailed() {
		// Store text-only chunks so lexical search still works.
		chunks := make([]store.Chunk, len(texts))
		for i, t := range texts {
			chunks[i] = store.Chunk{Index: i, Text: t}
		}
		return ix.store.ReplaceChunks(ctx, cacheID, chunks)
	}

	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		if ix.embedder.LoadFailed() {
			ix.logger.Warn("embedder failed, storing chunks without vectors", "cache_id", cacheID)
			chunks := make([]store.Chunk, len(texts))
			for i, t := range texts {
				chunks[i] = store.Chunk{Index: i, Text: t}
			}
			return ix.store.ReplaceChunks(ctx, cacheID, chunks)
		}
		return fmt.Errorf("vector: embedding chunks: %w", err)
	}

	chunks := make([]store.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = store.Chunk{Index: i, Text: t, Embedding: vecs[i], Model: ix.embedder.Model()}
	}
	return ix.store.ReplaceChunks(ctx, cacheID, chunks)
}

// HasChunkEmbeddings reports whether any chunks exist for the cache entry.
func (ix *Index) HasChunkEmbeddings(ctx context.Context, cacheID int64) (bool, error) {
	return ix.store.HasChunks(ctx, cacheID)
}

// HasChunkEmbeddingsForModel reports whether chunks embedded with the
// current model exist, so a model change triggers re-embedding.
func (ix *Index) HasChunkEmbeddingsForModel(ctx context.Context, cacheID int64) (bool, error) {
	return ix.store.HasChunksForModel(ctx, cacheID, ix.embedder.Model())
}

// SearchChunks ranks a cache entry's chunks by dense cosine similarity.
func (ix *Index) SearchChunks(ctx context.Context, cacheID int64, query string, topK int) ([]ChunkHit, error) {
	queryVec, ok := ix.embedQuery(ctx, query)
	if !ok {
		return nil, nil
	}

	chunks, err := ix.store.ChunksByCache(ctx, cacheID)
	if err != nil {
		return nil, err
	}

	var hits []ChunkHit
	for _, c := range chunks {
		score := Cosine(queryVec, c.Embedding)
		if score <= 0 {
			continue
		}
		hits = append(hits, ChunkHit{Text: c.Text, Score: score, DenseScore: score})
	}
	sortHits(hits)
	return clipHits(hits, topK), nil
}

// SearchChunksHybrid blends dense cosine and lexical scores:
// w*dense + (1-w)*lexical. Lexical comes from FTS5 BM25 when available,
// min-max normalized over the candidate window, or from token overlap.
// Results below minScore are dropped.
func (ix *Index) SearchChunksHybrid(ctx context.Context, cacheID int64, query string, topK int, denseWeight, minScore float64) ([]ChunkHit, error) {
	w := clamp01(denseWeight)

	chunks, err := ix.store.ChunksByCache(ctx, cacheID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	queryVec, hasDense := ix.embedQuery(ctx, query)
	lexical := ix.lexicalScores(ctx, cacheID, query, chunks)

	var hits []ChunkHit
	for _, c := range chunks {
		var dense float64
		if hasDense {
			dense = Cosine(queryVec, c.Embedding)
		}
		lex := lexical[c.ID]
		score := w*dense + (1-w)*lex
		if score < minScore {
			continue
		}
		hits = append(hits, ChunkHit{Text: c.Text, Score: score, DenseScore: dense, LexicalScore: lex})
	}
	sortHits(hits)
	return clipHits(hits, topK), nil
}

// lexicalScores maps chunk id to a normalized lexical score in [0,1].
func (ix *Index) lexicalScores(ctx context.Context, cacheID int64, query string, chunks []store.Chunk) map[int64]float64 {
	scores := make(map[int64]float64, len(chunks))

	if ix.store.HasFTS5() {
		window := ix.BM25Window
		if window <= 0 {
			window = 200
		}
		candidates, err := ix.store.BM25Candidates(ctx, cacheID, query, window)
		if err != nil {
			ix.logger.Warn("bm25 query failed, falling back to token overlap", "error", err)
		} else {
			// SQLite ranks are negative, smaller = better. Min-max
			// normalize and invert so the best candidate scores 1.
			if len(candidates) == 0 {
				return scores
			}
			minRank, maxRank := candidates[0].Rank, candidates[0].Rank
			for _, c := range candidates {
				if c.Rank < minRank {
					minRank = c.Rank
				}
				if c.Rank > maxRank {
					maxRank = c.Rank
				}
			}
			span := maxRank - minRank
			for _, c := range candidates {
				if span == 0 {
					scores[c.ChunkID] = 1.0
					continue
				}
				scores[c.ChunkID] = (maxRank - c.Rank) / span
			}
			return scores
		}
	}

	queryTokens := tokenSet(query)
	if len(queryTokens) == 0 {
		return scores
	}
	for _, c := range chunks {
		scores[c.ID] = overlapScore(queryTokens, c.Text)
	}
	return scores
}

// StoreLinkEmbeddings embeds one vector per link, replacing earlier link
// vectors for the cache entry.
func (ix *Index) StoreLinkEmbeddings(ctx context.Context, cacheID int64, links []store.Link) error {
	if len(links) == 0 || ix.embedder.LoadFailed() {
		return nil
	}

	texts := make([]string, len(links))
	for i, l := range links {
		texts[i] = strings.TrimSpace(l.Label + " " + l.Href)
	}
	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		if ix.embedder.LoadFailed() {
			return nil
		}
		return fmt.Errorf("vector: embedding links: %w", err)
	}

	rows := make([]store.LinkEmbedding, len(links))
	for i, l := range links {
		rows[i] = store.LinkEmbedding{URL: l.Href, Label: l.Label, Embedding: vecs[i], Model: ix.embedder.Model()}
	}
	return ix.store.ReplaceLinkEmbeddings(ctx, cacheID, rows)
}

// RankLinksByRelevance sorts a cache entry's links by cosine similarity to
// the query.
func (ix *Index) RankLinksByRelevance(ctx context.Context, cacheID int64, query string, topK int) ([]LinkHit, error) {
	queryVec, ok := ix.embedQuery(ctx, query)
	if !ok {
		return nil, nil
	}

	links, err := ix.store.LinksByCache(ctx, cacheID)
	if err != nil {
		return nil, err
	}

	var hits []LinkHit
	for _, l := range links {
		score := Cosine(queryVec, l.Embedding)
		if score <= 0 {
			continue
		}
		hits = append(hits, LinkHit{Label: l.Label, URL: l.URL, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// StoreFindingEmbedding embeds a finding's text onto its row.
func (ix *Index) StoreFindingEmbedding(ctx context.Context, findingID int64, text string) error {
	if ix.embedder.LoadFailed() {
		return nil
	}
	vec, err := ix.embedder.EmbedOne(ctx, text)
	if err != nil {
		if ix.embedder.LoadFailed() {
			return nil
		}
		return fmt.Errorf("vector: embedding finding: %w", err)
	}
	return ix.store.UpdateFindingEmbedding(ctx, findingID, vec, ix.embedder.Model())
}

// SearchFindings recalls findings by cosine similarity, scoped to a session
// plus globals when sessionID > 0.
func (ix *Index) SearchFindings(ctx context.Context, query string, topK int, sessionID int64) ([]FindingHit, error) {
	queryVec, ok := ix.embedQuery(ctx, query)
	if !ok {
		return nil, nil
	}

	findings, err := ix.store.ListFindings(ctx, 0, sessionID)
	if err != nil {
		return nil, err
	}

	var hits []FindingHit
	for _, f := range findings {
		score := Cosine(queryVec, f.Embedding)
		if score <= 0 {
			continue
		}
		hits = append(hits, FindingHit{Finding: f, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// SearchMemories recalls stored memories by cosine similarity, dropping
// hits below minScore.
func (ix *Index) SearchMemories(ctx context.Context, query string, topK int, sessionID int64, minScore float64) ([]MemoryHit, error) {
	queryVec, ok := ix.embedQuery(ctx, query)
	if !ok {
		return nil, nil
	}

	memories, err := ix.store.Memories(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var hits []MemoryHit
	for _, m := range memories {
		score := Cosine(queryVec, m.Embedding)
		if score < minScore || score <= 0 {
			continue
		}
		hits = append(hits, MemoryHit{Memory: m, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// embedQuery embeds the query text, reporting ok=false when the embedder
// is unavailable so searches degrade to empty results.
func (ix *Index) embedQuery(ctx context.Context, query string) ([]float32, bool) {
	if ix.embedder.LoadFailed() {
		return nil, false
	}
	vec, err := ix.embedder.EmbedOne(ctx, query)
	if err != nil {
		ix.logger.Warn("query embedding failed", "error", err)
		return nil, false
	}
	return vec, true
}

// Cosine returns the cosine similarity of two vectors. Zero-length or
// mismatched inputs yield 0.0, never NaN.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortHits(hits []ChunkHit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

func clipHits(hits []ChunkHit, topK int) []ChunkHit {
	if topK > 0 && len(hits) > topK {
		return hits[:topK]
	}
	return hits
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// tokenSet lowercases and splits text into a unique token set.
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}

// overlapScore is the token-overlap fallback: |query ∩ chunk| / |query|.
func overlapScore(queryTokens map[string]bool, chunk string) float64 {
	chunkTokens := tokenSet(chunk)
	matched := 0
	for tok := range queryTokens {
		if chunkTokens[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}
