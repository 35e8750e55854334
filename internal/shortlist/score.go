package shortlist

import (
	"context"
	"fmt"
	"sort"

	"github.com/evrenesat/asky/internal/vector"
)

const (
	semanticWeight   = 0.6
	overlapWeight    = 0.4
	shortTextChars   = 400
	shortTextPenalty = 0.15
	noisePathPenalty = 0.2
	seedBoost        = 0.1
)

// score computes composite scores for every fetched candidate. Semantic
// similarity is skipped entirely when no embedder is available or its model
// load has failed; keyphrase overlap then carries full weight.
func (p *Pipeline) score(ctx context.Context, candidates []*Candidate, res *Result) {
	semantic := p.semanticScores(ctx, candidates, res)

	seedHosts := make(map[string]bool)
	for _, seed := range res.SeedURLs {
		if h := Hostname(seed); h != "" {
			seedHosts[h] = true
		}
	}

	for _, c := range candidates {
		if !c.fetched {
			continue
		}

		overlap := KeyphraseOverlap(res.Keyphrases, c.Content+" "+c.Title)
		score := overlap
		if sem, ok := semantic[c]; ok {
			c.SemanticScore = sem
			score = semanticWeight*sem + overlapWeight*overlap
			c.WhySelected = append(c.WhySelected, fmt.Sprintf("semantic %.2f", sem))
		}
		if overlap > 0 {
			c.WhySelected = append(c.WhySelected, fmt.Sprintf("keyphrase overlap %.2f", overlap))
		}

		// Same-domain bonus only with real semantic signal behind it, so
		// unrelated pages on a seed's host are not promoted.
		if c.SourceType != SourceSeed && seedHosts[c.Hostname] && c.SemanticScore > p.cfg.SemanticThreshold {
			score += p.cfg.SameDomainBonus
			c.WhySelected = append(c.WhySelected, "same domain as seed")
		}
		if len(c.Content) < shortTextChars {
			score -= shortTextPenalty
			c.WhySelected = append(c.WhySelected, "short content")
		}
		if isNoisePath(c.NormalizedURL) {
			score -= noisePathPenalty
			c.WhySelected = append(c.WhySelected, "utility path")
		}
		if c.SourceType == SourceSeed {
			score += seedBoost
			c.WhySelected = append(c.WhySelected, "seed url")
		}
		c.FinalScore = score
	}
}

// semanticScores embeds the query and each fetched candidate's leading
// content in one batch and returns cosine similarities.
func (p *Pipeline) semanticScores(ctx context.Context, candidates []*Candidate, res *Result) map[*Candidate]float64 {
	if p.embedder == nil || p.embedder.LoadFailed() || res.QueryText == "" {
		return nil
	}

	var fetched []*Candidate
	texts := []string{res.QueryText}
	for _, c := range candidates {
		if c.fetched && c.Content != "" {
			fetched = append(fetched, c)
			texts = append(texts, c.Content)
		}
	}
	if len(fetched) == 0 {
		return nil
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("embedding unavailable for scoring: %v", err))
		return nil
	}

	scores := make(map[*Candidate]float64, len(fetched))
	queryVec := vectors[0]
	for i, c := range fetched {
		scores[c] = vector.Cosine(queryVec, vectors[i+1])
	}
	return scores
}

// selectTop keeps the top-K by score. Seed documents are reported through
// SeedDocuments regardless of selection.
func (p *Pipeline) selectTop(candidates []*Candidate, res *Result) {
	var scored []*Candidate
	for _, c := range candidates {
		if c.fetched {
			scored = append(scored, c)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})

	limit := p.cfg.SelectTopK
	if limit > len(scored) {
		limit = len(scored)
	}
	for i := 0; i < limit; i++ {
		c := scored[i]
		c.Rank = i + 1
		res.Candidates = append(res.Candidates, *c)
	}
}
