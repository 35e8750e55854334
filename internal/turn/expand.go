package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/evrenesat/asky/internal/config"
	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/shortlist"
)

// QueryExpander turns one research question into up to max search queries.
// The original query is always the first element of the result.
type QueryExpander interface {
	Expand(ctx context.Context, query string, max int) ([]string, error)
}

// NewExpander picks the expander for the configured mode. Off returns nil;
// the LLM mode needs a provider and model and falls back to tokens without
// one.
func NewExpander(mode string, provider llm.Provider, model string) QueryExpander {
	switch mode {
	case config.ExpansionLLM:
		if provider != nil && model != "" {
			return &llmExpander{provider: provider, model: model}
		}
		return tokenExpander{}
	case config.ExpansionTokens:
		return tokenExpander{}
	default:
		return nil
	}
}

// tokenExpander derives variants from the query's own keyphrases: the raw
// query, the keyphrase condensation, and the leading bigram. No network.
type tokenExpander struct{}

func (tokenExpander) Expand(_ context.Context, query string, max int) ([]string, error) {
	queries := []string{query}
	phrases := shortlist.ExtractKeyphrases(query)
	if len(phrases) == 0 {
		return queries, nil
	}

	condensed := strings.Join(phrases[:min(4, len(phrases))], " ")
	if condensed != "" && !strings.EqualFold(condensed, query) {
		queries = append(queries, condensed)
	}
	for _, p := range phrases {
		if strings.Contains(p, " ") && !strings.EqualFold(p, condensed) {
			queries = append(queries, p)
			break
		}
	}

	if max > 0 && len(queries) > max {
		queries = queries[:max]
	}
	return queries, nil
}

const expansionPrompt = `Rewrite the question below as up to %d distinct web search queries.
Each query should target a different angle of the question. Output one query
per line with no numbering, bullets, or commentary.

Question: %s`

type llmExpander struct {
	provider llm.Provider
	model    string
}

func (e *llmExpander) Expand(ctx context.Context, query string, max int) ([]string, error) {
	if max < 1 {
		max = 3
	}
	resp, err := e.provider.Complete(ctx, &llm.Request{
		Model: e.model,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(expansionPrompt, max, query)},
		},
		MaxTokens: 256,
	})
	if err != nil {
		return nil, fmt.Errorf("query expansion: %w", err)
	}

	queries := []string{query}
	for _, line := range strings.Split(resp.Message.Content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" || strings.EqualFold(line, query) {
			continue
		}
		queries = append(queries, line)
		if len(queries) >= max {
			break
		}
	}
	return queries, nil
}
