package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evrenesat/asky/internal/llm"
)

func (s *Set) webSearchTool() definition {
	return definition{
		spec: llm.ToolSpec{
			Name:        "web_search",
			Description: "Search the web and return a list of results with title, URL, snippet, and date when available.",
			Guideline:   "Start research with web_search; refine the query rather than repeating it.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"q": {"type": "string", "description": "The search query"},
					"count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of results"}
				},
				"required": ["q"]
			}`),
		},
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			if s.deps.Searcher == nil {
				return nil, fmt.Errorf("web search is not configured")
			}
			q := argString(args, "q")
			count := argInt(args, "count", s.deps.MaxResults)

			s.status("searching: " + q)
			results, err := s.deps.Searcher.Search(ctx, q, count)
			if err != nil {
				return nil, fmt.Errorf("search failed: %w", err)
			}
			return map[string]any{"query": q, "results": results}, nil
		},
	}
}
