package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/store"
)

type linkItem struct {
	Label string  `json:"label"`
	Href  string  `json:"href"`
	Score float64 `json:"score,omitempty"`
}

func (s *Set) extractLinksTool() definition {
	return definition{
		spec: llm.ToolSpec{
			Name:        "extract_links",
			Description: "Fetch pages and return their outbound links. With a query, links are ranked by semantic relevance to it.",
			Guideline:   "Use extract_links with a query to find the most promising pages to follow instead of reading everything.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"urls": {"type": "array", "items": {"type": "string"}},
					"url": {"type": "string"},
					"query": {"type": "string", "description": "Rank links by relevance to this text"},
					"max_links": {"type": "integer", "minimum": 1}
				}
			}`),
		},
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			urls, err := argURLs(args)
			if err != nil {
				return nil, err
			}
			query := argString(args, "query")
			maxLinks := argInt(args, "max_links", 20)

			out := make(map[string]any, len(urls))
			for _, u := range urls {
				if err := checkRemote(u, false); err != nil {
					out[u] = ErrorPayload{Error: err.Error()}
					continue
				}
				entry, err := s.loadDocument(ctx, u)
				if err != nil {
					out[u] = ErrorPayload{Error: err.Error()}
					continue
				}
				out[u] = s.linkList(ctx, entry, query, maxLinks)
			}
			return out, nil
		},
	}
}

// linkList ranks an entry's links by query relevance when an embedder is
// usable, falling back to document order.
func (s *Set) linkList(ctx context.Context, entry *store.CacheEntry, query string, maxLinks int) map[string]any {
	links := entry.Links
	if maxLinks > 0 && len(links) > maxLinks && query == "" {
		links = links[:maxLinks]
	}

	if query != "" && s.deps.Vector != nil && s.deps.Embedder != nil && !s.deps.Embedder.LoadFailed() {
		if err := s.deps.Vector.StoreLinkEmbeddings(ctx, entry.ID, entry.Links); err == nil {
			hits, err := s.deps.Vector.RankLinksByRelevance(ctx, entry.ID, query, maxLinks)
			if err == nil && len(hits) > 0 {
				items := make([]linkItem, len(hits))
				for i, h := range hits {
					items[i] = linkItem{Label: h.Label, Href: h.URL, Score: h.Score}
				}
				return map[string]any{"links": items, "ranked_by": query}
			}
		}
	}

	items := make([]linkItem, 0, len(links))
	for _, l := range links {
		items = append(items, linkItem{Label: l.Label, Href: l.Href})
	}
	return map[string]any{"links": items}
}

func (s *Set) getLinkSummariesTool() definition {
	return definition{
		spec: llm.ToolSpec{
			Name:        "get_link_summaries",
			Description: "Return cached summaries for previously seen URLs. URLs without a ready summary report their status and are queued for background summarization.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"urls": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["urls"]
			}`),
		},
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			urls, err := argURLs(args)
			if err != nil {
				return nil, err
			}

			out := make(map[string]any, len(urls))
			for _, u := range urls {
				if err := checkRemote(u, false); err != nil {
					out[u] = ErrorPayload{Error: err.Error()}
					continue
				}
				entry, err := s.deps.Store.Lookup(ctx, u)
				if errors.Is(err, store.ErrNotFound) {
					out[u] = map[string]any{"status": "not_cached"}
					continue
				}
				if err != nil {
					out[u] = ErrorPayload{Error: err.Error()}
					continue
				}
				if entry.SummaryStatus == store.SummaryCompleted && entry.Summary != "" {
					out[u] = map[string]any{
						"status":  store.SummaryCompleted,
						"title":   entry.Title,
						"summary": entry.Summary,
					}
					continue
				}
				s.enqueueSummary(entry.ID, u)
				out[u] = map[string]any{"status": entry.SummaryStatus, "title": entry.Title}
			}
			return out, nil
		},
	}
}
