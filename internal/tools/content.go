package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evrenesat/asky/internal/corpus"
	"github.com/evrenesat/asky/internal/fetch"
	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/store"
	"github.com/evrenesat/asky/internal/summarize"
	"github.com/evrenesat/asky/internal/workers"
)

// errLocalPath is returned per URL when a web tool receives a filesystem
// path or corpus handle it must not touch.
var errLocalPath = errors.New("local files are not accessible through this tool; use the local corpus tools")

// checkRemote rejects local-filesystem shapes on web-facing tools.
// allowHandles permits corpus:// handles (cached-content readers accept
// them; fetching tools do not).
func checkRemote(rawURL string, allowHandles bool) error {
	if corpus.IsHandle(rawURL) {
		if allowHandles {
			return nil
		}
		return errLocalPath
	}
	if corpus.IsLocalPath(rawURL) {
		return errLocalPath
	}
	return nil
}

// loadDocument returns the cached entry for a URL, fetching and caching on
// miss. Links are always requested so later extract_links calls hit cache.
func (s *Set) loadDocument(ctx context.Context, rawURL string) (*store.CacheEntry, error) {
	if corpus.IsHandle(rawURL) {
		if s.deps.Corpus == nil {
			return nil, fmt.Errorf("local corpus is not configured")
		}
		entry, _, err := s.deps.Corpus.Resolve(ctx, rawURL)
		return entry, err
	}

	entry, err := s.deps.Store.Lookup(ctx, rawURL)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	doc, err := s.deps.Fetcher.Fetch(ctx, rawURL, fetch.Options{IncludeLinks: true})
	if err != nil {
		return nil, err
	}

	links := make([]store.Link, len(doc.Links))
	for i, l := range doc.Links {
		links[i] = store.Link{Label: l.Label, Href: l.Href}
	}
	cacheID, _, err := s.deps.Store.Put(ctx, store.PutDocument{
		URL:            rawURL,
		Content:        doc.Content,
		Title:          doc.Title,
		Links:          links,
		TTL:            s.deps.CacheTTL,
		TriggerSummary: true,
	})
	if err != nil {
		return nil, err
	}
	return &store.CacheEntry{
		ID:      cacheID,
		URL:     rawURL,
		Title:   doc.Title,
		Content: doc.Content,
		Links:   links,
	}, nil
}

type contentPayload struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
	Summary string `json:"summary,omitempty"`
	Chars   int    `json:"chars"`
}

func (s *Set) getURLContentTool() definition {
	return definition{
		spec: llm.ToolSpec{
			Name:        "get_url_content",
			Description: "Fetch one or more web pages and return their readable content. Set summarize to get a condensed version instead of full text.",
			Guideline:   "Prefer get_url_content with summarize=true for long pages; request full text only when details matter.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"urls": {"type": "array", "items": {"type": "string"}, "description": "HTTP or HTTPS URLs to fetch"},
					"summarize": {"type": "boolean", "description": "Return a summary instead of full content"}
				},
				"required": ["urls"]
			}`),
		},
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			urls, err := argURLs(args)
			if err != nil {
				return nil, err
			}
			summarizeFlag := argBool(args, "summarize")

			out := make(map[string]any, len(urls))
			for _, u := range urls {
				if err := checkRemote(u, false); err != nil {
					out[u] = ErrorPayload{Error: err.Error()}
					continue
				}
				s.status("fetching " + u)
				entry, err := s.loadDocument(ctx, u)
				if err != nil {
					out[u] = ErrorPayload{Error: err.Error()}
					continue
				}
				payload := contentPayload{Title: entry.Title, URL: u, Chars: len(entry.Content)}
				if summarizeFlag {
					s.status("summarizing " + u)
					summary, err := s.summaryFor(ctx, entry)
					if err != nil {
						out[u] = ErrorPayload{Error: fmt.Sprintf("summarization failed: %v", err)}
						continue
					}
					payload.Summary = summary
				} else {
					payload.Content = entry.Content
				}
				out[u] = payload
			}
			return out, nil
		},
	}
}

// summaryFor returns the cached summary for an entry, computing and
// persisting one when absent. The claim row prevents a concurrent
// background task from duplicating the work.
func (s *Set) summaryFor(ctx context.Context, entry *store.CacheEntry) (string, error) {
	if entry.SummaryStatus == store.SummaryCompleted && entry.Summary != "" {
		return entry.Summary, nil
	}
	if s.deps.Summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}
	return completeSummary(ctx, s.deps.Store, s.deps.Summarizer, entry)
}

// completeSummary claims and writes the summary for one cache entry. A
// lost claim falls back to whatever state the winner left behind.
func completeSummary(ctx context.Context, st *store.Store, summarizer *summarize.Summarizer, entry *store.CacheEntry) (string, error) {
	claimed, err := st.ClaimSummary(ctx, entry.ID)
	if err != nil {
		return "", err
	}
	if !claimed {
		current, err := st.LookupByID(ctx, entry.ID)
		if err == nil && current.SummaryStatus == store.SummaryCompleted {
			return current.Summary, nil
		}
		return "", fmt.Errorf("summary is being generated, retry shortly")
	}

	summary, err := summarizer.Summarize(ctx, entry.Content, "", 0, summarize.Options{})
	if err != nil {
		_ = st.SetSummaryStatus(ctx, entry.ID, store.SummaryFailed)
		return "", err
	}
	if err := st.SetSummary(ctx, entry.ID, summary); err != nil {
		return "", err
	}
	return summary, nil
}

// SummaryTask builds the background task that summarizes one cache entry.
// The put summary hook and the link-summary tool both submit it.
func SummaryTask(st *store.Store, summarizer *summarize.Summarizer, cacheID int64, url string) workers.Task {
	return workers.Task{
		ID:   fmt.Sprintf("summary-%d", cacheID),
		Kind: "cache_summary",
		Run: func(ctx context.Context) error {
			entry, err := st.LookupByID(ctx, cacheID)
			if err != nil {
				return err
			}
			if entry.SummaryStatus == store.SummaryCompleted && entry.Summary != "" {
				return nil
			}
			if _, err := completeSummary(ctx, st, summarizer, entry); err != nil {
				return fmt.Errorf("background summary for %s: %w", url, err)
			}
			return nil
		},
	}
}

func (s *Set) getURLDetailsTool() definition {
	return definition{
		spec: llm.ToolSpec{
			Name:        "get_url_details",
			Description: "Fetch a single URL and return its content together with the links discovered on the page.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "The URL to inspect"}
				},
				"required": ["url"]
			}`),
		},
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			u := argString(args, "url")
			if err := checkRemote(u, false); err != nil {
				return nil, err
			}
			entry, err := s.loadDocument(ctx, u)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"title":   entry.Title,
				"url":     u,
				"content": entry.Content,
				"links":   entry.Links,
			}, nil
		},
	}
}

func (s *Set) getFullContentTool() definition {
	return definition{
		spec: llm.ToolSpec{
			Name:        "get_full_content",
			Description: "Return the full cached text of previously fetched URLs or corpus documents, optionally narrowed to one section.",
			Guideline:   "Use get_full_content only after relevance search was insufficient; full documents are large.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"urls": {"type": "array", "items": {"type": "string"}},
					"section": {"type": "string", "description": "Section id, ref, or title query to narrow to"}
				},
				"required": ["urls"]
			}`),
		},
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			urls, err := argURLs(args)
			if err != nil {
				return nil, err
			}
			section := argString(args, "section")

			out := make(map[string]any, len(urls))
			for _, u := range urls {
				if err := checkRemote(u, true); err != nil {
					out[u] = ErrorPayload{Error: err.Error()}
					continue
				}
				if corpus.IsHandle(u) && (section != "" || hasSectionFragment(u)) {
					entry, sec, text, err := s.deps.Corpus.ResolveSection(ctx, u, section)
					if err != nil {
						out[u] = ErrorPayload{Error: err.Error()}
						continue
					}
					out[u] = map[string]any{
						"title":   entry.Title,
						"section": sec.Title,
						"content": text,
						"chars":   len(text),
					}
					continue
				}
				entry, err := s.loadDocument(ctx, u)
				if err != nil {
					out[u] = ErrorPayload{Error: err.Error()}
					continue
				}
				out[u] = contentPayload{Title: entry.Title, URL: u, Content: entry.Content, Chars: len(entry.Content)}
			}
			return out, nil
		},
	}
}

func hasSectionFragment(rawURL string) bool {
	h, err := corpus.ParseHandle(rawURL)
	return err == nil && h.SectionID != ""
}

// enqueueSummary submits a background summarization task for a cache entry.
func (s *Set) enqueueSummary(cacheID int64, url string) {
	if s.deps.Pool == nil || s.deps.Summarizer == nil {
		return
	}
	s.deps.Pool.Submit(SummaryTask(s.deps.Store, s.deps.Summarizer, cacheID, url))
}
