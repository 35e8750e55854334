// Package shortlist ranks candidate sources for a research turn before the
// LLM sees anything: seed URLs from the prompt, optional seed-link
// expansion, and web search results are fetched in parallel, scored, and
// cut to a top-K list the preload renders into prompt context.
package shortlist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/evrenesat/asky/internal/embed"
	"github.com/evrenesat/asky/internal/fetch"
	"github.com/evrenesat/asky/internal/search"
	"github.com/evrenesat/asky/internal/store"
)

// Candidate source types.
const (
	SourceSeed     = "seed"
	SourceSeedLink = "seed_link"
	SourceSearch   = "search"
)

// Searcher dispatches one web search query.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]search.Result, error)
}

// Candidate is one scored source.
type Candidate struct {
	Rank          int      `json:"rank"`
	URL           string   `json:"url"`
	NormalizedURL string   `json:"normalized_url"`
	Hostname      string   `json:"hostname"`
	Title         string   `json:"title"`
	Snippet       string   `json:"snippet,omitempty"`
	Date          string   `json:"date,omitempty"`
	SourceType    string   `json:"source_type"`
	FinalScore    float64  `json:"final_score"`
	SemanticScore float64  `json:"semantic_score"`
	WhySelected   []string `json:"why_selected,omitempty"`
	Content       string   `json:"-"`
	Warning       string   `json:"warning,omitempty"`

	fetched  bool
	fetchErr string
}

// SeedDocument is a seed URL's fetch outcome, reported whether or not the
// document made the shortlist.
type SeedDocument struct {
	URL      string `json:"url"`
	FinalURL string `json:"final_url,omitempty"`
	Title    string `json:"title,omitempty"`
	Content  string `json:"-"`
	Chars    int    `json:"chars"`
	Error    string `json:"error,omitempty"`
	Warning  string `json:"warning,omitempty"`
}

// Stats carries counters and per-stage wall times.
type Stats struct {
	Metrics   map[string]int   `json:"metrics"`
	TimingsMS map[string]int64 `json:"timings_ms"`
}

// Result is the full shortlist output.
type Result struct {
	Enabled           bool           `json:"enabled"`
	SeedURLs          []string       `json:"seed_urls,omitempty"`
	QueryText         string         `json:"query_text"`
	Keyphrases        []string       `json:"keyphrases,omitempty"`
	SearchQueries     []string       `json:"search_queries,omitempty"`
	Candidates        []Candidate    `json:"candidates"`
	SeedDocuments     []SeedDocument `json:"seed_url_documents,omitempty"`
	Warnings          []string       `json:"warnings,omitempty"`
	Stats             Stats          `json:"stats"`
	DirectAnswerReady bool           `json:"seed_url_direct_answer_ready"`
}

// SelectedURLs returns the normalized URLs that made the shortlist.
func (r *Result) SelectedURLs() []string {
	urls := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		urls = append(urls, c.NormalizedURL)
	}
	return urls
}

// Config sizes the pipeline.
type Config struct {
	MaxFetchURLs      int
	SelectTopK        int
	SameDomainBonus   float64
	SemanticThreshold float64
	SeedLinkExpansion bool
	MaxSeedLinks      int
	SeedBudgetChars   int
	ScoringCapChars   int
	FetchTimeout      time.Duration
	SearchCount       int

	// CacheTTL is the expiry applied to documents the pipeline writes to
	// the content store.
	CacheTTL time.Duration
}

// Pipeline runs the five shortlist stages. The embedder is optional; with
// none (or a failed one) scoring falls back to keyphrase overlap alone.
// The store is likewise optional; with one, fetched documents are cached
// and later stages of the turn (tools, repeat runs) read them back instead
// of refetching.
type Pipeline struct {
	searcher Searcher
	fetcher  fetch.Fetcher
	embedder embed.Embedder
	store    *store.Store
	cfg      Config
	logger   *slog.Logger

	// Status, when set, receives one human-readable line per stage.
	Status func(string)
}

// New creates a pipeline.
func New(searcher Searcher, fetcher fetch.Fetcher, embedder embed.Embedder, st *store.Store, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.MaxFetchURLs <= 0 {
		cfg.MaxFetchURLs = 5
	}
	if cfg.SelectTopK <= 0 {
		cfg.SelectTopK = 3
	}
	if cfg.MaxSeedLinks <= 0 {
		cfg.MaxSeedLinks = 10
	}
	if cfg.SeedBudgetChars <= 0 {
		cfg.SeedBudgetChars = 16000
	}
	if cfg.ScoringCapChars <= 0 {
		cfg.ScoringCapChars = 6000
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.SearchCount <= 0 {
		cfg.SearchCount = 8
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		searcher: searcher,
		fetcher:  fetcher,
		embedder: embedder,
		store:    st,
		cfg:      cfg,
		logger:   logger.With("component", "shortlist"),
	}
}

// Request is one shortlist invocation. Queries, when non-empty, replace the
// parsed query text for search dispatch (pre-expanded queries run in order
// and their results concatenate before dedup). Enabled false short-circuits
// without any network activity.
type Request struct {
	Prompt  string
	Queries []string
	Enabled bool
}

// Run executes parse, collect, fetch, score, select.
func (p *Pipeline) Run(ctx context.Context, req Request) *Result {
	res := &Result{
		Enabled: req.Enabled,
		Stats: Stats{
			Metrics:   make(map[string]int),
			TimingsMS: make(map[string]int64),
		},
	}

	seeds, query := ExtractSeedURLs(req.Prompt)
	res.SeedURLs = seeds
	res.QueryText = query
	if !req.Enabled {
		return res
	}

	res.Keyphrases = ExtractKeyphrases(query)
	res.SearchQueries = req.Queries
	if len(res.SearchQueries) == 0 && query != "" {
		res.SearchQueries = []string{query}
	}

	start := time.Now()
	candidates := p.collect(ctx, res)
	res.Stats.TimingsMS["collect"] = time.Since(start).Milliseconds()
	res.Stats.Metrics["candidates"] = len(candidates)

	start = time.Now()
	candidates = p.fetchAll(ctx, candidates, res)
	res.Stats.TimingsMS["fetch"] = time.Since(start).Milliseconds()

	start = time.Now()
	p.score(ctx, candidates, res)
	res.Stats.TimingsMS["score"] = time.Since(start).Milliseconds()

	p.selectTop(candidates, res)
	res.Stats.Metrics["selected"] = len(res.Candidates)

	p.status(fmt.Sprintf("shortlist: %d candidates, %d fetched, %d selected",
		res.Stats.Metrics["candidates"], res.Stats.Metrics["fetched"], len(res.Candidates)))
	return res
}

func (p *Pipeline) status(line string) {
	if p.Status != nil {
		p.Status(line)
	}
}

// collect builds the deduplicated candidate list: seeds, optional seed
// links, then search results in query order.
func (p *Pipeline) collect(ctx context.Context, res *Result) []*Candidate {
	seen := make(map[string]bool)
	var candidates []*Candidate

	add := func(rawURL, title, snippet, date, sourceType string) *Candidate {
		normalized := NormalizeURL(rawURL)
		if seen[normalized] {
			return nil
		}
		seen[normalized] = true
		c := &Candidate{
			URL:           rawURL,
			NormalizedURL: normalized,
			Hostname:      Hostname(normalized),
			Title:         title,
			Snippet:       snippet,
			Date:          date,
			SourceType:    sourceType,
		}
		candidates = append(candidates, c)
		return c
	}

	for _, seed := range res.SeedURLs {
		add(seed, "", "", "", SourceSeed)
	}

	if p.cfg.SeedLinkExpansion && p.fetcher != nil {
		for _, seed := range res.SeedURLs {
			links := p.seedLinks(ctx, seed, res)
			for _, link := range links {
				add(link.Href, link.Label, "", "", SourceSeedLink)
			}
		}
	}

	if p.searcher != nil {
		for _, q := range res.SearchQueries {
			results, err := p.searcher.Search(ctx, q, p.cfg.SearchCount)
			if err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("search %q: %v", q, err))
				continue
			}
			for _, r := range results {
				add(r.URL, r.Title, r.Snippet, r.Date, SourceSearch)
			}
		}
	}
	return candidates
}

// fetchDocument serves a URL from the content store when a fresh entry
// exists, otherwise fetches and writes the result back so the rest of the
// turn reads the same entry instead of refetching. The second return
// reports a cache hit.
func (p *Pipeline) fetchDocument(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Document, bool, error) {
	if p.store != nil {
		entry, err := p.store.Lookup(ctx, rawURL)
		if err == nil {
			links := make([]fetch.Link, len(entry.Links))
			for i, l := range entry.Links {
				links[i] = fetch.Link{Label: l.Label, Href: l.Href}
			}
			return &fetch.Document{
				URL:     rawURL,
				Title:   entry.Title,
				Content: entry.Content,
				Links:   links,
			}, true, nil
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	doc, err := p.fetcher.Fetch(fetchCtx, rawURL, opts)
	if err != nil {
		return nil, false, err
	}

	if p.store != nil {
		links := make([]store.Link, len(doc.Links))
		for i, l := range doc.Links {
			links[i] = store.Link{Label: l.Label, Href: l.Href}
		}
		if _, _, err := p.store.Put(ctx, store.PutDocument{
			URL:     rawURL,
			Content: doc.Content,
			Title:   doc.Title,
			Links:   links,
			TTL:     p.cfg.CacheTTL,
		}); err != nil {
			p.logger.Warn("caching fetched document failed", "url", rawURL, "error", err)
		}
	}
	return doc, false, nil
}

func (p *Pipeline) seedLinks(ctx context.Context, seed string, res *Result) []fetch.Link {
	doc, cached, err := p.fetchDocument(ctx, seed, fetch.Options{IncludeLinks: true, MaxLinks: p.cfg.MaxSeedLinks * 4})
	if cached {
		res.Stats.Metrics["cache_hits"]++
	}
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("seed link expansion %s: %v", seed, err))
		return nil
	}

	var links []fetch.Link
	for _, link := range doc.Links {
		if isNoisePath(link.Href) {
			continue
		}
		links = append(links, link)
		if len(links) >= p.cfg.MaxSeedLinks {
			break
		}
	}
	return links
}

// fetchAll retrieves candidate content in parallel. Seeds are always
// fetched; non-seeds fill the remaining MaxFetchURLs slots in order.
// Canonical final URLs that collide with an existing candidate drop the
// duplicate.
func (p *Pipeline) fetchAll(ctx context.Context, candidates []*Candidate, res *Result) []*Candidate {
	if p.fetcher == nil {
		return candidates
	}

	toFetch := make([]*Candidate, 0, p.cfg.MaxFetchURLs)
	budget := p.cfg.MaxFetchURLs
	for _, c := range candidates {
		if c.SourceType == SourceSeed {
			toFetch = append(toFetch, c)
			budget--
		}
	}
	for _, c := range candidates {
		if c.SourceType == SourceSeed || budget <= 0 {
			continue
		}
		toFetch = append(toFetch, c)
		budget--
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, c := range toFetch {
		c := c
		g.Go(func() error {
			doc, cached, err := p.fetchDocument(gctx, c.URL, fetch.Options{IncludeLinks: true})
			mu.Lock()
			defer mu.Unlock()
			if cached {
				res.Stats.Metrics["cache_hits"]++
			}
			if err != nil {
				c.fetchErr = err.Error()
				res.Stats.Metrics["fetch_errors"]++
				res.Warnings = append(res.Warnings, fmt.Sprintf("fetch %s: %v", c.URL, err))
				return nil
			}

			c.fetched = true
			c.Content = clipContent(doc.Content, p.cfg.ScoringCapChars)
			c.Warning = doc.Warning
			if c.Title == "" {
				c.Title = doc.Title
			}
			if c.Date == "" {
				c.Date = doc.Date
			}
			if doc.FinalURL != "" && doc.FinalURL != c.URL {
				c.NormalizedURL = NormalizeURL(doc.FinalURL)
				c.Hostname = Hostname(c.NormalizedURL)
			}
			res.Stats.Metrics["fetched"]++
			return nil
		})
	}
	g.Wait()

	// Redirect targets can land on a URL we already hold; keep the first.
	seen := make(map[string]bool)
	kept := candidates[:0]
	for _, c := range candidates {
		if seen[c.NormalizedURL] {
			continue
		}
		seen[c.NormalizedURL] = true
		kept = append(kept, c)
	}

	p.buildSeedDocuments(kept, res)
	return kept
}

func (p *Pipeline) buildSeedDocuments(candidates []*Candidate, res *Result) {
	totalChars := 0
	allOK := len(res.SeedURLs) > 0
	for _, c := range candidates {
		if c.SourceType != SourceSeed {
			continue
		}
		doc := SeedDocument{
			URL:      c.URL,
			FinalURL: c.NormalizedURL,
			Title:    c.Title,
			Content:  c.Content,
			Chars:    len(c.Content),
			Error:    c.fetchErr,
			Warning:  c.Warning,
		}
		res.SeedDocuments = append(res.SeedDocuments, doc)
		if c.fetchErr != "" || !c.fetched {
			allOK = false
		}
		totalChars += len(c.Content)
	}
	res.DirectAnswerReady = allOK && totalChars <= p.cfg.SeedBudgetChars
}

func clipContent(content string, maxChars int) string {
	content = strings.Join(strings.Fields(content), " ")
	if len(content) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}
	return content
}
