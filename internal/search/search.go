// Package search queries a web search provider (Brave, SearXNG, or
// DuckDuckGo) with a short-lived response cache.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Provider names a search backend.
type Provider string

const (
	ProviderBrave      Provider = "brave"
	ProviderSearXNG    Provider = "searxng"
	ProviderDuckDuckGo Provider = "duckduckgo"
)

// maxCacheSize bounds the response cache.
const maxCacheSize = 1000

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
}

// Config for the search client.
type Config struct {
	Provider Provider
	// APIKey authenticates against Brave.
	APIKey string
	// BaseURL is the SearXNG instance, or an override of the provider
	// endpoint for tests.
	BaseURL    string
	MaxResults int
	Timeout    time.Duration
	CacheTTL   time.Duration
}

type cacheEntry struct {
	results   []Result
	expiresAt time.Time
}

// Client performs web searches with caching and DuckDuckGo fallback when
// the configured provider fails.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*cacheEntry
}

// New creates a search client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Provider == "" {
		if cfg.BaseURL != "" {
			cfg.Provider = ProviderSearXNG
		} else {
			cfg.Provider = ProviderDuckDuckGo
		}
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "search"),
		cache:  make(map[string]*cacheEntry),
	}
}

// Search runs one query, returning at most count results. Responses are
// cached per (query, count) for the configured TTL.
func (c *Client) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("search: query is required")
	}
	if count <= 0 || count > 20 {
		count = c.cfg.MaxResults
	}

	key := fmt.Sprintf("%s:%d:%s", c.cfg.Provider, count, query)
	if cached := c.fromCache(key); cached != nil {
		return cached, nil
	}

	results, err := c.dispatch(ctx, c.cfg.Provider, query, count)
	if err != nil && c.cfg.Provider != ProviderDuckDuckGo {
		c.logger.Warn("search provider failed, falling back to duckduckgo",
			"provider", c.cfg.Provider, "error", err)
		results, err = c.dispatch(ctx, ProviderDuckDuckGo, query, count)
	}
	if err != nil {
		return nil, err
	}

	c.toCache(key, results)
	return results, nil
}

func (c *Client) dispatch(ctx context.Context, provider Provider, query string, count int) ([]Result, error) {
	switch provider {
	case ProviderBrave:
		return c.searchBrave(ctx, query, count)
	case ProviderSearXNG:
		return c.searchSearXNG(ctx, query, count)
	case ProviderDuckDuckGo:
		return c.searchDuckDuckGo(ctx, query, count)
	default:
		return nil, fmt.Errorf("search: unknown provider %q", provider)
	}
}

func (c *Client) fromCache(key string) []Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.results
}

func (c *Client) toCache(key string, results []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, v := range c.cache {
		if now.After(v.expiresAt) {
			delete(c.cache, k)
		}
	}
	for len(c.cache) >= maxCacheSize {
		var oldestKey string
		var oldest time.Time
		for k, v := range c.cache {
			if oldestKey == "" || v.expiresAt.Before(oldest) {
				oldestKey = k
				oldest = v.expiresAt
			}
		}
		if oldestKey == "" {
			break
		}
		delete(c.cache, oldestKey)
	}
	c.cache[key] = &cacheEntry{results: results, expiresAt: now.Add(c.cfg.CacheTTL)}
}

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

func (c *Client) searchBrave(ctx context.Context, query string, count int) ([]Result, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("search: brave api key not configured")
	}

	endpoint := braveEndpoint
	if c.cfg.BaseURL != "" {
		endpoint = c.cfg.BaseURL + "/res/v1/web/search"
	}
	searchURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("search: invalid brave endpoint: %w", err)
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	searchURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.cfg.APIKey)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var braveResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				Age         string `json:"age"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &braveResp); err != nil {
		return nil, fmt.Errorf("search: parsing brave response: %w", err)
	}

	results := make([]Result, 0, len(braveResp.Web.Results))
	for _, r := range braveResp.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description, Date: r.Age})
	}
	return clip(results, count), nil
}

func (c *Client) searchSearXNG(ctx context.Context, query string, count int) ([]Result, error) {
	if c.cfg.BaseURL == "" {
		return nil, fmt.Errorf("search: searxng instance url not configured")
	}

	searchURL, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("search: invalid searxng url: %w", err)
	}
	searchURL.Path = "/search"
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("pageno", "1")
	q.Set("categories", "general")
	searchURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: building request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var sxResp struct {
		Results []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			Content       string `json:"content"`
			PublishedDate string `json:"publishedDate"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &sxResp); err != nil {
		return nil, fmt.Errorf("search: parsing searxng response: %w", err)
	}

	results := make([]Result, 0, len(sxResp.Results))
	for _, r := range sxResp.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content, Date: r.PublishedDate})
	}
	return clip(results, count), nil
}

const duckduckgoEndpoint = "https://api.duckduckgo.com/"

func (c *Client) searchDuckDuckGo(ctx context.Context, query string, count int) ([]Result, error) {
	endpoint := duckduckgoEndpoint
	if c.cfg.BaseURL != "" && c.cfg.Provider == ProviderDuckDuckGo {
		endpoint = c.cfg.BaseURL + "/"
	}
	instantURL := fmt.Sprintf("%s?q=%s&format=json&no_html=1", endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instantURL, nil)
	if err != nil {
		return nil, fmt.Errorf("search: building request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; asky/1.0)")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var ddgResp struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &ddgResp); err != nil {
		return nil, fmt.Errorf("search: parsing duckduckgo response: %w", err)
	}

	var results []Result
	if ddgResp.AbstractText != "" && ddgResp.AbstractURL != "" {
		results = append(results, Result{
			Title:   ddgResp.Heading,
			URL:     ddgResp.AbstractURL,
			Snippet: ddgResp.AbstractText,
		})
	}
	for _, topic := range ddgResp.RelatedTopics {
		if len(results) >= count {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, Result{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}
	return results, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: %s returned status %d", req.URL.Host, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("search: reading response: %w", err)
	}
	return body, nil
}

func clip(results []Result, count int) []Result {
	if count > 0 && len(results) > count {
		return results[:count]
	}
	return results
}
