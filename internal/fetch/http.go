package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// HTTPConfig controls the web backend.
type HTTPConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
	// AllowPrivateHosts disables the SSRF guard. Tests only.
	AllowPrivateHosts bool
}

// HTTPFetcher retrieves web pages: SSRF-guarded GET, readability
// extraction, optional markdown rendering and link capture.
type HTTPFetcher struct {
	client *http.Client
	cfg    HTTPConfig
	logger *slog.Logger
}

// NewHTTP creates the web backend.
func NewHTTP(cfg HTTPConfig, logger *slog.Logger) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "asky/1.0 (+https://github.com/evrenesat/asky)"
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := &HTTPFetcher{cfg: cfg, logger: logger.With("component", "fetch")}
	f.client = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			if !cfg.AllowPrivateHosts {
				if err := validateURL(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
			}
			return nil
		},
	}
	return f
}

// Fetch retrieves one page and extracts its readable content.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Document, error) {
	if !f.cfg.AllowPrivateHosts {
		if err := validateURL(rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: building request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch: %s returned status %d", rawURL, resp.StatusCode)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: reading body: %w", err)
	}

	doc := &Document{
		URL:       rawURL,
		FinalURL:  finalURL,
		FetchedAt: time.Now().UTC(),
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		body = body[:f.cfg.MaxBodyBytes]
		doc.Warning = "content truncated at size limit"
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") {
		doc.Content = strings.TrimSpace(string(body))
		return doc, nil
	}

	f.extractHTML(doc, body, finalURL, opts)
	return doc, nil
}

func (f *HTTPFetcher) extractHTML(doc *Document, body []byte, finalURL string, opts Options) {
	base, _ := url.Parse(finalURL)

	article, err := readability.FromReader(strings.NewReader(string(body)), base)
	if err != nil {
		f.logger.Debug("readability extraction failed, stripping tags", "url", doc.URL, "error", err)
		doc.Content = stripTags(string(body))
		doc.Title = htmlTitle(body)
		appendWarning(doc, "readability extraction failed")
	} else {
		doc.Title = article.Title
		if article.PublishedTime != nil {
			doc.Date = article.PublishedTime.Format("2006-01-02")
		}
		switch opts.Format {
		case FormatText:
			doc.Content = strings.TrimSpace(article.TextContent)
		default:
			md, mdErr := htmltomarkdown.ConvertString(article.Content)
			if mdErr != nil {
				f.logger.Debug("markdown conversion failed, using text", "url", doc.URL, "error", mdErr)
				doc.Content = strings.TrimSpace(article.TextContent)
				appendWarning(doc, "markdown conversion failed")
			} else {
				doc.Content = strings.TrimSpace(md)
			}
		}
	}

	if doc.Date == "" {
		doc.Date = metaDate(body)
	}
	if opts.IncludeLinks {
		doc.Links = extractLinks(body, base, opts.MaxLinks)
	}
}

func appendWarning(doc *Document, warning string) {
	if doc.Warning == "" {
		doc.Warning = warning
		return
	}
	doc.Warning += "; " + warning
}

// extractLinks walks the DOM collecting anchor hrefs with their text,
// resolved against base, deduplicated, capped at maxLinks.
func extractLinks(body []byte, base *url.URL, maxLinks int) []Link {
	root, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []Link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if maxLinks > 0 && len(links) >= maxLinks {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attrValue(n, "href")
			if resolved, ok := resolveLink(href, base); ok && !seen[resolved] {
				seen[resolved] = true
				label := collapseSpace(nodeText(n))
				if label == "" {
					label = resolved
				}
				links = append(links, Link{Label: label, Href: resolved})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return links
}

func resolveLink(href string, base *url.URL) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	parsed.Fragment = ""
	return parsed.String(), true
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// metaDate pulls a publication date from common meta tags.
func metaDate(body []byte) string {
	root, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}

	var date string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if date != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "meta" {
			name := attrValue(n, "property")
			if name == "" {
				name = attrValue(n, "name")
			}
			switch name {
			case "article:published_time", "date", "publish-date", "publication_date":
				if v := strings.TrimSpace(attrValue(n, "content")); v != "" {
					if len(v) > 10 {
						v = v[:10]
					}
					date = v
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return date
}

func htmlTitle(body []byte) string {
	root, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			title = collapseSpace(nodeText(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return title
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// stripTags is the extraction fallback when readability rejects the page.
func stripTags(s string) string {
	s = scriptRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	return collapseSpace(s)
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
