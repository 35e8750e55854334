// Package fetch retrieves documents for research: web pages over HTTP with
// readability extraction, and local files for corpus ingestion. Both
// backends produce the same Document shape.
package fetch

import (
	"context"
	"time"
)

// Link is one outbound link with its anchor text.
type Link struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

// Document is the result of one retrieval. Warning carries soft issues
// (truncation, extraction fallback); hard failures come back as errors
// from Fetch.
type Document struct {
	URL       string
	FinalURL  string
	Title     string
	Content   string
	Links     []Link
	Date      string
	FetchedAt time.Time
	Warning   string
}

// Format selects the content rendering.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// Options controls one fetch.
type Options struct {
	Format       Format
	IncludeLinks bool
	MaxLinks     int
}

// Fetcher retrieves a document for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts Options) (*Document, error)
}
