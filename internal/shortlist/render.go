package shortlist

import (
	"fmt"
	"strings"
)

const excerptChars = 700

// ContextBlock renders the selected candidates as a prompt-ready source
// block. Empty when nothing was selected.
func (r *Result) ContextBlock() string {
	if len(r.Candidates) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Candidate sources\n")
	for _, c := range r.Candidates {
		b.WriteString(fmt.Sprintf("\n### [%d] %s\n", c.Rank, titleOr(c.Title, c.NormalizedURL)))
		b.WriteString("URL: " + c.NormalizedURL + "\n")
		if c.Date != "" {
			b.WriteString("Date: " + c.Date + "\n")
		}
		excerpt := c.Content
		if excerpt == "" {
			excerpt = c.Snippet
		}
		if len(excerpt) > excerptChars {
			excerpt = excerpt[:excerptChars] + "..."
		}
		if excerpt != "" {
			b.WriteString(excerpt + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// SeedStatusBlock renders per-seed delivery status: which seed URLs were
// fetched, their sizes, and any failures. Empty without seeds.
func (r *Result) SeedStatusBlock() string {
	if len(r.SeedDocuments) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Provided URLs\n")
	for _, d := range r.SeedDocuments {
		switch {
		case d.Error != "":
			b.WriteString(fmt.Sprintf("- %s: FAILED (%s)\n", d.URL, d.Error))
		case d.Warning != "":
			b.WriteString(fmt.Sprintf("- %s: delivered with warning (%s, %d chars)\n", d.URL, d.Warning, d.Chars))
		default:
			b.WriteString(fmt.Sprintf("- %s: delivered (%d chars)\n", d.URL, d.Chars))
		}
	}
	for _, d := range r.SeedDocuments {
		if d.Error != "" || d.Content == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("\n### %s\nURL: %s\n%s\n", titleOr(d.Title, d.URL), d.URL, d.Content))
	}
	return strings.TrimSpace(b.String())
}

func titleOr(title, fallback string) string {
	if strings.TrimSpace(title) != "" {
		return title
	}
	return fallback
}
