package corpus

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Section is one detected document region. ID is 1-based document order;
// Ref is a stable slug derived from the heading.
type Section struct {
	ID    int    `json:"id"`
	Ref   string `json:"ref"`
	Title string `json:"title"`
	Level int    `json:"level"`
	// Start and End are byte offsets into the document content. End is
	// exclusive.
	Start int `json:"-"`
	End   int `json:"-"`
}

var headingRe = regexp.MustCompile(`(?m)^(#{1,6})[ \t]+(.+?)[ \t]*#*[ \t]*$`)

// DetectSections finds markdown ATX headings and slices the document into
// sections. A document without headings is one section titled by its
// first line.
func DetectSections(content string) []Section {
	matches := headingRe.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		title := firstLine(content)
		return []Section{{ID: 1, Ref: slugify(title), Title: title, Level: 0, Start: 0, End: len(content)}}
	}

	seen := make(map[string]int)
	sections := make([]Section, 0, len(matches))
	for i, m := range matches {
		level := m[3] - m[2]
		title := strings.TrimSpace(content[m[4]:m[5]])
		ref := slugify(title)
		if n := seen[ref]; n > 0 {
			ref = fmt.Sprintf("%s-%d", ref, n+1)
		}
		seen[slugify(title)]++

		start := m[0]
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections = append(sections, Section{
			ID:    i + 1,
			Ref:   ref,
			Title: title,
			Level: level,
			Start: start,
			End:   end,
		})
	}
	return sections
}

// SectionText returns a section's slice of the document.
func SectionText(content string, s Section) string {
	if s.Start < 0 || s.End > len(content) || s.Start >= s.End {
		return ""
	}
	return strings.TrimSpace(content[s.Start:s.End])
}

// MatchSection resolves a selector strictly: a numeric id, an exact ref,
// an exact (case-insensitive) title, or a query matching exactly one
// section title. No match and ambiguous matches are errors.
func MatchSection(sections []Section, selector string) (Section, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return Section{}, fmt.Errorf("corpus: empty section selector")
	}

	if id, err := strconv.Atoi(selector); err == nil {
		for _, s := range sections {
			if s.ID == id {
				return s, nil
			}
		}
		return Section{}, fmt.Errorf("corpus: no section with id %d", id)
	}

	for _, s := range sections {
		if s.Ref == selector {
			return s, nil
		}
	}

	lower := strings.ToLower(selector)
	for _, s := range sections {
		if strings.ToLower(s.Title) == lower {
			return s, nil
		}
	}

	var matches []Section
	for _, s := range sections {
		if strings.Contains(strings.ToLower(s.Title), lower) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Section{}, fmt.Errorf("corpus: no section matches %q", selector)
	default:
		titles := make([]string, len(matches))
		for i, m := range matches {
			titles[i] = m.Title
		}
		return Section{}, fmt.Errorf("corpus: selector %q is ambiguous: %s", selector, strings.Join(titles, ", "))
	}
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if slug == "" {
		slug = "section"
	}
	return slug
}

func firstLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			if len(line) > 80 {
				line = line[:80]
			}
			return line
		}
	}
	return "document"
}
