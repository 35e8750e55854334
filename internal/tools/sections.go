package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evrenesat/asky/internal/corpus"
	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/summarize"
)

// Summary sizes for summarize_section detail levels.
var detailLevelChars = map[string]int{
	"brief":    600,
	"normal":   1200,
	"detailed": 2400,
}

func (s *Set) listSectionsTool() definition {
	return definition{
		spec: llm.ToolSpec{
			Name:        "list_sections",
			Description: "List the detected sections of a corpus document: id, ref, title, and heading level.",
			Guideline:   "Call list_sections before summarize_section to see what a corpus document contains.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "A corpus handle (corpus://cache/<id>)"}
				},
				"required": ["url"]
			}`),
		},
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			u := argString(args, "url")
			if !corpus.IsHandle(u) {
				return nil, fmt.Errorf("list_sections takes a corpus handle, got %q", u)
			}
			entry, _, err := s.deps.Corpus.Resolve(ctx, u)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"title":    entry.Title,
				"sections": corpus.DetectSections(entry.Content),
			}, nil
		},
	}
}

func (s *Set) summarizeSectionTool() definition {
	return definition{
		spec: llm.ToolSpec{
			Name:        "summarize_section",
			Description: "Summarize one section of a corpus document at a chosen detail level. The section is matched strictly by id, ref, or title query.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "A corpus handle"},
					"section": {"type": "string", "description": "Section id, ref, or title query"},
					"detail_level": {"type": "string", "enum": ["brief", "normal", "detailed"]}
				},
				"required": ["url", "section"]
			}`),
		},
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			u := argString(args, "url")
			if !corpus.IsHandle(u) {
				return nil, fmt.Errorf("summarize_section takes a corpus handle, got %q", u)
			}
			if s.deps.Summarizer == nil {
				return nil, fmt.Errorf("no summarizer configured")
			}
			selector := argString(args, "section")
			maxChars := detailLevelChars["normal"]
			if level := argString(args, "detail_level"); level != "" {
				maxChars = detailLevelChars[level]
			}

			entry, section, text, err := s.deps.Corpus.ResolveSection(ctx, u, selector)
			if err != nil {
				return nil, err
			}
			if text == "" {
				return nil, fmt.Errorf("section %q is empty", section.Title)
			}

			s.status("summarizing section " + section.Title)
			summary, err := s.deps.Summarizer.Summarize(ctx, text, "", maxChars, summarize.Options{})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"document": entry.Title,
				"section":  section.Title,
				"ref":      section.Ref,
				"summary":  summary,
			}, nil
		},
	}
}
