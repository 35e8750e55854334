package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/store"
)

func (s *Set) saveFindingTool() definition {
	return definition{
		spec: llm.ToolSpec{
			Name:        "save_finding",
			Description: "Persist a research finding: a fact worth keeping, with its source and optional tags. Findings are recalled by query_research_memory.",
			Guideline:   "Save concrete findings with save_finding as you discover them; cite the source URL.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {"type": "string", "description": "The fact to remember"},
					"source_url": {"type": "string"},
					"source_title": {"type": "string"},
					"tags": {"type": "array", "items": {"type": "string"}},
					"session_id": {"type": "string", "description": "Scope to a session; empty means the current one"}
				},
				"required": ["content"]
			}`),
		},
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			sessionID, err := argSessionID(args)
			if err != nil {
				return nil, err
			}
			if sessionID == 0 {
				sessionID = s.deps.SessionID
			}

			var tags []string
			if raw, ok := args["tags"].([]any); ok {
				for _, t := range raw {
					if tag, ok := t.(string); ok {
						tags = append(tags, tag)
					}
				}
			}

			id, err := s.deps.Store.SaveFinding(ctx, store.Finding{
				SessionID:   sessionID,
				Content:     argString(args, "content"),
				SourceURL:   argString(args, "source_url"),
				SourceTitle: argString(args, "source_title"),
				Tags:        tags,
			})
			if err != nil {
				return nil, err
			}

			// Embedding is best effort; the finding is durable either way.
			if s.deps.Vector != nil {
				if err := s.deps.Vector.StoreFindingEmbedding(ctx, id, argString(args, "content")); err != nil {
					s.logger.Debug("finding embedding skipped", "id", id, "error", err)
				}
			}
			return map[string]any{"saved": true, "finding_id": id}, nil
		},
	}
}

func (s *Set) queryResearchMemoryTool() definition {
	return definition{
		spec: llm.ToolSpec{
			Name:        "query_research_memory",
			Description: "Semantic search over previously saved research findings. Falls back to the most recent findings when semantic search is unavailable.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"top_k": {"type": "integer", "minimum": 1},
					"session_id": {"type": "string"}
				},
				"required": ["query"]
			}`),
		},
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			sessionID, err := argSessionID(args)
			if err != nil {
				return nil, err
			}
			if sessionID == 0 {
				sessionID = s.deps.SessionID
			}
			query := argString(args, "query")
			topK := argInt(args, "top_k", s.deps.DefaultTopK)

			type item struct {
				Content   string   `json:"content"`
				SourceURL string   `json:"source_url,omitempty"`
				Tags      []string `json:"tags,omitempty"`
				Score     float64  `json:"score,omitempty"`
			}

			if s.deps.Vector != nil {
				hits, err := s.deps.Vector.SearchFindings(ctx, query, topK, sessionID)
				if err == nil && len(hits) > 0 {
					items := make([]item, len(hits))
					for i, h := range hits {
						items[i] = item{
							Content:   h.Finding.Content,
							SourceURL: h.Finding.SourceURL,
							Tags:      h.Finding.Tags,
							Score:     h.Score,
						}
					}
					return map[string]any{"findings": items, "matched": "semantic"}, nil
				}
			}

			recent, err := s.deps.Store.ListFindings(ctx, topK, sessionID)
			if err != nil {
				return nil, fmt.Errorf("listing findings: %w", err)
			}
			items := make([]item, len(recent))
			for i, f := range recent {
				items[i] = item{Content: f.Content, SourceURL: f.SourceURL, Tags: f.Tags}
			}
			return map[string]any{"findings": items, "matched": "recent"}, nil
		},
	}
}

func (s *Set) saveMemoryTool() definition {
	return definition{
		spec: llm.ToolSpec{
			Name:        "save_memory",
			Description: "Persist a user memory: a durable fact about the user or their preferences. Global by default, or scoped to the current session.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {"type": "string"},
					"scope": {"type": "string", "enum": ["global", "session"]}
				},
				"required": ["content"]
			}`),
		},
		exec: func(ctx context.Context, args map[string]any) (any, error) {
			content := argString(args, "content")
			var sessionID int64
			if argString(args, "scope") == "session" {
				if s.deps.SessionID == 0 {
					return nil, fmt.Errorf("no active session for session-scoped memory")
				}
				sessionID = s.deps.SessionID
			}

			memory := store.Memory{SessionID: sessionID, Content: content}
			if s.deps.Embedder != nil && !s.deps.Embedder.LoadFailed() {
				if vec, err := s.deps.Embedder.EmbedOne(ctx, content); err == nil {
					memory.Embedding = vec
					memory.Model = s.deps.Embedder.Model()
				}
			}

			id, err := s.deps.Store.SaveMemory(ctx, memory)
			if err != nil {
				return nil, err
			}
			scope := "global"
			if sessionID != 0 {
				scope = "session"
			}
			return map[string]any{"saved": true, "memory_id": id, "scope": scope}, nil
		},
	}
}
