// Package summarize compresses long texts with an LLM, using a bounded
// map-reduce for inputs too large for one call. It never touches the
// content store; callers pass text in and persist the result themselves.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/usage"
)

// DefaultTemplate is used when the caller has no specialized prompt. The
// %s verb receives the content.
const DefaultTemplate = "Summarize the following content concisely, " +
	"preserving key facts, names, and numbers:\n\n%s"

// Stage labels for progress callbacks.
const (
	StageSingle = "single"
	StageMap    = "map"
	StageReduce = "reduce"
)

// Progress receives one update per LLM call during summarization.
type Progress func(stage string, callIndex, callTotal, inputChars, outputChars int, elapsed time.Duration)

// Options carries per-call collaborators.
type Options struct {
	// Tracker accumulates summary-scope token usage. Optional.
	Tracker *usage.Tracker
	// Progress observes each LLM call. Optional.
	Progress Progress
}

// Config sizes the map-reduce.
type Config struct {
	// Model is the wire-level model id used for summarization calls.
	Model string
	// MapReduceThresholdChars: inputs at or under this go through one call.
	MapReduceThresholdChars int
	// ChunkChars is the map-phase window size.
	ChunkChars int
	// OverlapChars is carried between adjacent windows.
	OverlapChars int
	// MaxOutputChars caps output when the caller passes maxChars <= 0.
	MaxOutputChars int
}

// Summarizer compresses text through an LLM provider.
type Summarizer struct {
	provider llm.Provider
	cfg      Config
	logger   *slog.Logger
}

// New creates a summarizer.
func New(provider llm.Provider, cfg Config, logger *slog.Logger) *Summarizer {
	if cfg.MapReduceThresholdChars <= 0 {
		cfg.MapReduceThresholdChars = 24000
	}
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = 12000
	}
	if cfg.OverlapChars < 0 || cfg.OverlapChars >= cfg.ChunkChars {
		cfg.OverlapChars = 400
	}
	if cfg.MaxOutputChars <= 0 {
		cfg.MaxOutputChars = 2000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{provider: provider, cfg: cfg, logger: logger.With("component", "summarize")}
}

// Summarize compresses content to at most maxChars characters using tmpl
// as the prompt (one %s verb for the content). Empty tmpl uses
// DefaultTemplate; maxChars <= 0 uses the configured default. Inputs over
// the map-reduce threshold are chunked, each chunk summarized with a
// progress update, then the partials are reduced in a final call.
func (s *Summarizer) Summarize(ctx context.Context, content, tmpl string, maxChars int, opts Options) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", nil
	}
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	if maxChars <= 0 {
		maxChars = s.cfg.MaxOutputChars
	}

	if len(content) <= s.cfg.MapReduceThresholdChars {
		out, err := s.call(ctx, tmpl, content, maxChars, StageSingle, 1, 1, opts)
		if err != nil {
			return "", err
		}
		return clip(out, maxChars), nil
	}

	windows := splitWindows(content, s.cfg.ChunkChars, s.cfg.OverlapChars)
	partials := make([]string, 0, len(windows))
	for i, window := range windows {
		partial, err := s.call(ctx, tmpl, window, maxChars, StageMap, i+1, len(windows), opts)
		if err != nil {
			return "", fmt.Errorf("summarize: map call %d/%d: %w", i+1, len(windows), err)
		}
		partials = append(partials, partial)
	}

	combined := strings.Join(partials, "\n\n")
	if len(combined) <= maxChars {
		return combined, nil
	}
	out, err := s.call(ctx, tmpl, combined, maxChars, StageReduce, 1, 1, opts)
	if err != nil {
		return "", fmt.Errorf("summarize: reduce call: %w", err)
	}
	return clip(out, maxChars), nil
}

func (s *Summarizer) call(ctx context.Context, tmpl, content string, maxChars int, stage string, index, total int, opts Options) (string, error) {
	prompt := fmt.Sprintf(tmpl, content)
	start := time.Now()

	resp, err := s.provider.Complete(ctx, &llm.Request{
		Model: s.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt},
		},
		// Rough char-to-token conversion with headroom for formatting.
		MaxTokens: maxChars/3 + 64,
	})
	elapsed := time.Since(start)
	if err != nil {
		return "", err
	}

	out := strings.TrimSpace(resp.Message.Content)
	if opts.Tracker != nil {
		opts.Tracker.Record(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, elapsed)
	}
	if opts.Progress != nil {
		opts.Progress(stage, index, total, len(content), len(out), elapsed)
	}
	return out, nil
}

// splitWindows slices content into chunkChars windows, each starting
// overlapChars before the previous window's end.
func splitWindows(content string, chunkChars, overlapChars int) []string {
	if len(content) <= chunkChars {
		return []string{content}
	}

	var windows []string
	step := chunkChars - overlapChars
	for start := 0; start < len(content); start += step {
		end := start + chunkChars
		if end >= len(content) {
			windows = append(windows, content[start:])
			break
		}
		windows = append(windows, content[start:end])
	}
	return windows
}

func clip(s string, maxChars int) string {
	if maxChars > 0 && len(s) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return strings.TrimSpace(s[:cut])
	}
	return s
}
