// Package engine drives the bounded tool-call loop for one turn: it sends
// messages to the model, dispatches requested tool calls strictly in order,
// and feeds results back until the model produces a final answer or the
// iteration budget runs out.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/summarize"
	"github.com/evrenesat/asky/internal/tools"
	"github.com/evrenesat/asky/internal/usage"
)

// Event is emitted once per loop iteration when an observer is subscribed.
type Event struct {
	Iteration  int
	StopReason string
	ToolCalls  []llm.ToolCall
	Usage      llm.TokenUsage
}

// Observer receives per-iteration events. Must not block.
type Observer func(Event)

// Config bounds one engine run.
type Config struct {
	// Model is the wire-level model identifier.
	Model string

	MaxTurns    int
	MaxTokens   int
	Temperature float32

	// ContextTokens is the model's context budget. When the running
	// estimate crosses CompactFraction of it, older messages are collapsed
	// before the next call. Zero disables mid-loop compaction.
	ContextTokens     int
	CompactFraction   float64
	CompactKeepRecent int
}

// Engine runs the loop. One engine serves one turn; it holds no state
// across runs.
type Engine struct {
	provider   llm.Provider
	registry   *tools.Registry
	summarizer *summarize.Summarizer
	tracker    *usage.Tracker
	cfg        Config
	logger     *slog.Logger

	// Observer, when set, sees every iteration.
	Observer Observer
}

// New creates an engine. The summarizer may be nil when compaction is
// disabled; the tracker may be nil.
func New(provider llm.Provider, registry *tools.Registry, summarizer *summarize.Summarizer, tracker *usage.Tracker, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.CompactFraction <= 0 || cfg.CompactFraction > 1 {
		cfg.CompactFraction = 0.7
	}
	if cfg.CompactKeepRecent <= 0 {
		cfg.CompactKeepRecent = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider:   provider,
		registry:   registry,
		summarizer: summarizer,
		tracker:    tracker,
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
	}
}

// Run executes the tool loop and returns the final answer together with the
// full message list as it stood when the answer was produced.
//
// Tool calls within one assistant response run sequentially in declared
// order, and their tool messages keep that order in the next request.
// Cancellation is honored between iterations only.
func (e *Engine) Run(ctx context.Context, messages []llm.Message) (string, []llm.Message, error) {
	messages = e.appendGuidelines(messages)

	for i := 0; i < e.cfg.MaxTurns; i++ {
		if err := ctx.Err(); err != nil {
			return "", messages, fmt.Errorf("turn cancelled: %w", err)
		}
		messages = e.maybeCompact(ctx, messages)

		resp, err := e.complete(ctx, messages, e.registry.Specs())
		if err != nil {
			return "", messages, fmt.Errorf("llm call %d: %w", i+1, err)
		}

		if len(resp.Message.ToolCalls) == 0 {
			messages = append(messages, resp.Message)
			e.emit(i, resp)
			return resp.Message.Content, messages, nil
		}

		messages = append(messages, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			messages = append(messages, e.runTool(ctx, call))
		}
		e.emit(i, resp)
	}

	// Budget exhausted: one last call with tools withheld forces an answer.
	e.logger.Warn("turn budget exhausted, forcing final answer", "max_turns", e.cfg.MaxTurns)
	resp, err := e.complete(ctx, messages, nil)
	if err != nil {
		return "", messages, fmt.Errorf("forced final call: %w", err)
	}
	messages = append(messages, resp.Message)
	return resp.Message.Content, messages, nil
}

func (e *Engine) complete(ctx context.Context, messages []llm.Message, specs []llm.ToolSpec) (*llm.Response, error) {
	start := time.Now()
	resp, err := e.provider.Complete(ctx, &llm.Request{
		Model:       e.cfg.Model,
		Messages:    messages,
		Tools:       specs,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if e.tracker != nil {
		e.tracker.Record(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, time.Since(start))
	}
	return resp, nil
}

// runTool dispatches one call and wraps the outcome in a tool message keyed
// by the declared call id. Unknown tools and executor failures become
// readable tool messages; the loop always continues.
func (e *Engine) runTool(ctx context.Context, call llm.ToolCall) llm.Message {
	msg := llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Name: call.Name}

	if !e.registry.Has(call.Name) {
		e.logger.Warn("model requested unknown tool", "tool", call.Name)
		msg.Content = fmt.Sprintf(`{"error": "unknown tool %q; use only the tools listed in this conversation"}`, call.Name)
		return msg
	}

	result := e.registry.Dispatch(ctx, call.Name, call.Arguments)
	encoded, err := json.Marshal(result)
	if err != nil {
		msg.Content = fmt.Sprintf(`{"error": "tool result not serializable: %v"}`, err)
		return msg
	}
	msg.Content = string(encoded)
	return msg
}

func (e *Engine) emit(iteration int, resp *llm.Response) {
	if e.Observer == nil {
		return
	}
	e.Observer(Event{
		Iteration:  iteration,
		StopReason: resp.StopReason,
		ToolCalls:  resp.Message.ToolCalls,
		Usage:      resp.Usage,
	})
}

func (e *Engine) appendGuidelines(messages []llm.Message) []llm.Message {
	lines := e.registry.Guidelines()
	if len(lines) == 0 || len(messages) == 0 || messages[0].Role != llm.RoleSystem {
		return messages
	}
	var b strings.Builder
	b.WriteString(messages[0].Content)
	b.WriteString("\n\nEnabled Tool Guidelines:\n")
	for _, line := range lines {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	messages[0].Content = strings.TrimRight(b.String(), "\n")
	return messages
}

// maybeCompact collapses older messages into a summary when the estimated
// token count crosses the budget. The leading system message and the most
// recent messages survive verbatim; tool messages are never separated from
// the assistant message that requested them.
func (e *Engine) maybeCompact(ctx context.Context, messages []llm.Message) []llm.Message {
	if e.cfg.ContextTokens <= 0 || e.summarizer == nil {
		return messages
	}
	budget := int(float64(e.cfg.ContextTokens) * e.cfg.CompactFraction)
	if llm.EstimateMessageTokens(messages) <= budget {
		return messages
	}

	headEnd := 0
	if messages[0].Role == llm.RoleSystem {
		headEnd = 1
	}
	tailStart := len(messages) - e.cfg.CompactKeepRecent
	for tailStart > headEnd && messages[tailStart].Role == llm.RoleTool {
		tailStart--
	}
	if tailStart <= headEnd {
		return messages
	}

	var transcript strings.Builder
	for _, m := range messages[headEnd:tailStart] {
		if m.Content == "" {
			continue
		}
		transcript.WriteString(m.Role)
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	summary, err := e.summarizer.Summarize(ctx, transcript.String(), "", 2000, summarize.Options{})
	if err != nil {
		e.logger.Warn("mid-loop compaction failed", "error", err)
		return messages
	}
	e.logger.Info("compacted conversation",
		"dropped", tailStart-headEnd, "kept", len(messages)-tailStart)

	compacted := make([]llm.Message, 0, headEnd+1+len(messages)-tailStart)
	compacted = append(compacted, messages[:headEnd]...)
	compacted = append(compacted, llm.Message{
		Role:    llm.RoleUser,
		Content: "Summary of the conversation so far:\n" + summary,
	})
	compacted = append(compacted, messages[tailStart:]...)
	return compacted
}
