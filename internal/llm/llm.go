// Package llm defines the provider-neutral chat types and the Provider
// interface implemented by the OpenAI-compatible and Anthropic clients.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles. Tool messages carry the id of the assistant tool call they
// answer; the engine guarantees a tool message always follows the assistant
// message that declared the same id.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one role-tagged item in a conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments is the
// JSON-encoded argument object exactly as the model produced it.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec describes one callable tool to the model. Parameters is a JSON
// schema object; Guideline is an optional system-prompt line surfaced under
// the enabled-tool guidelines header. The engine treats all fields as opaque.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Guideline   string          `json:"-"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is one chat-completion call.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float32
}

// TokenUsage reports token counts for a single completion call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Stop reasons normalized across providers.
const (
	StopEndTurn   = "stop"
	StopToolCalls = "tool_calls"
	StopLength    = "length"
)

// Response is the assistant's reply to one Request. Message.Role is always
// RoleAssistant; when the model requested tools, Message.ToolCalls is
// non-empty and StopReason is StopToolCalls.
type Response struct {
	Message    Message
	StopReason string
	Usage      TokenUsage
}

// Provider is a synchronous chat-completions client. Complete blocks until
// the model produced a full response or the context is done. Implementations
// are safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() string
}

// Model describes one model alias known to the runtime: the provider to
// route to, the wire-level model identifier, and the context budget used by
// session compaction.
type Model struct {
	Alias         string
	Provider      string
	ID            string
	ContextTokens int
}

// EstimateTokens approximates the token count of a text with the common
// four-characters-per-token heuristic. Used only for budget checks, never
// for billing.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateMessageTokens sums EstimateTokens over message content and
// tool-call arguments, with a small per-message overhead.
func EstimateMessageTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content) + 4
		for _, tc := range m.ToolCalls {
			total += EstimateTokens(string(tc.Arguments)) + EstimateTokens(tc.Name)
		}
	}
	return total
}
