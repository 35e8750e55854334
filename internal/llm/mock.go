package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockProvider is a scripted Provider for tests. Responses are returned in
// order; once exhausted, the last one repeats. Every request is recorded
// for assertions. CompleteFn, when set, overrides the script entirely.
type MockProvider struct {
	mu        sync.Mutex
	Responses []*Response
	Err       error
	Requests  []*Request

	CompleteFn func(ctx context.Context, req *Request) (*Response, error)

	next int
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return nil, fmt.Errorf("mock provider: no scripted responses")
	}
	resp := m.Responses[m.next]
	if m.next < len(m.Responses)-1 {
		m.next++
	}
	return resp, nil
}

// Name implements Provider.
func (m *MockProvider) Name() string { return "mock" }

// CallCount returns the number of Complete calls so far.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// TextResponse builds a plain assistant reply.
func TextResponse(content string) *Response {
	return &Response{
		Message:    Message{Role: RoleAssistant, Content: content},
		StopReason: StopEndTurn,
		Usage:      TokenUsage{PromptTokens: 10, CompletionTokens: 5},
	}
}

// ToolCallResponse builds an assistant reply requesting one tool call with
// the given JSON argument object.
func ToolCallResponse(name, arguments string) *Response {
	return &Response{
		Message: Message{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{{
				ID:        uuid.New().String(),
				Name:      name,
				Arguments: json.RawMessage(arguments),
			}},
		},
		StopReason: StopToolCalls,
		Usage:      TokenUsage{PromptTokens: 10, CompletionTokens: 5},
	}
}
