package llm

import (
	"encoding/json"
	"testing"
)

func TestConvertToAnthropicMessages_SystemExtraction(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "first"},
		{Role: RoleSystem, Content: "second"},
		{Role: RoleUser, Content: "hello"},
	}

	system, out, err := convertToAnthropicMessages(messages)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if system != "first\n\nsecond" {
		t.Errorf("system = %q", system)
	}
	if len(out) != 1 {
		t.Errorf("converted %d messages, want 1", len(out))
	}
}

func TestConvertToAnthropicMessages_ToolResultMerging(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "search twice"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "a", Name: "web_search", Arguments: json.RawMessage(`{"q":"one"}`)},
			{ID: "b", Name: "web_search", Arguments: json.RawMessage(`{"q":"two"}`)},
		}},
		{Role: RoleTool, Content: `{"n":1}`, ToolCallID: "a"},
		{Role: RoleTool, Content: `{"n":2}`, ToolCallID: "b"},
		{Role: RoleAssistant, Content: "done"},
	}

	_, out, err := convertToAnthropicMessages(messages)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	// user, assistant(tool_use x2), user(tool_result x2), assistant
	if len(out) != 4 {
		t.Fatalf("converted %d messages, want 4", len(out))
	}
	if out[2].Role != "user" {
		t.Errorf("merged tool results role = %q, want user", out[2].Role)
	}
	if len(out[2].Content) != 2 {
		t.Errorf("merged tool result blocks = %d, want 2", len(out[2].Content))
	}
}

func TestConvertToAnthropicMessages_InvalidToolInput(t *testing.T) {
	messages := []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "a", Name: "web_search", Arguments: json.RawMessage(`{broken`)},
		}},
	}
	if _, _, err := convertToAnthropicMessages(messages); err == nil {
		t.Fatal("expected error for invalid tool input")
	}
}

func TestConvertToAnthropicTools(t *testing.T) {
	tools := []ToolSpec{
		{Name: "save_finding", Description: "persist a fact", Parameters: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)},
	}
	out, err := convertToAnthropicTools(tools)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("converted %d tools, want 1", len(out))
	}
	if out[0].OfTool == nil {
		t.Fatal("OfTool is nil")
	}
	if out[0].OfTool.Name != "save_finding" {
		t.Errorf("tool name = %q", out[0].OfTool.Name)
	}
}

func TestNormalizeAnthropicStopReason(t *testing.T) {
	tests := []struct {
		reason       string
		hasToolCalls bool
		want         string
	}{
		{"end_turn", false, StopEndTurn},
		{"tool_use", true, StopToolCalls},
		{"max_tokens", false, StopLength},
		{"stop_sequence", false, StopEndTurn},
		{"", true, StopToolCalls},
	}
	for _, tt := range tests {
		if got := normalizeAnthropicStopReason(tt.reason, tt.hasToolCalls); got != tt.want {
			t.Errorf("normalizeAnthropicStopReason(%q, %v) = %q, want %q", tt.reason, tt.hasToolCalls, got, tt.want)
		}
	}
}
