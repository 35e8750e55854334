package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/summarize"
	"github.com/evrenesat/asky/internal/tools"
	"github.com/evrenesat/asky/internal/usage"
)

func echoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(slog.Default())
	reg.Register(llm.ToolSpec{
		Name:        "lookup",
		Description: "look something up",
		Guideline:   "use lookup before answering",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"key": {"type": "string"}},
			"required": ["key"]
		}`),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"value": "result-for-" + args["key"].(string)}, nil
	})
	return reg
}

func systemAndUser(query string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a research assistant."},
		{Role: llm.RoleUser, Content: query},
	}
}

func TestRun_DirectAnswer(t *testing.T) {
	mock := &llm.MockProvider{Responses: []*llm.Response{llm.TextResponse("direct answer")}}
	e := New(mock, echoRegistry(t), nil, nil, Config{Model: "m"}, slog.Default())

	answer, messages, err := e.Run(context.Background(), systemAndUser("question"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if answer != "direct answer" {
		t.Errorf("answer = %q", answer)
	}
	if messages[len(messages)-1].Role != llm.RoleAssistant {
		t.Error("final message must be the assistant answer")
	}
	if !strings.Contains(messages[0].Content, "Enabled Tool Guidelines") ||
		!strings.Contains(messages[0].Content, "use lookup before answering") {
		t.Errorf("guidelines not appended to system message: %q", messages[0].Content)
	}
}

func TestRun_ToolLoop(t *testing.T) {
	mock := &llm.MockProvider{Responses: []*llm.Response{
		llm.ToolCallResponse("lookup", `{"key":"alpha"}`),
		llm.TextResponse("answer using alpha"),
	}}
	tracker := usage.NewTracker(usage.ScopeMain)
	e := New(mock, echoRegistry(t), nil, tracker, Config{Model: "m"}, slog.Default())

	var events []Event
	e.Observer = func(ev Event) { events = append(events, ev) }

	answer, messages, err := e.Run(context.Background(), systemAndUser("about alpha"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if answer != "answer using alpha" {
		t.Errorf("answer = %q", answer)
	}

	// Second request must carry assistant tool-call message then tool result.
	second := mock.Requests[1].Messages
	assistantIdx := -1
	for i, m := range second {
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			assistantIdx = i
		}
	}
	if assistantIdx == -1 || assistantIdx+1 >= len(second) {
		t.Fatalf("tool-call assistant message missing: %+v", second)
	}
	toolMsg := second[assistantIdx+1]
	if toolMsg.Role != llm.RoleTool || toolMsg.ToolCallID != second[assistantIdx].ToolCalls[0].ID {
		t.Errorf("tool message must follow with matching id: %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, "result-for-alpha") {
		t.Errorf("tool result missing: %q", toolMsg.Content)
	}

	if tracker.Snapshot().Calls != 2 {
		t.Errorf("expected 2 tracked calls, got %d", tracker.Snapshot().Calls)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
	_ = messages
}

func TestRun_SequentialOrderWithinResponse(t *testing.T) {
	multi := &llm.Response{
		Message: llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{"key":"one"}`)},
				{ID: "c2", Name: "lookup", Arguments: json.RawMessage(`{"key":"two"}`)},
			},
		},
		StopReason: llm.StopToolCalls,
	}
	mock := &llm.MockProvider{Responses: []*llm.Response{multi, llm.TextResponse("done")}}
	e := New(mock, echoRegistry(t), nil, nil, Config{Model: "m"}, slog.Default())

	_, _, err := e.Run(context.Background(), systemAndUser("q"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	second := mock.Requests[1].Messages
	var toolMsgs []llm.Message
	for _, m := range second {
		if m.Role == llm.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	if len(toolMsgs) != 2 || toolMsgs[0].ToolCallID != "c1" || toolMsgs[1].ToolCallID != "c2" {
		t.Errorf("tool messages out of order: %+v", toolMsgs)
	}
}

func TestRun_UnknownToolContinues(t *testing.T) {
	mock := &llm.MockProvider{Responses: []*llm.Response{
		llm.ToolCallResponse("no_such_tool", `{}`),
		llm.TextResponse("recovered"),
	}}
	e := New(mock, echoRegistry(t), nil, nil, Config{Model: "m"}, slog.Default())

	answer, _, err := e.Run(context.Background(), systemAndUser("q"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if answer != "recovered" {
		t.Errorf("loop must continue after unknown tool, got %q", answer)
	}

	var toolMsg llm.Message
	for _, m := range mock.Requests[1].Messages {
		if m.Role == llm.RoleTool {
			toolMsg = m
		}
	}
	if !strings.Contains(toolMsg.Content, "unknown tool") {
		t.Errorf("unknown tool message missing: %q", toolMsg.Content)
	}
}

func TestRun_ExecutorErrorBecomesToolMessage(t *testing.T) {
	reg := tools.NewRegistry(slog.Default())
	reg.Register(llm.ToolSpec{
		Name:       "broken",
		Parameters: json.RawMessage(`{"type": "object"}`),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return nil, fmt.Errorf("upstream timeout")
	})

	mock := &llm.MockProvider{Responses: []*llm.Response{
		llm.ToolCallResponse("broken", `{}`),
		llm.TextResponse("handled"),
	}}
	e := New(mock, reg, nil, nil, Config{Model: "m"}, slog.Default())

	answer, _, err := e.Run(context.Background(), systemAndUser("q"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if answer != "handled" {
		t.Errorf("answer = %q", answer)
	}
	var toolMsg llm.Message
	for _, m := range mock.Requests[1].Messages {
		if m.Role == llm.RoleTool {
			toolMsg = m
		}
	}
	if !strings.Contains(toolMsg.Content, "upstream timeout") {
		t.Errorf("executor error missing from tool message: %q", toolMsg.Content)
	}
}

func TestRun_ForcedFinalWithoutTools(t *testing.T) {
	mock := &llm.MockProvider{Responses: []*llm.Response{
		llm.ToolCallResponse("lookup", `{"key":"a"}`),
		llm.ToolCallResponse("lookup", `{"key":"b"}`),
		llm.TextResponse("forced answer"),
	}}
	e := New(mock, echoRegistry(t), nil, nil, Config{Model: "m", MaxTurns: 2}, slog.Default())

	answer, _, err := e.Run(context.Background(), systemAndUser("q"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if answer != "forced answer" {
		t.Errorf("answer = %q", answer)
	}
	final := mock.Requests[len(mock.Requests)-1]
	if len(final.Tools) != 0 {
		t.Errorf("forced final call must strip tools, got %d", len(final.Tools))
	}
	for _, req := range mock.Requests[:len(mock.Requests)-1] {
		if len(req.Tools) == 0 {
			t.Error("regular iterations must include tool specs")
		}
	}
}

func TestRun_CancellationBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := &llm.MockProvider{
		CompleteFn: func(_ context.Context, req *llm.Request) (*llm.Response, error) {
			cancel() // takes effect at the next checkpoint
			return llm.ToolCallResponse("lookup", `{"key":"x"}`), nil
		},
	}
	e := New(mock, echoRegistry(t), nil, nil, Config{Model: "m"}, slog.Default())

	_, _, err := e.Run(ctx, systemAndUser("q"))
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Errorf("expected cancellation error, got %v", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("loop must stop at the checkpoint, got %d calls", mock.CallCount())
	}
}

func TestRun_MidLoopCompaction(t *testing.T) {
	long := strings.Repeat("filler content ", 400) // ~1.5k tokens estimated
	summaryProvider := &llm.MockProvider{Responses: []*llm.Response{llm.TextResponse("compact summary")}}
	s := summarize.New(summaryProvider, summarize.Config{}, slog.Default())

	mock := &llm.MockProvider{Responses: []*llm.Response{llm.TextResponse("final")}}
	e := New(mock, echoRegistry(t), s, nil, Config{
		Model:             "m",
		ContextTokens:     1000,
		CompactFraction:   0.5,
		CompactKeepRecent: 2,
	}, slog.Default())

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "system"},
		{Role: llm.RoleUser, Content: long},
		{Role: llm.RoleAssistant, Content: long},
		{Role: llm.RoleUser, Content: "recent one"},
		{Role: llm.RoleUser, Content: "recent two"},
	}
	_, _, err := e.Run(context.Background(), messages)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summaryProvider.CallCount() == 0 {
		t.Fatal("compaction must invoke the summarizer")
	}

	sent := mock.Requests[0].Messages
	if sent[0].Role != llm.RoleSystem {
		t.Error("system message must survive compaction")
	}
	foundSummary := false
	for _, m := range sent {
		if strings.Contains(m.Content, "compact summary") {
			foundSummary = true
		}
		if m.Content == long {
			t.Error("compacted message leaked into the request")
		}
	}
	if !foundSummary {
		t.Errorf("summary message missing: %+v", sent)
	}
	if sent[len(sent)-1].Content != "recent two" || sent[len(sent)-2].Content != "recent one" {
		t.Error("recent messages must survive verbatim")
	}
}
