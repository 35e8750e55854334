package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/evrenesat/asky/internal/retry"
)

// defaultAnthropicMaxTokens bounds generations when the request does not set
// a limit. Anthropic requires max_tokens on every call.
const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements Provider over the Anthropic Messages API.
//
// Wire-format differences from the OpenAI provider, handled here:
//   - The system prompt is a separate request field, not a message.
//   - Tool results are content blocks inside a user message; consecutive
//     tool messages are merged into one user message.
//   - Tool-use input arrives as a JSON object, not a string.
//
// AnthropicProvider is safe for concurrent use.
type AnthropicProvider struct {
	client     anthropic.Client
	maxRetries int
	retryDelay time.Duration
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey is required. Format: sk-ant-...
	APIKey string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// MaxRetries overrides the retry attempt limit. Zero keeps the default.
	MaxRetries int

	// RetryDelay overrides the base backoff delay. Zero keeps the default.
	RetryDelay time.Duration
}

// NewAnthropicProvider creates a provider from config.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:     anthropic.NewClient(options...),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Name returns the stable provider identifier used for routing and logging.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends one Messages API request and blocks for the full reply.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	system, messages, err := convertToAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertToAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	msg, result := retry.DoWithValue(ctx, retry.Exponential(p.maxRetries, p.retryDelay, 30*time.Second), func() (*anthropic.Message, error) {
		m, err := p.client.Messages.New(ctx, params)
		if err != nil && !isRetryableAnthropicError(err) {
			return m, retry.Permanent(err)
		}
		return m, err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("anthropic: completion failed after %d attempts: %w", result.Attempts, result.Err)
	}

	out := Message{Role: RoleAssistant}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: json.RawMessage(toolUse.Input),
			})
		}
	}
	out.Content = text.String()

	return &Response{
		Message:    out,
		StopReason: normalizeAnthropicStopReason(string(msg.StopReason), len(out.ToolCalls) > 0),
		Usage: TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// convertToAnthropicMessages splits out the system prompt and folds the flat
// message list into Anthropic's alternating user/assistant shape. Runs of
// consecutive tool messages become a single user message whose content is the
// corresponding tool_result blocks, preserving order.
func convertToAnthropicMessages(messages []Message) (string, []anthropic.MessageParam, error) {
	var system string
	var result []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			result = append(result, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			// Anthropic takes the system prompt separately. Multiple system
			// messages concatenate in order.
			if system == "" {
				system = msg.Content
			} else {
				system += "\n\n" + msg.Content
			}

		case RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))

		case RoleAssistant:
			flushResults()
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]interface{}
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return "", nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				result = append(result, anthropic.NewAssistantMessage(content...))
			}

		default:
			flushResults()
			if msg.Content != "" {
				result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}
	flushResults()

	return system, result, nil
}

// convertToAnthropicTools maps tool specs onto Anthropic tool definitions.
func convertToAnthropicTools(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func normalizeAnthropicStopReason(reason string, hasToolCalls bool) string {
	switch reason {
	case "tool_use":
		return StopToolCalls
	case "max_tokens":
		return StopLength
	case "end_turn", "stop_sequence", "":
		if hasToolCalls {
			return StopToolCalls
		}
		return StopEndTurn
	default:
		return reason
	}
}

// isRetryableAnthropicError classifies transport errors by HTTP status where
// available, with message sniffing as the fallback.
func isRetryableAnthropicError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return true
		}
		return false
	}

	msg := err.Error()
	if strings.Contains(msg, "rate_limit") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") {
		return true
	}
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "overloaded") {
		return true
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") {
		return true
	}
	return false
}
