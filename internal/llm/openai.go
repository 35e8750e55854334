package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evrenesat/asky/internal/retry"
)

// OpenAIProvider implements Provider over the OpenAI chat-completions API.
// It also serves any OpenAI-compatible endpoint (local inference servers,
// proxies) via a custom base URL.
//
// The provider handles:
//   - Converting between the internal message format and OpenAI's API format
//   - Tool definitions and tool-call round-tripping (ids preserved verbatim)
//   - Retry with exponential backoff for transient failures
//
// OpenAIProvider is safe for concurrent use.
type OpenAIProvider struct {
	client *openai.Client

	// maxRetries bounds attempts for retryable errors (rate limits, 5xx,
	// timeouts). Default: 3.
	maxRetries int

	// retryDelay is the base delay for exponential backoff. Default: 1s.
	retryDelay time.Duration
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey authenticates requests. Required unless the endpoint behind
	// BaseURL ignores authentication.
	APIKey string

	// BaseURL overrides the default API endpoint. Useful for
	// OpenAI-compatible local servers.
	BaseURL string

	// MaxRetries overrides the retry attempt limit. Zero keeps the default.
	MaxRetries int

	// RetryDelay overrides the base backoff delay. Zero keeps the default.
	RetryDelay time.Duration
}

// NewOpenAIProvider creates a provider from config. An empty API key is
// allowed only together with a BaseURL (keyless local endpoints).
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Name returns the stable provider identifier used for routing and logging.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends one chat-completion request and blocks for the full reply.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertToOpenAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToOpenAITools(req.Tools)
	}

	resp, result := retry.DoWithValue(ctx, retry.Exponential(p.maxRetries, p.retryDelay, 30*time.Second), func() (openai.ChatCompletionResponse, error) {
		r, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil && !isRetryableOpenAIError(err) {
			return r, retry.Permanent(err)
		}
		return r, err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("openai: completion failed after %d attempts: %w", result.Attempts, result.Err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	msg := Message{
		Role:    RoleAssistant,
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	return &Response{
		Message:    msg,
		StopReason: normalizeFinishReason(string(choice.FinishReason), len(msg.ToolCalls) > 0),
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// convertToOpenAIMessages maps internal messages onto the wire format.
// System messages pass through in place; assistant tool calls and tool
// results keep their ids so the API can pair them.
func convertToOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		switch msg.Role {
		case RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					}
				}
			}
		case RoleTool:
			oaiMsg.ToolCallID = msg.ToolCallID
			oaiMsg.Name = msg.Name
		}
		result = append(result, oaiMsg)
	}
	return result
}

// convertToOpenAITools wraps tool specs as function definitions. A spec with
// an unparsable schema degrades to an empty object schema so one bad tool
// cannot break the whole request.
func convertToOpenAITools(tools []ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Parameters, &schemaMap); err != nil || schemaMap == nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

func normalizeFinishReason(reason string, hasToolCalls bool) string {
	switch reason {
	case "tool_calls", "function_call":
		return StopToolCalls
	case "length":
		return StopLength
	case "stop", "":
		if hasToolCalls {
			return StopToolCalls
		}
		return StopEndTurn
	default:
		return reason
	}
}

// isRetryableOpenAIError classifies transport errors. API errors carry an
// HTTP status; anything else falls back to message sniffing.
func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return true
		}
		return false
	}

	msg := err.Error()
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		return true
	}
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return true
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") {
		return true
	}
	return false
}
