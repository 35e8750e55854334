// Package embed produces dense vectors for text through an embeddings API.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evrenesat/asky/internal/retry"
)

// Embedder produces fixed-dimension dense vectors, order-preserving and
// same-length as the input. LoadFailed reports the sticky failure latch:
// once a call fails in a recognizably permanent way, every later caller
// sees true and skips embedding-dependent scoring. Only a process restart
// clears it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimension() int
	LoadFailed() bool
}

// ErrLoadFailed is returned once the failure latch is set, without another
// API call being attempted.
var ErrLoadFailed = errors.New("embed: model load failed permanently")

// Config for the OpenAI-backed embedder.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint in batches.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	batchSize int
	logger    *slog.Logger
	retryCfg  retry.Config

	mu     sync.Mutex
	failed bool
}

// NewOpenAI creates an embedder over the OpenAI embeddings API.
func NewOpenAI(cfg Config, logger *slog.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embed: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embed: model is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: cfg.Dimensions,
		batchSize: cfg.BatchSize,
		logger:    logger.With("component", "embed"),
		retryCfg:  retry.Exponential(3, 0, 0),
	}, nil
}

func (e *OpenAIEmbedder) Model() string  { return e.model }
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

// LoadFailed reports whether a permanent failure has latched.
func (e *OpenAIEmbedder) LoadFailed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

func (e *OpenAIEmbedder) latch(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.failed {
		e.failed = true
		e.logger.Error("embedding model failed permanently, scoring disabled",
			"model", e.model, "error", err)
	}
}

// EmbedOne embeds a single text.
func (e *OpenAIEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Embed embeds texts in configured batches, preserving input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.LoadFailed() {
		return nil, ErrLoadFailed
	}
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			if isPermanent(err) {
				e.latch(err)
				return nil, ErrLoadFailed
			}
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimension > 0 {
		req.Dimensions = e.dimension
	}

	resp, result := retry.DoWithValue(ctx, e.retryCfg, func() (openai.EmbeddingResponse, error) {
		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil && isPermanent(err) {
			return resp, retry.Permanent(err)
		}
		return resp, err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("embed: request failed: %w", result.Err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embed: vector index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// isPermanent classifies failures that retrying or later calls cannot fix:
// bad credentials, unknown model, malformed request.
func isPermanent(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound,
			http.StatusBadRequest, http.StatusUnprocessableEntity:
			return true
		}
		return false
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 400 && reqErr.HTTPStatusCode < 500 &&
			reqErr.HTTPStatusCode != http.StatusTooManyRequests
	}
	// Model-not-found style messages from compatible endpoints.
	msg := err.Error()
	return strings.Contains(msg, "model_not_found") || strings.Contains(msg, "invalid_api_key")
}
