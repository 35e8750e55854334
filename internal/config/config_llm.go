package config

import "time"

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// DefaultModel is the alias used when a turn does not name a model.
	DefaultModel string `yaml:"default_model"`

	// Models maps short aliases to concrete provider models. The alias is
	// what users type on the command line (`--model fast`).
	Models map[string]ModelConfig `yaml:"models"`

	// MaxRetries and RetryDelay govern transport-level retries for
	// retryable provider errors (429, 5xx). Permanent errors never retry.
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type LLMProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ModelConfig binds a model alias to a provider-specific model ID.
type ModelConfig struct {
	// Provider names an entry under llm.providers. Empty means the
	// default provider.
	Provider string `yaml:"provider"`

	// ID is the provider's model identifier, e.g. "gpt-4o-mini".
	ID string `yaml:"id"`

	// ContextTokens is the model's context window, used to size
	// compaction and summarization budgets.
	ContextTokens int `yaml:"context_tokens"`

	// MaxTokens caps a single completion. Zero uses the engine default.
	MaxTokens int `yaml:"max_tokens"`
}

// ModelByAlias resolves a model alias. An empty provider field resolves
// to the default provider.
func (c *LLMConfig) ModelByAlias(alias string) (ModelConfig, bool) {
	m, ok := c.Models[alias]
	if !ok {
		return ModelConfig{}, false
	}
	if m.Provider == "" {
		m.Provider = c.DefaultProvider
	}
	return m, true
}

type EmbeddingConfig struct {
	// Provider names an entry under llm.providers used for embedding
	// calls. Empty means the default provider.
	Provider string `yaml:"provider"`

	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`

	// BatchSize bounds how many texts are sent per embedding request.
	BatchSize int `yaml:"batch_size"`
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "openai"
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]LLMProviderConfig{}
	}
	if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
		cfg.Providers[cfg.DefaultProvider] = LLMProviderConfig{}
	}
	if cfg.Models == nil {
		cfg.Models = map[string]ModelConfig{}
	}
	if _, ok := cfg.Models["main"]; !ok {
		cfg.Models["main"] = ModelConfig{ID: "gpt-4o", ContextTokens: 128000}
	}
	if _, ok := cfg.Models["fast"]; !ok {
		cfg.Models["fast"] = ModelConfig{ID: "gpt-4o-mini", ContextTokens: 128000}
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "main"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
}

func applyEmbeddingDefaults(cfg *EmbeddingConfig) {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
}
