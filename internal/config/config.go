// Package config loads and validates the frozen runtime configuration.
//
// Configuration is a single YAML file with environment-variable expansion.
// Every threshold is typed and has an explicit default; callers receive a
// fully populated Config and never consult the file again.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for asky.
type Config struct {
	// DataDir holds the SQLite database and any on-disk caches.
	// Defaults to ~/.asky.
	DataDir string `yaml:"data_dir"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Cache     CacheConfig     `yaml:"cache"`
	Shortlist ShortlistConfig `yaml:"shortlist"`
	Memory    MemoryConfig    `yaml:"memory"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Vector    VectorConfig    `yaml:"vector"`
	Summarize SummarizeConfig `yaml:"summarize"`
	Engine    EngineConfig    `yaml:"engine"`
	Session   SessionConfig   `yaml:"session"`
	Workers   WorkersConfig   `yaml:"workers"`

	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// Load reads and parses the configuration file. Unknown fields are
// rejected so that typos fail loudly instead of silently falling back
// to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every default applied and no file read.
// Used when no config file exists: asky runs out of the box.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.DataDir = filepath.Join(home, ".asky")
	}

	applyLLMDefaults(&cfg.LLM)
	applyEmbeddingDefaults(&cfg.Embedding)
	applySearchDefaults(&cfg.Search)
	applyFetchDefaults(&cfg.Fetch)
	applyCacheDefaults(&cfg.Cache)
	applyShortlistDefaults(&cfg.Shortlist)
	applyMemoryDefaults(&cfg.Memory)
	applyCorpusDefaults(&cfg.Corpus)
	applyVectorDefaults(&cfg.Vector)
	applySummarizeDefaults(&cfg.Summarize)
	applyEngineDefaults(&cfg.Engine)
	applySessionDefaults(&cfg.Session, cfg.DataDir)
	applyWorkersDefaults(&cfg.Workers)
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyTracingDefaults(&cfg.Tracing)
	applyMaintenanceDefaults(&cfg.Maintenance)
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
		return fmt.Errorf("llm.default_provider %q has no entry under llm.providers", c.LLM.DefaultProvider)
	}
	if c.LLM.DefaultModel != "" {
		if _, ok := c.LLM.ModelByAlias(c.LLM.DefaultModel); !ok {
			return fmt.Errorf("llm.default_model %q is not a configured model alias", c.LLM.DefaultModel)
		}
	}
	for alias, m := range c.LLM.Models {
		if m.ID == "" {
			return fmt.Errorf("llm.models.%s: id is required", alias)
		}
		if m.Provider != "" {
			if _, ok := c.LLM.Providers[m.Provider]; !ok {
				return fmt.Errorf("llm.models.%s: provider %q has no entry under llm.providers", alias, m.Provider)
			}
		}
	}
	if w := c.Vector.DenseWeight; w < 0 || w > 1 {
		return fmt.Errorf("vector.dense_weight must be in [0,1], got %v", w)
	}
	if c.Shortlist.MaxFetchURLs < 1 {
		return fmt.Errorf("shortlist.max_fetch_urls must be at least 1, got %d", c.Shortlist.MaxFetchURLs)
	}
	if c.Memory.RecallMinScore < 0 || c.Memory.RecallMinScore > 1 {
		return fmt.Errorf("memory.recall_min_score must be in [0,1], got %v", c.Memory.RecallMinScore)
	}
	switch c.Search.Provider {
	case SearchProviderBrave, SearchProviderSearXNG, SearchProviderDuckDuckGo:
	default:
		return fmt.Errorf("search.provider must be one of brave, searxng, duckduckgo; got %q", c.Search.Provider)
	}
	switch c.Corpus.SourceMode {
	case SourceModeWeb, SourceModeMixed, SourceModeLocalOnly:
	default:
		return fmt.Errorf("corpus.source_mode must be one of web, mixed, local_only; got %q", c.Corpus.SourceMode)
	}
	switch c.Shortlist.QueryExpansion {
	case ExpansionOff, ExpansionTokens, ExpansionLLM:
	default:
		return fmt.Errorf("shortlist.query_expansion must be one of off, tokens, llm; got %q", c.Shortlist.QueryExpansion)
	}
	if c.Engine.MaxTurns < 1 {
		return fmt.Errorf("engine.max_turns must be at least 1, got %d", c.Engine.MaxTurns)
	}
	return nil
}
