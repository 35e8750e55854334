package config

import "time"

// Search provider identifiers.
const (
	SearchProviderBrave      = "brave"
	SearchProviderSearXNG    = "searxng"
	SearchProviderDuckDuckGo = "duckduckgo"
)

type SearchConfig struct {
	Provider string `yaml:"provider"`

	// APIKey is required for brave, unused otherwise.
	APIKey string `yaml:"api_key"`

	// BaseURL points at a SearXNG instance when provider is searxng.
	BaseURL string `yaml:"base_url"`

	MaxResults int           `yaml:"max_results"`
	Timeout    time.Duration `yaml:"timeout"`

	// CacheTTL bounds how long identical queries are answered from the
	// response cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	MaxLinks     int           `yaml:"max_links"`
	UserAgent    string        `yaml:"user_agent"`

	// AllowPrivateHosts disables the SSRF guard. Only for tests and
	// deliberately self-hosted setups.
	AllowPrivateHosts bool `yaml:"allow_private_hosts"`
}

type CacheConfig struct {
	// TTL is how long a cached document stays fresh. Expired entries are
	// refetched on access and purged by the maintenance loop.
	TTL time.Duration `yaml:"ttl"`
}

// Query expansion modes.
const (
	ExpansionOff    = "off"
	ExpansionTokens = "tokens"
	ExpansionLLM    = "llm"
)

type ShortlistConfig struct {
	// EnabledStandard and EnabledResearch are the global per-mode shortlist
	// switches, overridable per model and per request.
	EnabledStandard *bool `yaml:"enabled_standard"`
	EnabledResearch *bool `yaml:"enabled_research"`

	// MaxFetchURLs bounds how many candidate URLs are fetched per turn.
	MaxFetchURLs int `yaml:"max_fetch_urls"`

	// SelectTopK is how many scored sources make the shortlist.
	SelectTopK int `yaml:"select_top_k"`

	// SameDomainBonus is added to a candidate sharing the seed URL's
	// domain, but only when its semantic score already exceeds
	// SemanticThreshold.
	SameDomainBonus   float64 `yaml:"same_domain_bonus"`
	SemanticThreshold float64 `yaml:"semantic_threshold"`

	// SeedLinkExpansion fetches each seed URL and adds its outbound links
	// to the candidate pool.
	SeedLinkExpansion bool `yaml:"seed_link_expansion"`
	MaxSeedLinks      int  `yaml:"max_seed_links"`

	QueryExpansion    string `yaml:"query_expansion"`
	MaxExpandedQueries int   `yaml:"max_expanded_queries"`

	// BootstrapMinSelected triggers the bootstrap-evidence preload stage
	// when fewer sources than this were selected.
	BootstrapMinSelected int `yaml:"bootstrap_min_selected"`

	// SeedBudgetChars caps the combined raw size of seed documents for the
	// direct-answer-ready signal.
	SeedBudgetChars int `yaml:"seed_budget_chars"`
}

type MemoryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	RecallTopK     int     `yaml:"recall_top_k"`
	RecallMinScore float64 `yaml:"recall_min_score"`

	// TriggerPhrases are stripped from the prompt and flag the remainder
	// for global (cross-session) memory storage.
	TriggerPhrases []string `yaml:"trigger_phrases"`
}

// Research source modes: where evidence may come from during a turn.
const (
	SourceModeWeb       = "web"
	SourceModeMixed     = "mixed"
	SourceModeLocalOnly = "local_only"
)

type CorpusConfig struct {
	// SourceMode selects the evidence origin: web (default), mixed, or
	// local_only. The local corpus tools register only under mixed and
	// local_only.
	SourceMode string `yaml:"source_mode"`

	// Paths are ingested when a turn requests the local corpus and names
	// no paths of its own.
	Paths []string `yaml:"paths"`

	// ChunkChars and OverlapChars shape the fixed-window chunker applied
	// to every cached document.
	ChunkChars   int `yaml:"chunk_chars"`
	OverlapChars int `yaml:"overlap_chars"`

	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

type VectorConfig struct {
	// DenseWeight is the w in hybrid score w*dense + (1-w)*lexical.
	DenseWeight float64 `yaml:"dense_weight"`

	// BM25Window bounds the lexical candidate set fed into hybrid
	// normalization when FTS5 is available.
	BM25Window int `yaml:"bm25_window"`

	DefaultTopK int `yaml:"default_top_k"`
}

type SummarizeConfig struct {
	// Model is the alias used for summarization calls. Empty means the
	// turn's main model.
	Model string `yaml:"model"`

	// MapReduceThresholdChars switches from single-shot to map-reduce.
	MapReduceThresholdChars int `yaml:"map_reduce_threshold_chars"`
	ChunkChars              int `yaml:"chunk_chars"`
	OverlapChars            int `yaml:"overlap_chars"`

	MaxOutputChars int `yaml:"max_output_chars"`
}

func applySearchDefaults(cfg *SearchConfig) {
	if cfg.Provider == "" {
		cfg.Provider = SearchProviderDuckDuckGo
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 8
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
}

func applyFetchDefaults(cfg *FetchConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 3 << 20
	}
	if cfg.MaxLinks == 0 {
		cfg.MaxLinks = 100
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "asky/1.0 (+https://github.com/evrenesat/asky)"
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.TTL == 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
}

func boolPtr(v bool) *bool { return &v }

func applyShortlistDefaults(cfg *ShortlistConfig) {
	if cfg.EnabledStandard == nil {
		cfg.EnabledStandard = boolPtr(true)
	}
	if cfg.EnabledResearch == nil {
		cfg.EnabledResearch = boolPtr(true)
	}
	if cfg.MaxFetchURLs == 0 {
		cfg.MaxFetchURLs = 5
	}
	if cfg.SelectTopK == 0 {
		cfg.SelectTopK = 3
	}
	if cfg.SameDomainBonus == 0 {
		cfg.SameDomainBonus = 0.1
	}
	if cfg.SemanticThreshold == 0 {
		cfg.SemanticThreshold = 0.35
	}
	if cfg.MaxSeedLinks == 0 {
		cfg.MaxSeedLinks = 10
	}
	if cfg.QueryExpansion == "" {
		cfg.QueryExpansion = ExpansionTokens
	}
	if cfg.MaxExpandedQueries == 0 {
		cfg.MaxExpandedQueries = 3
	}
	if cfg.BootstrapMinSelected == 0 {
		cfg.BootstrapMinSelected = 2
	}
	if cfg.SeedBudgetChars == 0 {
		cfg.SeedBudgetChars = 16000
	}
}

func applyMemoryDefaults(cfg *MemoryConfig) {
	if cfg.RecallTopK == 0 {
		cfg.RecallTopK = 5
	}
	if cfg.RecallMinScore == 0 {
		cfg.RecallMinScore = 0.6
	}
	if cfg.TriggerPhrases == nil {
		cfg.TriggerPhrases = []string{"remember this:", "remember:"}
	}
}

func applyCorpusDefaults(cfg *CorpusConfig) {
	if cfg.SourceMode == "" {
		cfg.SourceMode = SourceModeWeb
	}
	if cfg.ChunkChars == 0 {
		cfg.ChunkChars = 1600
	}
	if cfg.OverlapChars == 0 {
		cfg.OverlapChars = 200
	}
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = 2 << 20
	}
}

func applyVectorDefaults(cfg *VectorConfig) {
	if cfg.DenseWeight == 0 {
		cfg.DenseWeight = 0.7
	}
	if cfg.BM25Window == 0 {
		cfg.BM25Window = 200
	}
	if cfg.DefaultTopK == 0 {
		cfg.DefaultTopK = 8
	}
}

func applySummarizeDefaults(cfg *SummarizeConfig) {
	if cfg.MapReduceThresholdChars == 0 {
		cfg.MapReduceThresholdChars = 24000
	}
	if cfg.ChunkChars == 0 {
		cfg.ChunkChars = 12000
	}
	if cfg.OverlapChars == 0 {
		cfg.OverlapChars = 400
	}
	if cfg.MaxOutputChars == 0 {
		cfg.MaxOutputChars = 2000
	}
}
