package config

import (
	"path/filepath"
	"time"
)

type SessionConfig struct {
	// DBPath is the SQLite file holding sessions, messages, memories and
	// the research cache. Defaults to <data_dir>/asky.db.
	DBPath string `yaml:"db_path"`

	// StickyWindow is how far back the resolver looks when reusing the
	// most recent session instead of creating a new one.
	StickyWindow time.Duration `yaml:"sticky_window"`

	// HistoryDefault is the message count shown by the history command
	// when no count is given.
	HistoryDefault int `yaml:"history_default"`
}

type EngineConfig struct {
	// MaxTurns bounds tool-loop iterations per user turn.
	MaxTurns int `yaml:"max_turns"`

	// MaxTokens caps a single completion when the model config does not.
	MaxTokens int `yaml:"max_tokens"`

	Temperature float32 `yaml:"temperature"`

	// CompactFraction of the model's context window at which session
	// compaction kicks in.
	CompactFraction float64 `yaml:"compact_fraction"`

	// CompactKeepRecent messages survive compaction verbatim.
	CompactKeepRecent int `yaml:"compact_keep_recent"`
}

type WorkersConfig struct {
	// PoolSize is the number of background workers shared by
	// summarization and embedding backfill.
	PoolSize int `yaml:"pool_size"`

	// QueueSize bounds pending background tasks; when the queue is full,
	// submits block briefly and are then dropped with a log line.
	QueueSize int `yaml:"queue_size"`

	// DrainTimeout bounds shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

func applySessionDefaults(cfg *SessionConfig, dataDir string) {
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(dataDir, "asky.db")
	}
	if cfg.StickyWindow == 0 {
		cfg.StickyWindow = 30 * time.Minute
	}
	if cfg.HistoryDefault == 0 {
		cfg.HistoryDefault = 10
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = 10
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.CompactFraction == 0 {
		cfg.CompactFraction = 0.7
	}
	if cfg.CompactKeepRecent == 0 {
		cfg.CompactKeepRecent = 4
	}
}

func applyWorkersDefaults(cfg *WorkersConfig) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 4
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 64
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
}
