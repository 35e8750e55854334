// Package store persists every relational entity behind asky: the research
// cache with its chunks and link embeddings, findings, user memories,
// sessions and messages. One SQLite file holds all of it.
//
// Writes take a store-level mutex; reads run concurrently. Each
// transactional operation (cache upsert with cascade, interaction save,
// session compaction) is atomic.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the process-wide relational store.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	hasFTS5 bool

	// summaryHook receives entries whose put requested background
	// summarization. Set once during wiring, before concurrent use.
	summaryHook func(cacheID int64, url string)

	mu sync.RWMutex
}

// SetSummaryHook registers the callback invoked after a put with
// TriggerSummary set and non-empty content. The hook must not block; the
// usual implementation submits a worker-pool task.
func (s *Store) SetSummaryHook(fn func(cacheID int64, url string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaryHook = fn
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema. Pass ":memory:" for an ephemeral store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writes per connection; a single connection avoids
	// SQLITE_BUSY churn between the turn thread and background workers.
	db.SetMaxOpenConns(1)

	s := New(db, logger)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", p, err)
		}
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle without touching the schema.
// Tests use it with sqlmock; Open is the production path.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "store")}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for maintenance commands (VACUUM and the like).
func (s *Store) DB() *sql.DB {
	return s.db
}

// HasFTS5 reports whether the full-text index over chunk text is available.
// Without it, lexical scoring falls back to token overlap.
func (s *Store) HasFTS5() bool {
	return s.hasFTS5
}

func (s *Store) init() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS research_cache (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			url_hash TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL DEFAULT '',
			summary TEXT,
			summary_status TEXT NOT NULL DEFAULT 'pending',
			links TEXT NOT NULL DEFAULT '[]',
			fetched_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS content_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cache_id INTEGER NOT NULL REFERENCES research_cache(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			chunk_text TEXT NOT NULL,
			embedding BLOB,
			embedding_model TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(cache_id, chunk_index)
		)`,
		`CREATE TABLE IF NOT EXISTS link_embeddings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cache_id INTEGER NOT NULL REFERENCES research_cache(id) ON DELETE CASCADE,
			link_url TEXT NOT NULL,
			link_label TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			embedding_model TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(cache_id, link_url)
		)`,
		`CREATE TABLE IF NOT EXISTS research_findings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER REFERENCES sessions(id) ON DELETE SET NULL,
			content TEXT NOT NULL,
			source_url TEXT NOT NULL DEFAULT '',
			source_title TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			embedding BLOB,
			embedding_model TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER REFERENCES sessions(id) ON DELETE SET NULL,
			content TEXT NOT NULL,
			embedding BLOB,
			embedding_model TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT,
			model_alias TEXT NOT NULL DEFAULT '',
			compact_summary TEXT,
			compact_upto_id INTEGER NOT NULL DEFAULT 0,
			memory_extract INTEGER NOT NULL DEFAULT 1,
			max_turns INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_active_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER REFERENCES sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			summary TEXT,
			model TEXT NOT NULL DEFAULT '',
			tool_calls TEXT,
			tool_call_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_cache_expires ON research_cache(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_chunks_cache ON content_chunks(cache_id)",
		"CREATE INDEX IF NOT EXISTS idx_links_cache ON link_embeddings(cache_id)",
		"CREATE INDEX IF NOT EXISTS idx_findings_session ON research_findings(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_memories_session ON user_memories(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(last_active_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := s.ensureColumns(); err != nil {
		return err
	}

	s.initFTS()
	return nil
}

// ensureColumns applies additive migrations: columns introduced after a
// database was created are added in place. Older databases keep working.
func (s *Store) ensureColumns() error {
	wanted := map[string][]columnDef{
		"messages": {
			{"summary", "TEXT"},
			{"model", "TEXT NOT NULL DEFAULT ''"},
			{"tool_calls", "TEXT"},
			{"tool_call_id", "TEXT NOT NULL DEFAULT ''"},
		},
		"sessions": {
			{"compact_summary", "TEXT"},
			{"compact_upto_id", "INTEGER NOT NULL DEFAULT 0"},
			{"memory_extract", "INTEGER NOT NULL DEFAULT 1"},
			{"max_turns", "INTEGER NOT NULL DEFAULT 0"},
		},
		"research_cache": {
			{"summary_status", "TEXT NOT NULL DEFAULT 'pending'"},
			{"content_hash", "TEXT NOT NULL DEFAULT ''"},
		},
	}

	for table, cols := range wanted {
		existing, err := s.tableColumns(table)
		if err != nil {
			return err
		}
		for _, col := range cols {
			if existing[col.name] {
				continue
			}
			ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.typ)
			if _, err := s.db.Exec(ddl); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", table, col.name, err)
			}
			s.logger.Info("added column", "table", table, "column", col.name)
		}
	}
	return nil
}

type columnDef struct {
	name string
	typ  string
}

func (s *Store) tableColumns(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read schema for %s: %w", table, err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// initFTS probes for FTS5 support by creating the chunk index. Failure is
// not fatal: lexical search degrades to token overlap.
func (s *Store) initFTS() {
	_, err := s.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(chunk_text)`)
	if err != nil {
		s.hasFTS5 = false
		s.logger.Warn("fts5 unavailable, lexical search degraded", "error", err)
		return
	}
	s.hasFTS5 = true
}

// ftsQuery turns free text into an FTS5 MATCH expression: each token is
// quoted and OR-joined so user punctuation cannot break the query syntax.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return `""`
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	if len(quoted) == 0 {
		return `""`
	}
	return strings.Join(quoted, " OR ")
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

// withTx runs fn inside a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
