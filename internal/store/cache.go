package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Summary lifecycle states for a cache entry.
const (
	SummaryPending    = "pending"
	SummaryProcessing = "processing"
	SummaryCompleted  = "completed"
	SummaryFailed     = "failed"
)

// Link is one outbound link extracted from a document, in document order.
type Link struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

// CacheEntry is a fetched web or local document.
type CacheEntry struct {
	ID            int64
	URL           string
	URLHash       string
	Title         string
	Content       string
	ContentHash   string
	Summary       string
	SummaryStatus string
	Links         []Link
	FetchedAt     time.Time
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// URLHash returns the cache key for a URL: the first 16 bytes of its
// SHA-256, hex encoded.
func URLHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:16])
}

// ContentHash fingerprints document content for change detection.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// PutDocument describes one upsert into the research cache.
type PutDocument struct {
	URL     string
	Content string
	Title   string
	Links   []Link
	TTL     time.Duration

	// TriggerSummary enqueues a background summarization task through the
	// registered summary hook when the content is non-empty.
	TriggerSummary bool
}

// Put upserts a document by URL. When the content hash changed, chunk and
// link embeddings derived from the old content are purged in the same
// transaction and the summary is reset to pending. Returns the cache id and
// whether content changed (true for brand-new entries).
func (s *Store) Put(ctx context.Context, doc PutDocument) (int64, bool, error) {
	if doc.URL == "" {
		return 0, false, fmt.Errorf("store: url is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	linksJSON, err := json.Marshal(doc.Links)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal links: %w", err)
	}

	urlHash := URLHash(doc.URL)
	contentHash := ContentHash(doc.Content)
	now := time.Now().UTC()
	expires := now.Add(doc.TTL)

	var (
		cacheID int64
		changed bool
	)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			existingID   int64
			existingHash string
		)
		row := tx.QueryRowContext(ctx,
			`SELECT id, content_hash FROM research_cache WHERE url_hash = ?`, urlHash)
		switch err := row.Scan(&existingID, &existingHash); err {
		case sql.ErrNoRows:
			res, err := tx.ExecContext(ctx, `
				INSERT INTO research_cache (url, url_hash, title, content, content_hash, links, fetched_at, expires_at, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				doc.URL, urlHash, doc.Title, doc.Content, contentHash, string(linksJSON), now, expires, now, now)
			if err != nil {
				return fmt.Errorf("failed to insert cache entry: %w", err)
			}
			cacheID, err = res.LastInsertId()
			if err != nil {
				return err
			}
			changed = true
			return nil
		case nil:
		default:
			return fmt.Errorf("failed to look up cache entry: %w", err)
		}

		cacheID = existingID
		changed = existingHash != contentHash

		if changed {
			if err := s.purgeDerived(ctx, tx, cacheID); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE research_cache
				SET title = ?, content = ?, content_hash = ?, links = ?,
				    summary = NULL, summary_status = ?,
				    fetched_at = ?, expires_at = ?, updated_at = ?
				WHERE id = ?`,
				doc.Title, doc.Content, contentHash, string(linksJSON),
				SummaryPending, now, expires, now, cacheID)
			if err != nil {
				return fmt.Errorf("failed to update cache entry: %w", err)
			}
			return nil
		}

		// Same content: just refresh freshness metadata.
		_, err := tx.ExecContext(ctx, `
			UPDATE research_cache
			SET title = ?, links = ?, fetched_at = ?, expires_at = ?, updated_at = ?
			WHERE id = ?`,
			doc.Title, string(linksJSON), now, expires, now, cacheID)
		if err != nil {
			return fmt.Errorf("failed to refresh cache entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	if doc.TriggerSummary && doc.Content != "" && s.summaryHook != nil {
		s.summaryHook(cacheID, doc.URL)
	}
	return cacheID, changed, nil
}

// purgeDerived removes chunk and link embeddings for a cache entry,
// including the full-text mirror rows. Runs inside the caller's tx.
func (s *Store) purgeDerived(ctx context.Context, tx *sql.Tx, cacheID int64) error {
	if s.hasFTS5 {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM chunk_fts WHERE rowid IN (SELECT id FROM content_chunks WHERE cache_id = ?)`, cacheID)
		if err != nil {
			return fmt.Errorf("failed to purge chunk index: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_chunks WHERE cache_id = ?`, cacheID); err != nil {
		return fmt.Errorf("failed to purge chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM link_embeddings WHERE cache_id = ?`, cacheID); err != nil {
		return fmt.Errorf("failed to purge link embeddings: %w", err)
	}
	return nil
}

const cacheColumns = `id, url, url_hash, title, content, content_hash,
	COALESCE(summary, ''), summary_status, links, fetched_at, expires_at, created_at, updated_at`

// Lookup returns the entry for a URL, or ErrNotFound. Expired entries are
// indistinguishable from absent ones.
func (s *Store) Lookup(ctx context.Context, url string) (*CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+cacheColumns+` FROM research_cache WHERE url_hash = ? AND expires_at > ?`,
		URLHash(url), time.Now().UTC())
	return scanCacheEntry(row)
}

// LookupByID returns a non-expired entry by cache id. Corpus handles
// resolve through this path.
func (s *Store) LookupByID(ctx context.Context, cacheID int64) (*CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+cacheColumns+` FROM research_cache WHERE id = ? AND expires_at > ?`,
		cacheID, time.Now().UTC())
	return scanCacheEntry(row)
}

// ReadLinks returns the ordered outbound links for a cached URL.
func (s *Store) ReadLinks(ctx context.Context, url string) ([]Link, error) {
	entry, err := s.Lookup(ctx, url)
	if err != nil {
		return nil, err
	}
	return entry.Links, nil
}

// ReadSummary returns the summary text and its status for a cached URL.
func (s *Store) ReadSummary(ctx context.Context, url string) (string, string, error) {
	entry, err := s.Lookup(ctx, url)
	if err != nil {
		return "", "", err
	}
	return entry.Summary, entry.SummaryStatus, nil
}

// ReadContent returns the main content text for a cached URL.
func (s *Store) ReadContent(ctx context.Context, url string) (string, error) {
	entry, err := s.Lookup(ctx, url)
	if err != nil {
		return "", err
	}
	return entry.Content, nil
}

// CleanupExpired removes all entries past their expiry, cascading chunk and
// link purges. Returns the number of entries removed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if s.hasFTS5 {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM chunk_fts WHERE rowid IN (
					SELECT c.id FROM content_chunks c
					JOIN research_cache r ON r.id = c.cache_id
					WHERE r.expires_at <= ?
				)`, now)
			if err != nil {
				return fmt.Errorf("failed to purge chunk index: %w", err)
			}
		}
		// Chunks and links cascade via foreign keys.
		res, err := tx.ExecContext(ctx, `DELETE FROM research_cache WHERE expires_at <= ?`, now)
		if err != nil {
			return fmt.Errorf("failed to delete expired entries: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// ClaimSummary moves an entry from pending to processing. Returns false if
// another worker already claimed it or the entry is gone.
func (s *Store) ClaimSummary(ctx context.Context, cacheID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE research_cache SET summary_status = ?, updated_at = ? WHERE id = ? AND summary_status = ?`,
		SummaryProcessing, time.Now().UTC(), cacheID, SummaryPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetSummary stores a completed summary.
func (s *Store) SetSummary(ctx context.Context, cacheID int64, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE research_cache SET summary = ?, summary_status = ?, updated_at = ? WHERE id = ?`,
		summary, SummaryCompleted, time.Now().UTC(), cacheID)
	if err != nil {
		return fmt.Errorf("failed to set summary: %w", err)
	}
	return nil
}

// SetSummaryStatus records a summary lifecycle transition, typically to
// failed. A failed summary is retried only on the next content change.
func (s *Store) SetSummaryStatus(ctx context.Context, cacheID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE research_cache SET summary_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), cacheID)
	if err != nil {
		return fmt.Errorf("failed to set summary status: %w", err)
	}
	return nil
}

// CacheStats reports entry counts and total content size.
func (s *Store) CacheStats(ctx context.Context) (total, expired, contentBytes int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(LENGTH(content)), 0)
		FROM research_cache`, time.Now().UTC()).Scan(&total, &expired, &contentBytes)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read cache stats: %w", err)
	}
	return total, expired, contentBytes, nil
}

// ListCache returns entries ordered by recency, newest first.
func (s *Store) ListCache(ctx context.Context, limit int) ([]*CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cacheColumns+` FROM research_cache ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache: %w", err)
	}
	defer rows.Close()

	var entries []*CacheEntry
	for rows.Next() {
		entry, err := scanCacheEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCacheEntry(row rowScanner) (*CacheEntry, error) {
	var (
		entry     CacheEntry
		linksJSON string
	)
	err := row.Scan(
		&entry.ID,
		&entry.URL,
		&entry.URLHash,
		&entry.Title,
		&entry.Content,
		&entry.ContentHash,
		&entry.Summary,
		&entry.SummaryStatus,
		&linksJSON,
		&entry.FetchedAt,
		&entry.ExpiresAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache entry: %w", err)
	}
	if linksJSON != "" {
		if err := json.Unmarshal([]byte(linksJSON), &entry.Links); err != nil {
			return nil, fmt.Errorf("failed to unmarshal links: %w", err)
		}
	}
	return &entry, nil
}
