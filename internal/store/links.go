package store

import (
	"context"
	"database/sql"
	"fmt"
)

// LinkEmbedding is one (cache_id, link_url) row holding the embedding of
// "label — url" for relevance ranking.
type LinkEmbedding struct {
	ID        int64
	CacheID   int64
	URL       string
	Label     string
	Embedding []float32
	Model     string
}

// ReplaceLinkEmbeddings atomically swaps the stored link embeddings for a
// cache entry.
func (s *Store) ReplaceLinkEmbeddings(ctx context.Context, cacheID int64, links []LinkEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM link_embeddings WHERE cache_id = ?`, cacheID); err != nil {
			return fmt.Errorf("failed to purge link embeddings: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO link_embeddings (cache_id, link_url, link_label, embedding, embedding_model)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare link insert: %w", err)
		}
		defer stmt.Close()

		for _, link := range links {
			_, err := stmt.ExecContext(ctx, cacheID, link.URL, link.Label,
				EncodeEmbedding(link.Embedding), link.Model)
			if err != nil {
				return fmt.Errorf("failed to insert link embedding: %w", err)
			}
		}
		return nil
	})
}

// LinksByCache returns all link embeddings for a cache entry.
func (s *Store) LinksByCache(ctx context.Context, cacheID int64) ([]LinkEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cache_id, link_url, link_label, embedding, embedding_model
		FROM link_embeddings WHERE cache_id = ?`, cacheID)
	if err != nil {
		return nil, fmt.Errorf("failed to query link embeddings: %w", err)
	}
	defer rows.Close()

	var links []LinkEmbedding
	for rows.Next() {
		var (
			link LinkEmbedding
			blob []byte
		)
		if err := rows.Scan(&link.ID, &link.CacheID, &link.URL, &link.Label, &blob, &link.Model); err != nil {
			return nil, fmt.Errorf("failed to scan link embedding: %w", err)
		}
		link.Embedding = DecodeEmbedding(blob)
		links = append(links, link)
	}
	return links, rows.Err()
}
