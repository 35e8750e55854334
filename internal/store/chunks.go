package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Chunk is a slice of a cache entry's content with a stable
// (cache_id, chunk_index) key and an optional dense embedding.
type Chunk struct {
	ID        int64
	CacheID   int64
	Index     int
	Text      string
	Embedding []float32
	Model     string
}

// ReplaceChunks atomically swaps the stored chunks for a cache entry. Prior
// chunks (and their full-text rows) are purged first.
func (s *Store) ReplaceChunks(ctx context.Context, cacheID int64, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
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

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO content_chunks (cache_id, chunk_index, chunk_text, embedding, embedding_model)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		var ftsStmt *sql.Stmt
		if s.hasFTS5 {
			ftsStmt, err = tx.PrepareContext(ctx, `INSERT INTO chunk_fts (rowid, chunk_text) VALUES (?, ?)`)
			if err != nil {
				return fmt.Errorf("failed to prepare fts insert: %w", err)
			}
			defer ftsStmt.Close()
		}

		for _, chunk := range chunks {
			res, err := stmt.ExecContext(ctx, cacheID, chunk.Index, chunk.Text,
				EncodeEmbedding(chunk.Embedding), chunk.Model)
			if err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", chunk.Index, err)
			}
			if ftsStmt != nil {
				id, err := res.LastInsertId()
				if err != nil {
					return err
				}
				if _, err := ftsStmt.ExecContext(ctx, id, chunk.Text); err != nil {
					return fmt.Errorf("failed to index chunk %d: %w", chunk.Index, err)
				}
			}
		}
		return nil
	})
}

// HasChunks reports whether any chunk embeddings exist for a cache entry.
func (s *Store) HasChunks(ctx context.Context, cacheID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_chunks WHERE cache_id = ? AND embedding IS NOT NULL`, cacheID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n > 0, nil
}

// HasChunksForModel reports whether chunk embeddings produced by the given
// model exist for a cache entry. A model change flips this to false and
// triggers re-embedding.
func (s *Store) HasChunksForModel(ctx context.Context, cacheID int64, model string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_chunks WHERE cache_id = ? AND embedding IS NOT NULL AND embedding_model = ?`,
		cacheID, model).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n > 0, nil
}

// ChunksByCache returns all chunks for a cache entry in index order, with
// embeddings decoded.
func (s *Store) ChunksByCache(ctx context.Context, cacheID int64) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cache_id, chunk_index, chunk_text, embedding, embedding_model
		FROM content_chunks WHERE cache_id = ? ORDER BY chunk_index`, cacheID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			chunk Chunk
			blob  []byte
		)
		if err := rows.Scan(&chunk.ID, &chunk.CacheID, &chunk.Index, &chunk.Text, &blob, &chunk.Model); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunk.Embedding = DecodeEmbedding(blob)
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// BM25Candidate is one full-text match. Rank is the raw bm25() value where
// lower means more relevant.
type BM25Candidate struct {
	ChunkID int64
	Text    string
	Rank    float64
}

// BM25Candidates runs a full-text query over a cache entry's chunks and
// returns up to window candidates best-first. Callers must check HasFTS5.
func (s *Store) BM25Candidates(ctx context.Context, cacheID int64, query string, window int) ([]BM25Candidate, error) {
	if !s.hasFTS5 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if window <= 0 {
		window = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.chunk_text, f.rank
		FROM (SELECT rowid, bm25(chunk_fts) AS rank FROM chunk_fts WHERE chunk_fts MATCH ?) f
		JOIN content_chunks c ON c.id = f.rowid
		WHERE c.cache_id = ?
		ORDER BY f.rank
		LIMIT ?`, ftsQuery(query), cacheID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to run full-text query: %w", err)
	}
	defer rows.Close()

	var out []BM25Candidate
	for rows.Next() {
		var c BM25Candidate
		if err := rows.Scan(&c.ChunkID, &c.Text, &c.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
