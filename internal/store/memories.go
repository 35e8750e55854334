package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Memory is a persistent fact extracted from past turns, recalled by dense
// similarity to the current query. Scoped like findings: session-local when
// SessionID is set, global otherwise.
type Memory struct {
	ID        int64
	SessionID int64 // 0 = global
	Content   string
	Embedding []float32
	Model     string
	CreatedAt time.Time
}

// SaveMemory stores a memory and returns its id.
func (s *Store) SaveMemory(ctx context.Context, m Memory) (int64, error) {
	if m.Content == "" {
		return 0, fmt.Errorf("store: memory content is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_memories (session_id, content, embedding, embedding_model)
		VALUES (?, ?, ?, ?)`,
		nullInt64(m.SessionID), m.Content, EncodeEmbedding(m.Embedding), m.Model)
	if err != nil {
		return 0, fmt.Errorf("failed to save memory: %w", err)
	}
	return res.LastInsertId()
}

// Memories returns candidate memories for recall: global ones plus, when
// sessionID > 0, that session's. Embeddings come back decoded.
func (s *Store) Memories(ctx context.Context, sessionID int64) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, session_id, content, embedding, embedding_model, created_at FROM user_memories`
	args := []any{}
	if sessionID > 0 {
		query += ` WHERE session_id IS NULL OR session_id = ?`
		args = append(args, sessionID)
	} else {
		query += ` WHERE session_id IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		var (
			m    Memory
			sid  sql.NullInt64
			blob []byte
		)
		if err := rows.Scan(&m.ID, &sid, &m.Content, &blob, &m.Model, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		m.SessionID = sid.Int64
		m.Embedding = DecodeEmbedding(blob)
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// DeleteMemory removes a memory by id.
func (s *Store) DeleteMemory(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM user_memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
