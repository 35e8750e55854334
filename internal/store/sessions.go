package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Session is an ordered message sequence with metadata. A compacted session
// keeps its raw messages for audit; CompactSummary stands in for messages
// up to and including CompactUptoID when building model context.
type Session struct {
	ID             int64
	Name           string
	ModelAlias     string
	CompactSummary string
	CompactUptoID  int64
	MemoryExtract  bool
	MaxTurns       int // 0 = use engine default
	CreatedAt      time.Time
	LastActiveAt   time.Time
}

const sessionColumns = `id, COALESCE(name, ''), model_alias, COALESCE(compact_summary, ''),
	compact_upto_id, memory_extract, max_turns, created_at, last_active_at`

// CreateSession creates a session and returns it with its id assigned.
func (s *Store) CreateSession(ctx context.Context, name, modelAlias string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (name, model_alias, created_at, last_active_at)
		VALUES (?, ?, ?, ?)`,
		nullString(name), modelAlias, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:            id,
		Name:          name,
		ModelAlias:    modelAlias,
		MemoryExtract: true,
		CreatedAt:     now,
		LastActiveAt:  now,
	}, nil
}

// GetSession returns a session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// SessionsByName returns all sessions with the given name, newest first.
// Names are not unique; callers decide what multiple matches mean.
func (s *Store) SessionsByName(ctx context.Context, name string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE name = ? ORDER BY last_active_at DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// MostRecentSession returns the session with the newest activity inside the
// window, or ErrNotFound. Sticky resolution reuses it.
func (s *Store) MostRecentSession(ctx context.Context, window time.Duration) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-window)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE last_active_at > ? ORDER BY last_active_at DESC LIMIT 1`,
		cutoff)
	return scanSession(row)
}

// ListSessions returns sessions newest-activity-first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY last_active_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// TouchSession bumps a session's activity timestamp.
func (s *Store) TouchSession(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// UpdateSessionMaxTurns overrides the tool-loop cap for one session.
func (s *Store) UpdateSessionMaxTurns(ctx context.Context, id int64, maxTurns int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET max_turns = ? WHERE id = ?`, maxTurns, id)
	if err != nil {
		return fmt.Errorf("failed to update max turns: %w", err)
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

// SetSessionMemoryExtract toggles automatic memory extraction for a session.
func (s *Store) SetSessionMemoryExtract(ctx context.Context, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET memory_extract = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update memory extraction: %w", err)
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

// CompactSession stores a compacted summary covering every message up to
// and including uptoID; zero covers the session's current newest. Raw
// messages stay in place; context assembly swaps them for the summary.
func (s *Store) CompactSession(ctx context.Context, id int64, summary string, uptoID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if uptoID == 0 {
			var upto sql.NullInt64
			err := tx.QueryRowContext(ctx,
				`SELECT MAX(id) FROM messages WHERE session_id = ?`, id).Scan(&upto)
			if err != nil {
				return fmt.Errorf("failed to find compaction boundary: %w", err)
			}
			uptoID = upto.Int64
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET compact_summary = ?, compact_upto_id = ? WHERE id = ?`,
			summary, uptoID, id)
		if err != nil {
			return fmt.Errorf("failed to compact session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteSessions removes sessions by id; their messages cascade. Returns
// the number of sessions removed.
func (s *Store) DeleteSessions(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAllSessions removes every session and, via cascade, every
// session-bound message.
func (s *Store) DeleteAllSessions(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return res.RowsAffected()
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID,
		&sess.Name,
		&sess.ModelAlias,
		&sess.CompactSummary,
		&sess.CompactUptoID,
		&sess.MemoryExtract,
		&sess.MaxTurns,
		&sess.CreatedAt,
		&sess.LastActiveAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &sess, nil
}
