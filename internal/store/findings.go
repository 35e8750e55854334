package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Finding is a user- or model-saved fact. Session-scoped when SessionID is
// set, global otherwise. Findings never expire.
type Finding struct {
	ID          int64
	SessionID   int64 // 0 = global
	Content     string
	SourceURL   string
	SourceTitle string
	Tags        []string
	Embedding   []float32
	Model       string
	CreatedAt   time.Time
}

// SaveFinding stores a fact and returns its id.
func (s *Store) SaveFinding(ctx context.Context, f Finding) (int64, error) {
	if f.Content == "" {
		return 0, fmt.Errorf("store: finding content is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tags: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO research_findings (session_id, content, source_url, source_title, tags, embedding, embedding_model)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullInt64(f.SessionID), f.Content, f.SourceURL, f.SourceTitle, string(tagsJSON),
		EncodeEmbedding(f.Embedding), f.Model)
	if err != nil {
		return 0, fmt.Errorf("failed to save finding: %w", err)
	}
	return res.LastInsertId()
}

// GetFinding returns one finding by id.
func (s *Store) GetFinding(ctx context.Context, id int64) (*Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, content, source_url, source_title, tags, embedding, embedding_model, created_at
		FROM research_findings WHERE id = ?`, id)
	return scanFinding(row)
}

// ListFindings returns findings newest-first. With sessionID > 0 the list
// covers that session plus global findings; otherwise everything.
func (s *Store) ListFindings(ctx context.Context, limit int, sessionID int64) ([]*Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, content, source_url, source_title, tags, embedding, embedding_model, created_at
		FROM research_findings`
	args := []any{}
	if sessionID > 0 {
		query += ` WHERE session_id = ? OR session_id IS NULL`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []*Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// UpdateFindingEmbedding back-fills the embedding for a finding.
func (s *Store) UpdateFindingEmbedding(ctx context.Context, id int64, embedding []float32, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE research_findings SET embedding = ?, embedding_model = ? WHERE id = ?`,
		EncodeEmbedding(embedding), model, id)
	if err != nil {
		return fmt.Errorf("failed to update finding embedding: %w", err)
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

// DeleteFinding removes a finding by id.
func (s *Store) DeleteFinding(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM research_findings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete finding: %w", err)
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

func scanFinding(row rowScanner) (*Finding, error) {
	var (
		f         Finding
		sessionID sql.NullInt64
		tagsJSON  string
		blob      []byte
	)
	err := row.Scan(&f.ID, &sessionID, &f.Content, &f.SourceURL, &f.SourceTitle,
		&tagsJSON, &blob, &f.Model, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan finding: %w", err)
	}
	f.SessionID = sessionID.Int64
	f.Embedding = DecodeEmbedding(blob)
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &f.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return &f, nil
}
