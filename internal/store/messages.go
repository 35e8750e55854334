package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// StoredMessage is one row of the message log. Rows with SessionID set
// belong to a session; rows without form the bare interaction history.
type StoredMessage struct {
	ID         int64
	SessionID  int64 // 0 = history (no session)
	Role       string
	Content    string
	Summary    string
	Model      string
	ToolCalls  string // JSON-encoded tool-call list, empty for most rows
	ToolCallID string
	CreatedAt  time.Time
}

// Interaction is a persisted user+assistant pair. UserID and AssistantID are
// message-row ids; either can be used to address the pair.
type Interaction struct {
	UserID        int64
	AssistantID   int64
	Query         string
	Answer        string
	QuerySummary  string
	AnswerSummary string
	Model         string
	CreatedAt     time.Time
}

// largeMessageChars is the size above which interaction context prefers a
// summary over the raw text.
const largeMessageChars = 2000

// SaveInteraction persists a user+assistant pair outside any session.
// Summaries may be empty; they are back-filled lazily on first context use.
// Returns the two message ids, user first.
func (s *Store) SaveInteraction(ctx context.Context, query, answer, model, querySummary, answerSummary string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var userID, assistantID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, role, content, summary, model, created_at)
			VALUES (NULL, 'user', ?, ?, ?, ?)`,
			query, nullString(querySummary), model, now)
		if err != nil {
			return fmt.Errorf("failed to save user message: %w", err)
		}
		userID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, role, content, summary, model, created_at)
			VALUES (NULL, 'assistant', ?, ?, ?, ?)`,
			answer, nullString(answerSummary), model, now)
		if err != nil {
			return fmt.Errorf("failed to save assistant message: %w", err)
		}
		assistantID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return userID, assistantID, nil
}

// GetHistory returns the most recent interactions, newest first. Walks the
// history backwards pairing assistant with user rows; rows written before
// roles existed pair up positionally.
func (s *Store) GetHistory(ctx context.Context, limit int) ([]Interaction, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Over-fetch rows: each interaction needs two.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, COALESCE(summary, ''), model, created_at
		FROM messages WHERE session_id IS NULL
		ORDER BY id DESC LIMIT ?`, limit*2+2)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	type histRow struct {
		id        int64
		role      string
		content   string
		summary   string
		model     string
		createdAt time.Time
	}
	var raw []histRow
	for rows.Next() {
		var r histRow
		if err := rows.Scan(&r.id, &r.role, &r.content, &r.summary, &r.model, &r.createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Pair ascending: a user (or legacy role-less row in user position)
	// followed by an assistant forms one interaction.
	var interactions []Interaction
	var pendingUser *histRow
	for i := len(raw) - 1; i >= 0; i-- {
		r := raw[i]
		role := r.role
		if role == "" {
			if pendingUser == nil {
				role = "user"
			} else {
				role = "assistant"
			}
		}
		switch role {
		case "user":
			user := r
			pendingUser = &user
		case "assistant":
			if pendingUser == nil {
				continue // orphan assistant row, skip
			}
			interactions = append(interactions, Interaction{
				UserID:        pendingUser.id,
				AssistantID:   r.id,
				Query:         pendingUser.content,
				Answer:        r.content,
				QuerySummary:  pendingUser.summary,
				AnswerSummary: r.summary,
				Model:         r.model,
				CreatedAt:     r.createdAt,
			})
			pendingUser = nil
		}
	}

	// Newest first, clipped to limit.
	for i, j := 0, len(interactions)-1; i < j; i, j = i+1, j-1 {
		interactions[i], interactions[j] = interactions[j], interactions[i]
	}
	if len(interactions) > limit {
		interactions = interactions[:limit]
	}
	return interactions, nil
}

// InteractionByMessageID expands a message id (user or assistant side) to
// its full pair. Returns ErrNotFound for unknown ids or session messages.
func (s *Store) InteractionByMessageID(ctx context.Context, id int64) (*Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.interactionByMessageID(ctx, id)
}

func (s *Store) interactionByMessageID(ctx context.Context, id int64) (*Interaction, error) {
	var (
		role, content, summary, model string
		createdAt                     time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT role, content, COALESCE(summary, ''), model, created_at
		FROM messages WHERE id = ? AND session_id IS NULL`, id).
		Scan(&role, &content, &summary, &model, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message %d: %w", id, err)
	}

	inter := &Interaction{Model: model, CreatedAt: createdAt}
	var partnerQuery string
	if role == "assistant" {
		inter.AssistantID = id
		inter.Answer = content
		inter.AnswerSummary = summary
		partnerQuery = `
			SELECT id, content, COALESCE(summary, '')
			FROM messages
			WHERE session_id IS NULL AND role = 'user' AND id < ?
			ORDER BY id DESC LIMIT 1`
	} else {
		inter.UserID = id
		inter.Query = content
		inter.QuerySummary = summary
		partnerQuery = `
			SELECT id, content, COALESCE(summary, '')
			FROM messages
			WHERE session_id IS NULL AND role = 'assistant' AND id > ?
			ORDER BY id LIMIT 1`
	}

	var (
		partnerID               int64
		partnerContent, partSum string
	)
	err = s.db.QueryRowContext(ctx, partnerQuery, id).Scan(&partnerID, &partnerContent, &partSum)
	switch err {
	case sql.ErrNoRows:
		// Unpaired row; half an interaction is still addressable.
	case nil:
		if role == "assistant" {
			inter.UserID = partnerID
			inter.Query = partnerContent
			inter.QuerySummary = partSum
		} else {
			inter.AssistantID = partnerID
			inter.Answer = partnerContent
			inter.AnswerSummary = partSum
		}
	default:
		return nil, fmt.Errorf("failed to load partner for message %d: %w", id, err)
	}
	return inter, nil
}

// SummarizeFunc compresses a text for context inclusion. The store calls it
// only when a large message lacks a stored summary.
type SummarizeFunc func(ctx context.Context, text string) (string, error)

// GetInteractionContext expands each message id to its user/assistant pair
// and renders the pairs as Query/Answer blocks, oldest first. When full is
// false, large texts are replaced by summaries, lazily generated through
// summarize and back-filled onto the message row. A nil summarize falls back
// to the raw text.
func (s *Store) GetInteractionContext(ctx context.Context, ids []int64, full bool, summarize SummarizeFunc) (string, error) {
	seen := map[int64]bool{}
	var interactions []*Interaction
	for _, id := range ids {
		inter, err := s.InteractionByMessageID(ctx, id)
		if err != nil {
			return "", fmt.Errorf("interaction %d: %w", id, err)
		}
		key := inter.AssistantID
		if key == 0 {
			key = inter.UserID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		interactions = append(interactions, inter)
	}

	var blocks []string
	for _, inter := range interactions {
		query, err := s.contextText(ctx, inter.UserID, inter.Query, inter.QuerySummary, full, summarize)
		if err != nil {
			return "", err
		}
		answer, err := s.contextText(ctx, inter.AssistantID, inter.Answer, inter.AnswerSummary, full, summarize)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, fmt.Sprintf("Query: %s\nAnswer: %s", query, answer))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func (s *Store) contextText(ctx context.Context, id int64, content, summary string, full bool, summarize SummarizeFunc) (string, error) {
	if full || len(content) <= largeMessageChars {
		return content, nil
	}
	if summary != "" {
		return summary, nil
	}
	if summarize == nil {
		return content, nil
	}
	generated, err := summarize(ctx, content)
	if err != nil || generated == "" {
		// Summary generation is best-effort; raw text still works.
		return content, nil
	}
	if err := s.UpdateMessageSummary(ctx, id, generated); err != nil {
		s.logger.Warn("failed to back-fill message summary", "id", id, "error", err)
	}
	return generated, nil
}

// UpdateMessageSummary back-fills the summary column for one message.
func (s *Store) UpdateMessageSummary(ctx context.Context, id int64, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("failed to update message summary: %w", err)
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

// DeleteMessages removes history messages by id, expanding each id to its
// user/assistant partner so pairs die together. Returns rows removed.
func (s *Store) DeleteMessages(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expand := map[int64]bool{}
	for _, id := range ids {
		inter, err := s.interactionByMessageID(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return 0, err
		}
		if inter.UserID != 0 {
			expand[inter.UserID] = true
		}
		if inter.AssistantID != 0 {
			expand[inter.AssistantID] = true
		}
	}
	if len(expand) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(expand)), ",")
	args := make([]any, 0, len(expand))
	for id := range expand {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id IS NULL AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	return res.RowsAffected()
}

// DeleteMessageRange removes history messages with from <= id <= to,
// without partner expansion (the range is explicit).
func (s *Store) DeleteMessageRange(ctx context.Context, from, to int64) (int64, error) {
	if to < from {
		return 0, fmt.Errorf("store: invalid range %d..%d", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id IS NULL AND id >= ? AND id <= ?`, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to delete message range: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAllMessages clears the bare interaction history. Session messages
// are untouched; they belong to their sessions.
func (s *Store) DeleteAllMessages(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	return res.RowsAffected()
}

// SaveMessage appends one message to a session's log. ToolCalls carries the
// JSON-encoded tool-call list for assistant messages that requested tools.
func (s *Store) SaveMessage(ctx context.Context, m StoredMessage) (int64, error) {
	if m.SessionID == 0 {
		return 0, fmt.Errorf("store: session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, summary, model, tool_calls, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.Role, m.Content, nullString(m.Summary), m.Model,
		nullString(m.ToolCalls), m.ToolCallID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to save message: %w", err)
	}
	return res.LastInsertId()
}

// SessionMessages returns a session's full raw message log in order,
// including rows already covered by a compacted summary.
func (s *Store) SessionMessages(ctx context.Context, sessionID int64) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, COALESCE(summary, ''), model,
		       COALESCE(tool_calls, ''), tool_call_id, created_at
		FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session messages: %w", err)
	}
	defer rows.Close()

	var messages []StoredMessage
	for rows.Next() {
		var (
			m   StoredMessage
			sid sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &sid, &m.Role, &m.Content, &m.Summary, &m.Model,
			&m.ToolCalls, &m.ToolCallID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.SessionID = sid.Int64
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SessionMessagesAfter returns session messages with id > after, in order.
// Context assembly uses it to skip rows covered by the compacted summary.
func (s *Store) SessionMessagesAfter(ctx context.Context, sessionID, after int64) ([]StoredMessage, error) {
	all, err := s.SessionMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []StoredMessage
	for _, m := range all {
		if m.ID > after {
			out = append(out, m)
		}
	}
	return out, nil
}
