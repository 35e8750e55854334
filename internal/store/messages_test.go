package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func saveInteractions(t *testing.T, s *Store, pairs [][2]string) [][2]int64 {
	t.Helper()
	var ids [][2]int64
	for _, p := range pairs {
		uid, aid, err := s.SaveInteraction(context.Background(), p[0], p[1], "main", "", "")
		if err != nil {
			t.Fatalf("save interaction failed: %v", err)
		}
		ids = append(ids, [2]int64{uid, aid})
	}
	return ids
}

func TestGetHistory_PairingAndOrder(t *testing.T) {
	s := openTestStore(t)
	saveInteractions(t, s, [][2]string{
		{"first question", "first answer"},
		{"second question", "second answer"},
		{"third question", "third answer"},
	})

	hist, err := s.GetHistory(context.Background(), 2)
	if err != nil {
		t.Fatalf("get history failed: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 interactions, got %d", len(hist))
	}
	if hist[0].Query != "third question" || hist[0].Answer != "third answer" {
		t.Errorf("newest first violated: %+v", hist[0])
	}
	if hist[1].Query != "second question" {
		t.Errorf("unexpected second entry: %+v", hist[1])
	}
	if hist[0].UserID >= hist[0].AssistantID {
		t.Errorf("user row must precede assistant row: %+v", hist[0])
	}
}

func TestGetHistory_ZeroLimit(t *testing.T) {
	s := openTestStore(t)
	saveInteractions(t, s, [][2]string{{"q", "a"}})

	hist, err := s.GetHistory(context.Background(), 0)
	if err != nil {
		t.Fatalf("get history failed: %v", err)
	}
	if len(hist) != 0 {
		t.Errorf("limit 0 must return nothing, got %d", len(hist))
	}
}

func TestGetHistory_LegacyRolelessRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Rows written before the role column was populated.
	for _, content := range []string{"old question", "old answer"} {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (session_id, role, content, model, created_at)
			VALUES (NULL, '', ?, 'main', ?)`, content, time.Now().UTC())
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	hist, err := s.GetHistory(ctx, 5)
	if err != nil {
		t.Fatalf("get history failed: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected 1 interaction, got %d", len(hist))
	}
	if hist[0].Query != "old question" || hist[0].Answer != "old answer" {
		t.Errorf("positional pairing failed: %+v", hist[0])
	}
}

func TestInteractionByMessageID_PartnerExpansion(t *testing.T) {
	s := openTestStore(t)
	ids := saveInteractions(t, s, [][2]string{
		{"q1", "a1"},
		{"q2", "a2"},
	})

	// Assistant id resolves the full pair.
	inter, err := s.InteractionByMessageID(context.Background(), ids[1][1])
	if err != nil {
		t.Fatalf("lookup by assistant id failed: %v", err)
	}
	if inter.Query != "q2" || inter.Answer != "a2" {
		t.Errorf("unexpected pair: %+v", inter)
	}

	// User id resolves the same pair.
	inter, err = s.InteractionByMessageID(context.Background(), ids[1][0])
	if err != nil {
		t.Fatalf("lookup by user id failed: %v", err)
	}
	if inter.Query != "q2" || inter.Answer != "a2" {
		t.Errorf("unexpected pair: %+v", inter)
	}

	if _, err := s.InteractionByMessageID(context.Background(), 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetInteractionContext(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ids := saveInteractions(t, s, [][2]string{
		{"a", "A"},
		{"b", "B"},
	})

	// Both ids of one pair dedupe to a single block.
	out, err := s.GetInteractionContext(ctx, []int64{ids[1][0], ids[1][1]}, false, nil)
	if err != nil {
		t.Fatalf("context failed: %v", err)
	}
	if out != "Query: b\nAnswer: B" {
		t.Errorf("unexpected context: %q", out)
	}
	if strings.Contains(out, "Query: a") {
		t.Error("context must not include the other pair")
	}

	out, err = s.GetInteractionContext(ctx, []int64{ids[0][0], ids[1][0]}, false, nil)
	if err != nil {
		t.Fatalf("context failed: %v", err)
	}
	if !strings.Contains(out, "Query: a\nAnswer: A") || !strings.Contains(out, "Query: b\nAnswer: B") {
		t.Errorf("missing blocks: %q", out)
	}
	if !strings.Contains(out, "\n\n") {
		t.Errorf("blocks must be blank-line separated: %q", out)
	}
}

func TestGetInteractionContext_LazySummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("x", largeMessageChars+1)
	uid, _, err := s.SaveInteraction(ctx, "short question", long, "main", "", "")
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	calls := 0
	summarize := func(ctx context.Context, text string) (string, error) {
		calls++
		return "condensed answer", nil
	}

	out, err := s.GetInteractionContext(ctx, []int64{uid}, false, summarize)
	if err != nil {
		t.Fatalf("context failed: %v", err)
	}
	if !strings.Contains(out, "condensed answer") {
		t.Errorf("expected summary in context: %q", out)
	}
	if strings.Contains(out, long) {
		t.Error("raw large text must be replaced by the summary")
	}
	if calls != 1 {
		t.Errorf("expected one summarize call, got %d", calls)
	}

	// Second pass reads the back-filled summary without re-summarizing.
	if _, err := s.GetInteractionContext(ctx, []int64{uid}, false, summarize); err != nil {
		t.Fatalf("second context failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("summary must be back-filled, got %d calls", calls)
	}

	// full=true always returns raw text.
	out, err = s.GetInteractionContext(ctx, []int64{uid}, true, summarize)
	if err != nil {
		t.Fatalf("full context failed: %v", err)
	}
	if !strings.Contains(out, long) {
		t.Error("full context must keep the raw text")
	}
}

func TestDeleteMessages_PartnerExpansion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ids := saveInteractions(t, s, [][2]string{
		{"q1", "a1"},
		{"q2", "a2"},
	})

	removed, err := s.DeleteMessages(ctx, []int64{ids[0][0]})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected both rows of the pair removed, got %d", removed)
	}

	hist, _ := s.GetHistory(ctx, 10)
	if len(hist) != 1 || hist[0].Query != "q2" {
		t.Errorf("surviving history wrong: %+v", hist)
	}
}

func TestDeleteMessageRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ids := saveInteractions(t, s, [][2]string{
		{"q1", "a1"},
		{"q2", "a2"},
		{"q3", "a3"},
	})

	removed, err := s.DeleteMessageRange(ctx, ids[0][0], ids[1][1])
	if err != nil {
		t.Fatalf("range delete failed: %v", err)
	}
	if removed != 4 {
		t.Errorf("expected 4 rows removed, got %d", removed)
	}

	if _, err := s.DeleteMessageRange(ctx, 5, 2); err == nil {
		t.Error("inverted range must error")
	}
}

func TestDeleteAllMessages_SparesSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveInteractions(t, s, [][2]string{{"q", "a"}})
	sess, err := s.CreateSession(ctx, "work", "main")
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	if _, err := s.SaveMessage(ctx, StoredMessage{SessionID: sess.ID, Role: "user", Content: "in session"}); err != nil {
		t.Fatalf("save message failed: %v", err)
	}

	removed, err := s.DeleteAllMessages(ctx)
	if err != nil {
		t.Fatalf("delete all failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 history rows removed, got %d", removed)
	}

	msgs, err := s.SessionMessages(ctx, sess.ID)
	if err != nil || len(msgs) != 1 {
		t.Errorf("session messages must survive: n=%d err=%v", len(msgs), err)
	}
}

func TestSessionMessages_OrderAndCompaction(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "", "main")
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	var lastID int64
	for _, m := range []StoredMessage{
		{SessionID: sess.ID, Role: "user", Content: "u1"},
		{SessionID: sess.ID, Role: "assistant", Content: "a1"},
		{SessionID: sess.ID, Role: "user", Content: "u2"},
	} {
		lastID, err = s.SaveMessage(ctx, m)
		if err != nil {
			t.Fatalf("save message failed: %v", err)
		}
	}

	msgs, err := s.SessionMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("session messages failed: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Content != "u1" || msgs[2].Content != "u2" {
		t.Errorf("unexpected order: %+v", msgs)
	}

	if err := s.CompactSession(ctx, sess.ID, "summary so far", 0); err != nil {
		t.Fatalf("compact failed: %v", err)
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if got.CompactSummary != "summary so far" || got.CompactUptoID != lastID {
		t.Errorf("compaction state wrong: %+v", got)
	}

	// Everything is covered by the summary; nothing remains after the boundary.
	tail, err := s.SessionMessagesAfter(ctx, sess.ID, got.CompactUptoID)
	if err != nil {
		t.Fatalf("messages after failed: %v", err)
	}
	if len(tail) != 0 {
		t.Errorf("expected empty tail, got %d", len(tail))
	}

	// Raw log stays intact for audit.
	msgs, _ = s.SessionMessages(ctx, sess.ID)
	if len(msgs) != 3 {
		t.Errorf("raw messages must survive compaction, got %d", len(msgs))
	}
}

func TestSaveMessage_RequiresSession(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.SaveMessage(context.Background(), StoredMessage{Role: "user", Content: "x"}); err == nil {
		t.Error("expected error for missing session id")
	}
}

func TestSessionResolution_StickyWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.MostRecentSession(ctx, 30*time.Minute); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound with no sessions, got %v", err)
	}

	sess, err := s.CreateSession(ctx, "research", "main")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	got, err := s.MostRecentSession(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("most recent failed: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("expected session %d, got %d", sess.ID, got.ID)
	}

	// Push activity outside the window.
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), sess.ID)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := s.MostRecentSession(ctx, 30*time.Minute); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound outside window, got %v", err)
	}

	if err := s.TouchSession(ctx, sess.ID); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	if _, err := s.MostRecentSession(ctx, 30*time.Minute); err != nil {
		t.Errorf("touched session must be inside window: %v", err)
	}
}

func TestSessionsByName_Ambiguity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "dup", "main"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := s.CreateSession(ctx, "dup", "main"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	matches, err := s.SessionsByName(ctx, "dup")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("expected 2 matches, got %d", len(matches))
	}
}
