package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/evrenesat/asky/internal/config"
	"github.com/evrenesat/asky/internal/fetch"
	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/search"
	"github.com/evrenesat/asky/internal/shortlist"
	"github.com/evrenesat/asky/internal/store"
	"github.com/evrenesat/asky/internal/summarize"
)

type stubFetcher struct {
	docs map[string]*fetch.Document
}

func (f *stubFetcher) Fetch(_ context.Context, rawURL string, _ fetch.Options) (*fetch.Document, error) {
	if doc, ok := f.docs[rawURL]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("unreachable: %s", rawURL)
}

type stubSearcher struct {
	results []search.Result
}

func (s *stubSearcher) Search(context.Context, string, int) ([]search.Result, error) {
	return s.results, nil
}

func newTestOrchestrator(t *testing.T, mutate func(*config.Config, *Deps)) (*Orchestrator, *store.Store, *llm.MockProvider) {
	t.Helper()
	st, err := store.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mock := &llm.MockProvider{Responses: []*llm.Response{llm.TextResponse("the answer")}}
	cfg := config.Default()
	deps := Deps{
		Store:     st,
		Providers: map[string]llm.Provider{"openai": mock},
		Logger:    slog.Default(),
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}
	return New(cfg, deps), st, mock
}

func TestParseSelectors(t *testing.T) {
	st, err := store.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	_, assistantID, err := st.SaveInteraction(ctx, "q1", "a1", "main", "", "")
	if err != nil {
		t.Fatalf("save interaction: %v", err)
	}

	tests := []struct {
		raw     string
		want    []int64
		wantErr string
	}{
		{raw: "", want: nil},
		{raw: "3", want: []int64{3}},
		{raw: "3, 7", want: []int64{3, 7}},
		{raw: "fix the build__hid_42", want: []int64{42}},
		{raw: "~1", want: []int64{assistantID}},
		{raw: "~9", wantErr: "~9"},
		{raw: "banana", wantErr: "banana"},
		{raw: "~x", wantErr: "~x"},
		{raw: "-4", wantErr: "-4"},
	}
	for _, tt := range tests {
		got, err := parseSelectors(ctx, st, tt.raw)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("parseSelectors(%q) error = %v, want one naming %q", tt.raw, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseSelectors(%q) failed: %v", tt.raw, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("parseSelectors(%q) = %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseSelectors(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		}
	}
}

func TestRun_DirectAnswerPersistsHistory(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, nil)

	result, err := o.Run(context.Background(), TurnRequest{Query: "what is a goroutine"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Answer != "the answer" {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.ModelAlias != "main" {
		t.Errorf("model alias = %q, want main", result.ModelAlias)
	}
	if result.SessionID != 0 {
		t.Errorf("history-only turn must not bind a session, got %d", result.SessionID)
	}
	if result.MainUsage.Calls != 1 {
		t.Errorf("main usage calls = %d, want 1", result.MainUsage.Calls)
	}

	history, err := st.GetHistory(context.Background(), 5)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected 1 interaction, got %v (%v)", history, err)
	}
	if history[0].Query != "what is a goroutine" || history[0].Answer != "the answer" {
		t.Errorf("unexpected interaction: %+v", history[0])
	}
}

func TestRun_ResultReportsResearchMode(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	result, err := o.Run(context.Background(), TurnRequest{Query: "q"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Research {
		t.Error("standard turn must not report research mode")
	}

	o, _, _ = newTestOrchestrator(t, nil)
	result, err = o.Run(context.Background(), TurnRequest{Query: "q", Research: true, ResearchSet: true})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.Research {
		t.Error("explicit research flag must be reported on the result")
	}

	// Non-web source modes imply research when the flag is not given.
	o, _, _ = newTestOrchestrator(t, func(cfg *config.Config, _ *Deps) {
		cfg.Corpus.SourceMode = config.SourceModeMixed
	})
	result, err = o.Run(context.Background(), TurnRequest{Query: "q"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.Research {
		t.Error("non-web source mode must imply research on the result")
	}
}

func TestRun_NoSaveSkipsPersistence(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, nil)

	if _, err := o.Run(context.Background(), TurnRequest{Query: "q", NoSave: true}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	history, _ := st.GetHistory(context.Background(), 5)
	if len(history) != 0 {
		t.Errorf("no-save turn must not persist, got %d interactions", len(history))
	}
}

func TestRun_StickySessionAdopted(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	first, err := o.Run(ctx, TurnRequest{Query: "start", SessionName: "proj"})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.SessionID == 0 {
		t.Fatal("sticky turn must bind a session")
	}

	second, err := o.Run(ctx, TurnRequest{Query: "continue", SessionName: "proj"})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Errorf("sticky name inside the window must adopt: %d vs %d", second.SessionID, first.SessionID)
	}

	rows, err := st.SessionMessages(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("session messages: %v", err)
	}
	if len(rows) != 4 {
		t.Errorf("expected 4 rows after two turns, got %d", len(rows))
	}
}

func TestRun_StickyWindowExpiredCreatesNew(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	first, err := o.Run(ctx, TurnRequest{Query: "start", SessionName: "proj"})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	o.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	second, err := o.Run(ctx, TurnRequest{Query: "later", SessionName: "proj"})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Error("expired sticky window must create a fresh session")
	}
}

func TestRun_ResumeHalts(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	result, err := o.Run(ctx, TurnRequest{Query: "q", ResumeSelector: "9999"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.Halted || result.HaltReason != HaltSessionNotFound {
		t.Errorf("missing session must halt with session_not_found, got %+v", result)
	}

	for i := 0; i < 2; i++ {
		if _, err := st.CreateSession(ctx, "dup", "main"); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}
	result, err = o.Run(ctx, TurnRequest{Query: "q", ResumeSelector: "dup"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.Halted || result.HaltReason != HaltSessionAmbiguous {
		t.Errorf("duplicate names must halt with session_ambiguous, got %+v", result)
	}
}

func TestRun_SessionCommandOnly(t *testing.T) {
	o, _, mock := newTestOrchestrator(t, nil)

	result, err := o.Run(context.Background(), TurnRequest{SessionName: "switch-target"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.Halted || result.HaltReason != HaltSessionCommandOnly {
		t.Errorf("query-less session turn must halt, got %+v", result)
	}
	if result.SessionID == 0 {
		t.Error("the session switch must still happen")
	}
	if mock.CallCount() != 0 {
		t.Errorf("no model call expected, got %d", mock.CallCount())
	}
}

func TestRun_EmptyQueryWithoutSessionErrors(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	if _, err := o.Run(context.Background(), TurnRequest{}); err == nil {
		t.Error("empty query without session directives must be an error")
	}
}

func TestRun_UnknownModelAlias(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	_, err := o.Run(context.Background(), TurnRequest{Query: "q", ModelAlias: "nope"})
	if err == nil || !strings.Contains(err.Error(), "unknown model alias") {
		t.Errorf("expected unknown-alias error, got %v", err)
	}
}

func TestRun_TriggerPhraseStripped(t *testing.T) {
	o, _, mock := newTestOrchestrator(t, nil)

	if _, err := o.Run(context.Background(), TurnRequest{Query: "Remember this: I use vim"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	sent := mock.Requests[0].Messages
	user := sent[len(sent)-1]
	if user.Content != "I use vim" {
		t.Errorf("trigger phrase must be stripped from the prompt, got %q", user.Content)
	}
}

func TestRun_LeanDisablesAllTools(t *testing.T) {
	o, _, mock := newTestOrchestrator(t, nil)

	if _, err := o.Run(context.Background(), TurnRequest{Query: "q", Lean: true}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if n := len(mock.Requests[0].Tools); n != 0 {
		t.Errorf("lean turn must offer no tools, got %d", n)
	}
}

func TestRun_DirectAnswerGatingDisablesDiscovery(t *testing.T) {
	fetcher := &stubFetcher{docs: map[string]*fetch.Document{
		"https://seed.example/doc": {
			URL: "https://seed.example/doc", FinalURL: "https://seed.example/doc",
			Title: "Doc", Content: "short seed content that answers everything",
		},
	}}
	searcher := &stubSearcher{}

	o, _, mock := newTestOrchestrator(t, func(cfg *config.Config, deps *Deps) {
		deps.Fetcher = fetcher
		deps.Searcher = searcher
		deps.Shortlist = shortlist.New(searcher, fetcher, nil, deps.Store, shortlist.Config{}, slog.Default())
	})

	result, err := o.Run(context.Background(), TurnRequest{Query: "summarize https://seed.example/doc for me"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Preload == nil || !result.Preload.DirectAnswerReady {
		t.Fatalf("seed under budget must be direct-answer ready: %+v", result.Preload)
	}

	offered := map[string]bool{}
	for _, spec := range mock.Requests[0].Tools {
		offered[spec.Name] = true
	}
	for _, name := range []string{"web_search", "get_url_content", "get_url_details"} {
		if offered[name] {
			t.Errorf("discovery tool %s must be disabled in direct-answer mode", name)
		}
	}
	if !offered["get_relevant_content"] {
		t.Error("non-discovery tools must stay available")
	}

	if !strings.Contains(mock.Requests[0].Messages[len(mock.Requests[0].Messages)-1].Content, "seed content") {
		t.Error("seed document must be delivered into the prompt")
	}
}

func TestRun_LocalOnlyWithoutCorpusHalts(t *testing.T) {
	o, _, mock := newTestOrchestrator(t, func(cfg *config.Config, deps *Deps) {
		cfg.Corpus.SourceMode = config.SourceModeLocalOnly
	})

	result, err := o.Run(context.Background(), TurnRequest{Query: "what does the doc say"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.Halted || result.HaltReason != HaltCorpusMissing {
		t.Errorf("local-only without a corpus must halt, got %+v", result)
	}
	if mock.CallCount() != 0 {
		t.Errorf("no model call expected after halt, got %d", mock.CallCount())
	}
}

func TestRun_SessionCompaction(t *testing.T) {
	summaryMock := &llm.MockProvider{Responses: []*llm.Response{llm.TextResponse("compact summary")}}

	longAnswer := strings.Repeat("detailed answer text ", 30)
	o, st, _ := newTestOrchestrator(t, func(cfg *config.Config, deps *Deps) {
		cfg.LLM.Models["tiny"] = config.ModelConfig{ID: "tiny-model", ContextTokens: 40}
		cfg.Engine.CompactKeepRecent = 1
		deps.Summarizer = summarize.New(summaryMock, summarize.Config{}, slog.Default())
	})
	ctx := context.Background()

	mainMock := o.deps.Providers["openai"].(*llm.MockProvider)
	mainMock.Responses = []*llm.Response{llm.TextResponse(longAnswer)}

	result, err := o.Run(ctx, TurnRequest{Query: "tell me everything", SessionName: "big", ModelAlias: "tiny"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	sess, err := st.GetSession(ctx, result.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.CompactSummary != "compact summary" {
		t.Fatalf("session must be compacted, got %+v", sess)
	}

	tail, err := st.SessionMessagesAfter(ctx, sess.ID, sess.CompactUptoID)
	if err != nil {
		t.Fatalf("messages after: %v", err)
	}
	if len(tail) != 1 {
		t.Errorf("the retained tail must survive outside the summary, got %d rows", len(tail))
	}

	rows, _ := st.SessionMessages(ctx, sess.ID)
	if len(rows) != 2 {
		t.Errorf("raw rows must remain after compaction, got %d", len(rows))
	}
}

func TestRun_SelectorContextIncluded(t *testing.T) {
	o, st, mock := newTestOrchestrator(t, nil)
	ctx := context.Background()

	_, assistantID, err := st.SaveInteraction(ctx, "earlier question", "earlier answer", "main", "", "")
	if err != nil {
		t.Fatalf("save interaction: %v", err)
	}

	req := TurnRequest{Query: "follow up", HistorySelectors: fmt.Sprintf("%d", assistantID)}
	if _, err := o.Run(ctx, req); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var found bool
	for _, m := range mock.Requests[0].Messages {
		if strings.Contains(m.Content, "earlier answer") {
			found = true
		}
	}
	if !found {
		t.Error("selected interaction must appear in the prompt context")
	}
}
