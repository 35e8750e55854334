package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evrenesat/asky/internal/config"
	"github.com/evrenesat/asky/internal/corpus"
	"github.com/evrenesat/asky/internal/fetch"
	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/search"
	"github.com/evrenesat/asky/internal/store"
	"github.com/evrenesat/asky/internal/summarize"
)

type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string]*fetch.Document
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string, _ fetch.Options) (*fetch.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if doc, ok := f.docs[rawURL]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("unreachable: %s", rawURL)
}

type fakeSearcher struct {
	results []search.Result
	err     error
}

func (s *fakeSearcher) Search(context.Context, string, int) ([]search.Result, error) {
	return s.results, s.err
}

func newTestSet(t *testing.T, mutate func(*Deps)) (*Set, *store.Store, *fakeFetcher) {
	t.Helper()
	st, err := store.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fetcher := &fakeFetcher{docs: map[string]*fetch.Document{}}
	deps := Deps{
		Store:   st,
		Fetcher: fetcher,
		Logger:  slog.Default(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	return NewSet(deps), st, fetcher
}

func dispatch(t *testing.T, s *Set, name, args string) any {
	t.Helper()
	reg := s.Registry(nil)
	return reg.Dispatch(context.Background(), name, json.RawMessage(args))
}

func asEnvelope(t *testing.T, result any) map[string]any {
	t.Helper()
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected map envelope, got %#v", result)
	}
	return m
}

func TestSetNames_SourceModeGating(t *testing.T) {
	web, _, _ := newTestSet(t, nil)
	for _, name := range web.Names() {
		if name == "list_sections" || name == "summarize_section" {
			t.Errorf("local corpus tool %s registered in web mode", name)
		}
	}

	mixed, _, _ := newTestSet(t, func(d *Deps) { d.SourceMode = config.SourceModeMixed })
	names := strings.Join(mixed.Names(), ",")
	if !strings.Contains(names, "list_sections") || !strings.Contains(names, "summarize_section") {
		t.Errorf("mixed mode must register corpus tools: %s", names)
	}
}

func TestSetRegistry_DisabledNames(t *testing.T) {
	s, _, _ := newTestSet(t, nil)
	reg := s.Registry(map[string]bool{"web_search": true, "get_url_content": true})
	if reg.Has("web_search") || reg.Has("get_url_content") {
		t.Error("disabled tools must not register")
	}
	if !reg.Has("get_relevant_content") {
		t.Error("other tools must still register")
	}
}

func TestGetURLContent_FetchesAndCaches(t *testing.T) {
	s, _, fetcher := newTestSet(t, nil)
	fetcher.docs["https://example.com/a"] = &fetch.Document{
		URL: "https://example.com/a", Title: "Page A", Content: "body of page a",
	}

	res := asEnvelope(t, dispatch(t, s, "get_url_content", `{"urls":["https://example.com/a"]}`))
	payload, ok := res["https://example.com/a"].(contentPayload)
	if !ok {
		t.Fatalf("unexpected payload shape: %#v", res)
	}
	if payload.Title != "Page A" || payload.Content != "body of page a" {
		t.Errorf("unexpected payload: %+v", payload)
	}

	// Second call is served from cache.
	dispatch(t, s, "get_url_content", `{"urls":["https://example.com/a"]}`)
	if fetcher.calls != 1 {
		t.Errorf("expected 1 fetch, got %d", fetcher.calls)
	}
}

func TestGetURLContent_PerURLErrors(t *testing.T) {
	s, _, fetcher := newTestSet(t, nil)
	fetcher.docs["https://up.example/ok"] = &fetch.Document{Title: "OK", Content: "fine"}

	res := asEnvelope(t, dispatch(t, s, "get_url_content",
		`{"urls":["https://up.example/ok","https://down.example/gone","/etc/passwd"]}`))

	if _, ok := res["https://up.example/ok"].(contentPayload); !ok {
		t.Errorf("healthy URL must succeed: %#v", res["https://up.example/ok"])
	}
	if _, ok := res["https://down.example/gone"].(ErrorPayload); !ok {
		t.Errorf("failed fetch must be a per-URL error: %#v", res["https://down.example/gone"])
	}
	errPayload, ok := res["/etc/passwd"].(ErrorPayload)
	if !ok || !strings.Contains(errPayload.Error, "local files") {
		t.Errorf("local path must be rejected per-URL: %#v", res["/etc/passwd"])
	}
}

func TestWebSearch(t *testing.T) {
	s, _, _ := newTestSet(t, func(d *Deps) {
		d.Searcher = &fakeSearcher{results: []search.Result{
			{Title: "Hit", URL: "https://hit.example", Snippet: "snippet"},
		}}
	})

	res := asEnvelope(t, dispatch(t, s, "web_search", `{"q":"test query"}`))
	results, ok := res["results"].([]search.Result)
	if !ok || len(results) != 1 || results[0].Title != "Hit" {
		t.Errorf("unexpected search payload: %#v", res)
	}
}

func TestWebSearch_ProviderError(t *testing.T) {
	s, _, _ := newTestSet(t, func(d *Deps) {
		d.Searcher = &fakeSearcher{err: fmt.Errorf("quota exceeded")}
	})
	got := dispatch(t, s, "web_search", `{"q":"x"}`)
	payload, ok := got.(ErrorPayload)
	if !ok || !strings.Contains(payload.Error, "quota exceeded") {
		t.Errorf("provider error must surface: %#v", got)
	}
}

func TestGetLinkSummaries_NotCached(t *testing.T) {
	s, _, _ := newTestSet(t, nil)
	res := asEnvelope(t, dispatch(t, s, "get_link_summaries", `{"urls":["https://never.example/x"]}`))
	status := asEnvelope(t, res["https://never.example/x"])
	if status["status"] != "not_cached" {
		t.Errorf("uncached URL status = %v, want not_cached", status["status"])
	}
}

func TestGetLinkSummaries_Completed(t *testing.T) {
	s, st, _ := newTestSet(t, nil)
	ctx := context.Background()
	id, _, err := st.Put(ctx, store.PutDocument{URL: "https://done.example/p", Title: "Done", Content: "content", TTL: time.Hour})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := st.ClaimSummary(ctx, id); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if err := st.SetSummary(ctx, id, "the summary"); err != nil {
		t.Fatalf("set summary: %v", err)
	}

	res := asEnvelope(t, dispatch(t, s, "get_link_summaries", `{"urls":["https://done.example/p"]}`))
	payload := asEnvelope(t, res["https://done.example/p"])
	if payload["summary"] != "the summary" || payload["status"] != store.SummaryCompleted {
		t.Errorf("unexpected summary payload: %#v", payload)
	}
}

func TestGetURLContent_PutRequestsBackgroundSummary(t *testing.T) {
	s, st, fetcher := newTestSet(t, nil)
	fetcher.docs["https://example.com/a"] = &fetch.Document{
		URL: "https://example.com/a", Title: "Page A", Content: "body of page a",
	}

	var hooked []string
	st.SetSummaryHook(func(_ int64, url string) { hooked = append(hooked, url) })

	dispatch(t, s, "get_url_content", `{"urls":["https://example.com/a"]}`)
	if len(hooked) != 1 || hooked[0] != "https://example.com/a" {
		t.Errorf("fetch-and-cache must request a background summary, got %v", hooked)
	}

	// The cached path performs no put, so no second request.
	dispatch(t, s, "get_url_content", `{"urls":["https://example.com/a"]}`)
	if len(hooked) != 1 {
		t.Errorf("cache hit must not request another summary, got %v", hooked)
	}
}

func TestSummaryTask_CompletesPendingEntry(t *testing.T) {
	st, err := store.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	id, _, err := st.Put(ctx, store.PutDocument{URL: "https://example.com/a", Content: "long body", TTL: time.Hour})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	mock := &llm.MockProvider{Responses: []*llm.Response{llm.TextResponse("condensed")}}
	sum := summarize.New(mock, summarize.Config{}, slog.Default())

	task := SummaryTask(st, sum, id, "https://example.com/a")
	if task.Kind != "cache_summary" {
		t.Errorf("task kind = %q", task.Kind)
	}
	if err := task.Run(ctx); err != nil {
		t.Fatalf("task run failed: %v", err)
	}

	summary, status, err := st.ReadSummary(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if status != store.SummaryCompleted || summary != "condensed" {
		t.Errorf("got summary=%q status=%q", summary, status)
	}

	// A second run sees the completed entry and stays idle.
	if err := task.Run(ctx); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("completed entry must not be resummarized, calls=%d", mock.CallCount())
	}
}

func TestExtractLinks_DocumentOrder(t *testing.T) {
	s, _, fetcher := newTestSet(t, nil)
	fetcher.docs["https://hub.example/"] = &fetch.Document{
		Title:   "Hub",
		Content: "hub page",
		Links: []fetch.Link{
			{Label: "First", Href: "https://hub.example/one"},
			{Label: "Second", Href: "https://hub.example/two"},
		},
	}

	res := asEnvelope(t, dispatch(t, s, "extract_links", `{"url":"https://hub.example/"}`))
	payload := asEnvelope(t, res["https://hub.example/"])
	links, ok := payload["links"].([]linkItem)
	if !ok || len(links) != 2 || links[0].Label != "First" {
		t.Errorf("unexpected links payload: %#v", payload)
	}
}

func TestSaveFindingAndQueryMemory_RecentFallback(t *testing.T) {
	s, _, _ := newTestSet(t, nil)

	saved := asEnvelope(t, dispatch(t, s, "save_finding",
		`{"content":"latency improved 40% after the cache change","source_url":"https://src.example","tags":["perf"]}`))
	if saved["saved"] != true {
		t.Fatalf("finding not saved: %#v", saved)
	}

	res := asEnvelope(t, dispatch(t, s, "query_research_memory", `{"query":"latency"}`))
	if res["matched"] != "recent" {
		t.Errorf("without embedder the fallback must be recent, got %v", res["matched"])
	}
	findings := fmt.Sprintf("%v", res["findings"])
	if !strings.Contains(findings, "latency improved") {
		t.Errorf("saved finding missing from recall: %v", findings)
	}
}

func TestSaveMemory_Scopes(t *testing.T) {
	s, st, _ := newTestSet(t, nil)

	res := asEnvelope(t, dispatch(t, s, "save_memory", `{"content":"prefers concise answers"}`))
	if res["scope"] != "global" {
		t.Errorf("default scope = %v, want global", res["scope"])
	}
	memories, err := st.Memories(context.Background(), 0)
	if err != nil || len(memories) != 1 {
		t.Fatalf("memory not persisted: %v %v", memories, err)
	}

	// Session scope without an active session is an error.
	got := dispatch(t, s, "save_memory", `{"content":"x","scope":"session"}`)
	if _, ok := got.(ErrorPayload); !ok {
		t.Errorf("session scope without session must fail: %#v", got)
	}
}

func TestSaveMemory_SessionScoped(t *testing.T) {
	s, st, _ := newTestSet(t, func(d *Deps) { d.SessionID = 0 })
	ctx := context.Background()
	session, err := st.CreateSession(ctx, "proj", "main")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	s.deps.SessionID = session.ID

	res := asEnvelope(t, dispatch(t, s, "save_memory", `{"content":"working on proj","scope":"session"}`))
	if res["scope"] != "session" {
		t.Errorf("scope = %v, want session", res["scope"])
	}
}

func TestListSections_RequiresHandle(t *testing.T) {
	s, _, _ := newTestSet(t, func(d *Deps) { d.SourceMode = config.SourceModeLocalOnly })
	got := dispatch(t, s, "list_sections", `{"url":"https://web.example/x"}`)
	if _, ok := got.(ErrorPayload); !ok {
		t.Errorf("non-handle must be rejected: %#v", got)
	}
}

func TestListSections_OverIngestedCorpus(t *testing.T) {
	dir := t.TempDir()
	content := "# Title\n\nintro\n\n## Part One\n\nalpha\n\n## Part Two\n\nbeta\n"
	if err := os.WriteFile(filepath.Join(dir, "doc.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, st, _ := newTestSet(t, func(d *Deps) { d.SourceMode = config.SourceModeLocalOnly })
	manager := corpus.NewManager(st, fetch.NewFile(fetch.FileConfig{}, slog.Default()), corpus.Config{}, slog.Default())
	s.deps.Corpus = manager

	report, err := manager.Ingest(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	handle := report.Docs[0].Handle

	res := asEnvelope(t, dispatch(t, s, "list_sections", fmt.Sprintf(`{"url":%q}`, handle)))
	sections, ok := res["sections"].([]corpus.Section)
	if !ok || len(sections) != 3 {
		t.Errorf("expected 3 sections, got %#v", res["sections"])
	}
}
