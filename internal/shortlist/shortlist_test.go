package shortlist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/evrenesat/asky/internal/fetch"
	"github.com/evrenesat/asky/internal/search"
	"github.com/evrenesat/asky/internal/store"
)

type stubSearcher struct {
	results map[string][]search.Result
	err     error
	queries []string
}

func (s *stubSearcher) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.results[query], nil
}

type stubFetcher struct {
	mu    sync.Mutex
	docs  map[string]*fetch.Document
	errs  map[string]error
	calls int
}

func (f *stubFetcher) Fetch(_ context.Context, rawURL string, _ fetch.Options) (*fetch.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	if doc, ok := f.docs[rawURL]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("no stub for %s", rawURL)
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func doc(url, title, content string) *fetch.Document {
	return &fetch.Document{URL: url, FinalURL: url, Title: title, Content: content}
}

func TestExtractSeedURLs(t *testing.T) {
	tests := []struct {
		prompt    string
		wantSeeds []string
		wantQuery string
	}{
		{
			"compare https://example.com/a and https://other.org/b.",
			[]string{"https://example.com/a", "https://other.org/b"},
			"compare and",
		},
		{
			"what does example.com/docs/intro say about limits",
			[]string{"https://example.com/docs/intro"},
			"what does say about limits",
		},
		{
			"no urls here at all",
			nil,
			"no urls here at all",
		},
	}
	for _, tt := range tests {
		seeds, query := ExtractSeedURLs(tt.prompt)
		if len(seeds) != len(tt.wantSeeds) {
			t.Errorf("ExtractSeedURLs(%q) seeds = %v, want %v", tt.prompt, seeds, tt.wantSeeds)
			continue
		}
		for i := range seeds {
			if seeds[i] != tt.wantSeeds[i] {
				t.Errorf("ExtractSeedURLs(%q) seed %d = %q, want %q", tt.prompt, i, seeds[i], tt.wantSeeds[i])
			}
		}
		if query != tt.wantQuery {
			t.Errorf("ExtractSeedURLs(%q) query = %q, want %q", tt.prompt, query, tt.wantQuery)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://Example.COM/Path?utm_source=x&b=2&a=1", "https://example.com/Path?a=1&b=2"},
		{"https://example.com/page#section", "https://example.com/page"},
		{"https://example.com/?gclid=abc&fbclid=def&ref=tw", "https://example.com/"},
		{"https://example.com/plain", "https://example.com/plain"},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractKeyphrases(t *testing.T) {
	phrases := ExtractKeyphrases("the rust borrow checker and the rust compiler")
	if len(phrases) == 0 {
		t.Fatal("expected keyphrases")
	}
	joined := strings.Join(phrases, "|")
	if !strings.Contains(joined, "rust") {
		t.Errorf("expected rust among keyphrases: %v", phrases)
	}
	for _, p := range phrases {
		if p == "the" || p == "and" {
			t.Errorf("stopword leaked into keyphrases: %v", phrases)
		}
	}
}

func TestKeyphraseOverlap(t *testing.T) {
	phrases := []string{"rust compiler", "borrow checker"}
	if got := KeyphraseOverlap(phrases, "The Rust compiler enforces the borrow checker."); got != 1.0 {
		t.Errorf("full overlap = %v, want 1.0", got)
	}
	if got := KeyphraseOverlap(phrases, "unrelated text"); got != 0 {
		t.Errorf("zero overlap = %v, want 0", got)
	}
	if got := KeyphraseOverlap(nil, "anything"); got != 0 {
		t.Errorf("no phrases = %v, want 0", got)
	}
}

func TestRun_Disabled_NoFetches(t *testing.T) {
	fetcher := &stubFetcher{}
	searcher := &stubSearcher{}
	p := New(searcher, fetcher, nil, nil, Config{}, slog.Default())

	res := p.Run(context.Background(), Request{Prompt: "about https://example.com/a", Enabled: false})
	if res.Enabled {
		t.Error("result must be marked disabled")
	}
	if fetcher.callCount() != 0 {
		t.Errorf("disabled shortlist must not fetch, got %d calls", fetcher.callCount())
	}
	if len(searcher.queries) != 0 {
		t.Error("disabled shortlist must not search")
	}
	// Seeds are still parsed so callers can report them.
	if len(res.SeedURLs) != 1 {
		t.Errorf("seeds must still parse: %v", res.SeedURLs)
	}
}

func TestRun_SeedAndSearchSelection(t *testing.T) {
	longBody := strings.Repeat("database replication consistency guarantees ", 30)
	fetcher := &stubFetcher{docs: map[string]*fetch.Document{
		"https://seed.example/post":   doc("https://seed.example/post", "Seed Post", longBody),
		"https://blog.example/rep":    doc("https://blog.example/rep", "Replication Deep Dive", longBody),
		"https://other.example/cats":  doc("https://other.example/cats", "Cats", strings.Repeat("cats and more cats ", 40)),
		"https://thin.example/login":  doc("https://thin.example/login", "Login", "sign in"),
	}}
	searcher := &stubSearcher{results: map[string][]search.Result{
		"database replication consistency": {
			{Title: "Replication Deep Dive", URL: "https://blog.example/rep", Snippet: "replication"},
			{Title: "Cats", URL: "https://other.example/cats"},
			{Title: "Login", URL: "https://thin.example/login"},
		},
	}}
	p := New(searcher, fetcher, nil, nil, Config{MaxFetchURLs: 10, SelectTopK: 2}, slog.Default())

	res := p.Run(context.Background(), Request{
		Prompt:  "database replication consistency https://seed.example/post",
		Queries: []string{"database replication consistency"},
		Enabled: true,
	})

	if len(res.Candidates) != 2 {
		t.Fatalf("expected 2 selected, got %d: %+v", len(res.Candidates), res.Candidates)
	}
	// Seed boost plus overlap puts the seed first; relevant search result second.
	if res.Candidates[0].URL != "https://seed.example/post" {
		t.Errorf("expected seed first, got %q", res.Candidates[0].URL)
	}
	if res.Candidates[1].URL != "https://blog.example/rep" {
		t.Errorf("expected relevant result second, got %q", res.Candidates[1].URL)
	}
	if res.Candidates[0].Rank != 1 || res.Candidates[1].Rank != 2 {
		t.Error("ranks must be assigned in order")
	}

	if len(res.SeedDocuments) != 1 || res.SeedDocuments[0].Error != "" {
		t.Errorf("seed document missing or failed: %+v", res.SeedDocuments)
	}
	if !res.DirectAnswerReady {
		t.Error("single small fetched seed must be direct-answer ready")
	}
}

func TestRun_SeedFetchFailure(t *testing.T) {
	fetcher := &stubFetcher{errs: map[string]error{
		"https://down.example/page": fmt.Errorf("connection refused"),
	}}
	p := New(nil, fetcher, nil, nil, Config{}, slog.Default())

	res := p.Run(context.Background(), Request{
		Prompt:  "check https://down.example/page",
		Enabled: true,
	})
	if len(res.SeedDocuments) != 1 {
		t.Fatalf("failed seed must still be reported: %+v", res.SeedDocuments)
	}
	if res.SeedDocuments[0].Error == "" {
		t.Error("seed document must carry the fetch error")
	}
	if res.DirectAnswerReady {
		t.Error("failed seed cannot be direct-answer ready")
	}
	if len(res.Warnings) == 0 {
		t.Error("fetch failure must produce a warning")
	}
}

func TestRun_DirectAnswerBudget(t *testing.T) {
	big := strings.Repeat("x", 500)
	fetcher := &stubFetcher{docs: map[string]*fetch.Document{
		"https://seed.example/big": doc("https://seed.example/big", "Big", big),
	}}
	p := New(nil, fetcher, nil, nil, Config{SeedBudgetChars: 100}, slog.Default())

	res := p.Run(context.Background(), Request{Prompt: "https://seed.example/big", Enabled: true})
	if res.DirectAnswerReady {
		t.Error("seed over budget must not be direct-answer ready")
	}
}

func TestRun_FetchCapRespectsSeeds(t *testing.T) {
	docs := map[string]*fetch.Document{
		"https://seed.example/a": doc("https://seed.example/a", "A", strings.Repeat("a ", 300)),
	}
	var results []search.Result
	for i := 0; i < 8; i++ {
		u := fmt.Sprintf("https://r%d.example/p", i)
		docs[u] = doc(u, "R", strings.Repeat("r ", 300))
		results = append(results, search.Result{Title: "R", URL: u})
	}
	fetcher := &stubFetcher{docs: docs}
	searcher := &stubSearcher{results: map[string][]search.Result{"topic": results}}
	p := New(searcher, fetcher, nil, nil, Config{MaxFetchURLs: 3, SelectTopK: 10}, slog.Default())

	res := p.Run(context.Background(), Request{
		Prompt:  "topic https://seed.example/a",
		Queries: []string{"topic"},
		Enabled: true,
	})
	if fetcher.callCount() != 3 {
		t.Errorf("expected 3 fetches under cap, got %d", fetcher.callCount())
	}
	if res.Stats.Metrics["fetched"] != 3 {
		t.Errorf("fetched metric = %d, want 3", res.Stats.Metrics["fetched"])
	}
	// The seed occupies one slot and is always fetched.
	if len(res.SeedDocuments) != 1 || res.SeedDocuments[0].Error != "" {
		t.Errorf("seed must be fetched within cap: %+v", res.SeedDocuments)
	}
}

func TestRun_StoreBackedFetchReuse(t *testing.T) {
	st, err := store.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	fetcher := &stubFetcher{docs: map[string]*fetch.Document{
		"https://ex.com/a": doc("https://ex.com/a", "A", strings.Repeat("alpha topic ", 50)),
		"https://ex.com/b": doc("https://ex.com/b", "B", strings.Repeat("beta topic ", 50)),
	}}
	p := New(nil, fetcher, nil, st, Config{MaxFetchURLs: 5}, slog.Default())

	req := Request{Prompt: "Summarize https://ex.com/a and https://ex.com/b", Enabled: true}
	p.Run(context.Background(), req)
	if fetcher.callCount() != 2 {
		t.Fatalf("first run must fetch both seeds, got %d calls", fetcher.callCount())
	}

	res := p.Run(context.Background(), req)
	if fetcher.callCount() != 2 {
		t.Errorf("second run must serve both seeds from the store, got %d fetch calls", fetcher.callCount())
	}
	if got := res.Stats.Metrics["cache_hits"]; got != 2 {
		t.Errorf("cache_hits = %d, want 2", got)
	}
	if len(res.SeedDocuments) != 2 {
		t.Fatalf("expected 2 seed documents, got %d", len(res.SeedDocuments))
	}
	for _, sd := range res.SeedDocuments {
		if sd.Error != "" || sd.Chars == 0 {
			t.Errorf("cached seed must deliver content: %+v", sd)
		}
	}

	// Later stages of the turn read the same entries instead of refetching.
	entry, err := st.Lookup(context.Background(), "https://ex.com/a")
	if err != nil {
		t.Fatalf("pipeline must persist fetched documents: %v", err)
	}
	if entry.Title != "A" || !strings.Contains(entry.Content, "alpha topic") {
		t.Errorf("stored entry diverged from the fetch: %+v", entry)
	}
}

func TestRun_SearchDedupAcrossQueries(t *testing.T) {
	body := strings.Repeat("shared topic content ", 40)
	fetcher := &stubFetcher{docs: map[string]*fetch.Document{
		"https://dup.example/page": doc("https://dup.example/page", "Dup", body),
	}}
	searcher := &stubSearcher{results: map[string][]search.Result{
		"q1": {{Title: "Dup", URL: "https://dup.example/page?utm_source=one"}},
		"q2": {{Title: "Dup", URL: "https://dup.example/page?utm_source=two"}},
	}}
	// Both variants normalize to the same URL; fetch uses the raw URL of the
	// first occurrence.
	fetcher.docs["https://dup.example/page?utm_source=one"] = doc("https://dup.example/page", "Dup", body)

	p := New(searcher, fetcher, nil, nil, Config{MaxFetchURLs: 5, SelectTopK: 5}, slog.Default())
	res := p.Run(context.Background(), Request{
		Prompt:  "shared topic",
		Queries: []string{"q1", "q2"},
		Enabled: true,
	})
	if got := res.Stats.Metrics["candidates"]; got != 1 {
		t.Errorf("tracking-key variants must dedupe to one candidate, got %d", got)
	}
	if len(searcher.queries) != 2 {
		t.Errorf("both queries must dispatch: %v", searcher.queries)
	}
}

func TestClipContent_NeverSplitsRunes(t *testing.T) {
	multibyte := strings.Repeat("çok uzun içerik ", 20)
	for max := 1; max < 40; max++ {
		out := clipContent(multibyte, max)
		if len(out) > max {
			t.Fatalf("clipContent(%d) produced %d bytes", max, len(out))
		}
		if !utf8.ValidString(out) {
			t.Fatalf("clipContent(%d) split a rune: %q", max, out)
		}
	}
}

func TestEnablement(t *testing.T) {
	on, off := true, false
	tests := []struct {
		name string
		e    Enablement
		want bool
	}{
		{"lean wins", Enablement{Lean: true, Request: &on, GlobalResearch: true}, false},
		{"request on", Enablement{Request: &on}, true},
		{"request off beats model", Enablement{Request: &off, Model: &on}, false},
		{"model on", Enablement{Model: &on}, true},
		{"research global", Enablement{ResearchMode: true, GlobalResearch: true}, true},
		{"standard global off", Enablement{GlobalStandard: false}, false},
		{"standard global on", Enablement{GlobalStandard: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.e.Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderBlocks(t *testing.T) {
	res := &Result{
		Candidates: []Candidate{
			{Rank: 1, Title: "First", NormalizedURL: "https://a.example/x", Content: "body text", Date: "2026-01-02"},
		},
		SeedDocuments: []SeedDocument{
			{URL: "https://seed.example/ok", Title: "OK", Content: "seed body", Chars: 9},
			{URL: "https://seed.example/bad", Error: "timeout"},
		},
	}

	ctxBlock := res.ContextBlock()
	if !strings.Contains(ctxBlock, "First") || !strings.Contains(ctxBlock, "https://a.example/x") {
		t.Errorf("context block missing candidate: %q", ctxBlock)
	}

	seedBlock := res.SeedStatusBlock()
	if !strings.Contains(seedBlock, "delivered (9 chars)") {
		t.Errorf("seed block missing delivery status: %q", seedBlock)
	}
	if !strings.Contains(seedBlock, "FAILED (timeout)") {
		t.Errorf("seed block missing failure: %q", seedBlock)
	}
	if !strings.Contains(seedBlock, "seed body") {
		t.Errorf("seed block missing content: %q", seedBlock)
	}

	empty := &Result{}
	if empty.ContextBlock() != "" || empty.SeedStatusBlock() != "" {
		t.Error("empty result must render empty blocks")
	}
}
