package turn

import (
	"context"
	"strings"
	"testing"

	"github.com/evrenesat/asky/internal/config"
	"github.com/evrenesat/asky/internal/llm"
)

func TestTokenExpander(t *testing.T) {
	queries, err := tokenExpander{}.Expand(context.Background(),
		"how does garbage collection work in the go runtime", 3)
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if len(queries) < 2 || len(queries) > 3 {
		t.Fatalf("expected 2..3 queries, got %v", queries)
	}
	if queries[0] != "how does garbage collection work in the go runtime" {
		t.Errorf("original query must come first, got %q", queries[0])
	}
	for _, q := range queries[1:] {
		if q == "" || strings.EqualFold(q, queries[0]) {
			t.Errorf("variant must differ from the original: %q", q)
		}
	}
}

func TestTokenExpander_NoKeyphrases(t *testing.T) {
	queries, err := tokenExpander{}.Expand(context.Background(), "a an of", 3)
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if len(queries) != 1 {
		t.Errorf("stopword-only query must stay alone, got %v", queries)
	}
}

func TestLLMExpander(t *testing.T) {
	mock := &llm.MockProvider{Responses: []*llm.Response{
		llm.TextResponse("go scheduler design\n- goroutine preemption details\n3. runtime GC pacing"),
	}}
	e := &llmExpander{provider: mock, model: "m"}

	queries, err := e.Expand(context.Background(), "how does the go runtime work", 3)
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if len(queries) != 3 {
		t.Fatalf("expected cap at 3, got %v", queries)
	}
	if queries[0] != "how does the go runtime work" {
		t.Errorf("original first, got %q", queries[0])
	}
	if queries[1] != "go scheduler design" || queries[2] != "goroutine preemption details" {
		t.Errorf("lines must be cleaned of bullets and numbering: %v", queries)
	}
}

func TestLLMExpander_ProviderError(t *testing.T) {
	mock := &llm.MockProvider{}
	e := &llmExpander{provider: mock, model: "m"}
	if _, err := e.Expand(context.Background(), "q", 3); err == nil {
		t.Error("provider failure must surface as an error")
	}
}

func TestNewExpander_Modes(t *testing.T) {
	if NewExpander(config.ExpansionOff, nil, "") != nil {
		t.Error("off mode must return nil")
	}
	if _, ok := NewExpander(config.ExpansionTokens, nil, "").(tokenExpander); !ok {
		t.Error("tokens mode must return the token expander")
	}
	if _, ok := NewExpander(config.ExpansionLLM, &llm.MockProvider{}, "m").(*llmExpander); !ok {
		t.Error("llm mode with a provider must return the llm expander")
	}
	if _, ok := NewExpander(config.ExpansionLLM, nil, "").(tokenExpander); !ok {
		t.Error("llm mode without a provider must fall back to tokens")
	}
}

func TestStripTrigger(t *testing.T) {
	phrases := []string{"remember this:", "remember:"}
	tests := []struct {
		in      string
		want    string
		matched bool
	}{
		{"Remember this: I prefer tabs", "I prefer tabs", true},
		{"REMEMBER: short form", "short form", true},
		{"please remember this later", "please remember this later", false},
		{"no trigger here", "no trigger here", false},
	}
	for _, tt := range tests {
		got, matched := stripTrigger(tt.in, phrases)
		if got != tt.want || matched != tt.matched {
			t.Errorf("stripTrigger(%q) = %q, %v; want %q, %v", tt.in, got, matched, tt.want, tt.matched)
		}
	}
}

func TestJoinNonEmpty(t *testing.T) {
	if got := joinNonEmpty("\n\n", "a", "", "  ", "b"); got != "a\n\nb" {
		t.Errorf("joinNonEmpty = %q", got)
	}
	if got := joinNonEmpty("\n\n", "", ""); got != "" {
		t.Errorf("all-empty join = %q", got)
	}
}
