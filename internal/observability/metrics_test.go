package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTurn(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(registry)

	m.RecordTurn("research", "completed", 12.5)
	m.RecordTurn("research", "completed", 3.2)
	m.RecordTurn("chat", "halted", 0.1)

	expected := `
		# HELP asky_turns_total Total number of turns by mode and status
		# TYPE asky_turns_total counter
		asky_turns_total{mode="chat",status="halted"} 1
		asky_turns_total{mode="research",status="completed"} 2
	`
	if err := testutil.CollectAndCompare(m.TurnCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected counter state: %v", err)
	}
}

func TestRecordLLMRequestTokens(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(registry)

	m.RecordLLMRequest("openai", "gpt-4o", "success", 1.2, 100, 40)
	m.RecordLLMRequest("openai", "gpt-4o", "success", 0.8, 50, 10)
	m.RecordLLMRequest("openai", "gpt-4o", "error", 0.1, 0, 0)

	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("openai", "gpt-4o", "prompt")); got != 150 {
		t.Errorf("prompt tokens = %v, want 150", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("openai", "gpt-4o", "completion")); got != 50 {
		t.Errorf("completion tokens = %v, want 50", got)
	}
	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("openai", "gpt-4o", "error")); got != 1 {
		t.Errorf("error requests = %v, want 1", got)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(registry)

	m.RecordCacheLookup("hit")
	m.RecordCacheLookup("hit")
	m.RecordCacheLookup("miss")
	m.RecordCacheLookup("stale")

	if got := testutil.ToFloat64(m.CacheLookupCounter.WithLabelValues("hit")); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CacheLookupCounter.WithLabelValues("stale")); got != 1 {
		t.Errorf("stale = %v, want 1", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(registry)

	m.RecordToolExecution("web_search", "success", 0.5)
	m.RecordToolExecution("web_search", "error", 0.1)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("web_search", "success")); got != 1 {
		t.Errorf("success executions = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(m.ToolExecutionDuration); count != 1 {
		t.Errorf("duration series = %d, want 1", count)
	}
}

func TestRecordBackgroundTask(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(registry)

	m.RecordBackgroundTask("summarize", "success")
	m.RecordBackgroundTask("summarize", "dropped")

	if got := testutil.ToFloat64(m.BackgroundTaskCounter.WithLabelValues("summarize", "dropped")); got != 1 {
		t.Errorf("dropped tasks = %v, want 1", got)
	}
}
