package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Turn outcomes and latencies by mode (chat, research)
//   - LLM request performance, token consumption and response times
//   - Tool execution patterns and latencies
//   - Content-cache hit rates and fetch outcomes
//   - Error rates categorized by type and component
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	start := time.Now()
//	// ... run turn ...
//	metrics.RecordTurn("research", "completed", time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter tracks turns by mode and outcome.
	// Labels: mode (chat|research), status (completed|halted|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds.
	// Labels: mode
	// Buckets: 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s, 300s
	TurnDuration *prometheus.HistogramVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// CacheLookupCounter tracks content-cache lookups.
	// Labels: outcome (hit|miss|stale)
	CacheLookupCounter *prometheus.CounterVec

	// FetchCounter counts document fetches.
	// Labels: backend (http|file), status (success|error)
	FetchCounter *prometheus.CounterVec

	// FetchDuration measures document fetch latency in seconds.
	// Labels: backend
	// Buckets: 0.05s, 0.1s, 0.5s, 1s, 2s, 5s, 10s, 20s
	FetchDuration *prometheus.HistogramVec

	// EmbeddingCounter counts embedding batch requests.
	// Labels: status (success|error)
	EmbeddingCounter *prometheus.CounterVec

	// BackgroundTaskCounter counts background pool tasks.
	// Labels: kind (summarize|embed_backfill|cleanup), status (success|error|dropped)
	BackgroundTaskCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (turn|engine|tool|store|fetch|search|embed|workers), error_type
	ErrorCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures database query latency.
	// Labels: operation (select|insert|update|delete), table
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts database queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. This should be called once at application startup.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers all metrics with the given registerer.
// Tests pass a fresh registry to avoid duplicate-registration panics.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asky_turns_total",
				Help: "Total number of turns by mode and status",
			},
			[]string{"mode", "status"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "asky_turn_duration_seconds",
				Help:    "End-to-end turn duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "asky_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asky_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asky_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asky_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "asky_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		CacheLookupCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asky_cache_lookups_total",
				Help: "Total number of content-cache lookups by outcome",
			},
			[]string{"outcome"},
		),

		FetchCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asky_fetches_total",
				Help: "Total number of document fetches by backend and status",
			},
			[]string{"backend", "status"},
		),

		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "asky_fetch_duration_seconds",
				Help:    "Duration of document fetches in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"backend"},
		),

		EmbeddingCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asky_embeddings_total",
				Help: "Total number of embedding batch requests by status",
			},
			[]string{"status"},
		),

		BackgroundTaskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asky_background_tasks_total",
				Help: "Total number of background tasks by kind and status",
			},
			[]string{"kind", "status"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asky_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		DatabaseQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "asky_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asky_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),
	}
}

// RecordTurn records the outcome and duration of a single user turn.
func (m *Metrics) RecordTurn(mode, status string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(mode, status).Inc()
	m.TurnDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("openai", "gpt-4o", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordCacheLookup records a content-cache lookup outcome: hit, miss, or
// stale (present but past its TTL).
func (m *Metrics) RecordCacheLookup(outcome string) {
	m.CacheLookupCounter.WithLabelValues(outcome).Inc()
}

// RecordFetch records a document fetch against the http or file backend.
func (m *Metrics) RecordFetch(backend, status string, durationSeconds float64) {
	m.FetchCounter.WithLabelValues(backend, status).Inc()
	m.FetchDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordEmbedding records an embedding batch request.
func (m *Metrics) RecordEmbedding(status string) {
	m.EmbeddingCounter.WithLabelValues(status).Inc()
}

// RecordBackgroundTask records a background pool task outcome.
func (m *Metrics) RecordBackgroundTask(kind, status string) {
	m.BackgroundTaskCounter.WithLabelValues(kind, status).Inc()
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("fetch", "timeout")
//	metrics.RecordError("store", "constraint")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordDatabaseQuery records metrics for a database query.
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
