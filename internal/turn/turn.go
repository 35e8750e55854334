// Package turn coordinates everything around one external request: history
// and session resolution, the preload pipeline, prompt assembly, tool
// gating, the engine run, and persistence.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evrenesat/asky/internal/config"
	"github.com/evrenesat/asky/internal/corpus"
	"github.com/evrenesat/asky/internal/embed"
	"github.com/evrenesat/asky/internal/engine"
	"github.com/evrenesat/asky/internal/fetch"
	"github.com/evrenesat/asky/internal/hooks"
	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/shortlist"
	"github.com/evrenesat/asky/internal/store"
	"github.com/evrenesat/asky/internal/summarize"
	"github.com/evrenesat/asky/internal/tools"
	"github.com/evrenesat/asky/internal/usage"
	"github.com/evrenesat/asky/internal/vector"
	"github.com/evrenesat/asky/internal/workers"
)

// TurnRequest carries one external request into the orchestrator.
type TurnRequest struct {
	Query string

	// HistorySelectors is a comma-separated selector string; see
	// parseSelectors for the accepted forms.
	HistorySelectors string

	// Session directives; at most one should be set.
	SessionName    string
	ResumeSelector string
	ShellSessionID string

	ModelAlias string

	Lean     bool
	Research bool
	// ResearchSet records whether the research flag was given explicitly;
	// without it, non-web source modes imply research.
	ResearchSet bool

	ElephantMode  bool
	ReplaceCorpus bool
	NoSave        bool

	CorpusPaths      []string
	MaxTurnsOverride int

	// ShortlistOverride is the per-request shortlist switch; nil defers to
	// model and global configuration.
	ShortlistOverride *bool

	// DisabledTools adds tool names to whatever gating computes.
	DisabledTools []string

	// AdditionalContext is caller-supplied source material.
	AdditionalContext string
}

// TurnResult is everything a caller may want to show or persist.
type TurnResult struct {
	Answer     string
	Messages   []llm.Message
	ModelAlias string
	SessionID  int64

	Halted     bool
	HaltReason string

	// Research reports the mode the turn actually ran in, after source-mode
	// implication is applied.
	Research bool

	Notices []string
	Preload *PreloadResolution

	MainUsage    usage.Totals
	SummaryUsage usage.Totals
}

// Deps carries the orchestrator's collaborators. Providers is keyed by the
// provider names from the LLM config.
type Deps struct {
	Store     *store.Store
	Providers map[string]llm.Provider

	Embedder embed.Embedder
	Vector   *vector.Index
	Fetcher  fetch.Fetcher
	Searcher tools.Searcher
	Corpus   *corpus.Manager

	Shortlist *shortlist.Pipeline
	Expander  QueryExpander

	Summarizer *summarize.Summarizer
	Pool       *workers.Pool
	Hooks      *hooks.Registry
	Logger     *slog.Logger

	// Status receives human-readable progress lines. Optional.
	Status func(string)
}

// Orchestrator runs turns. One orchestrator serves the whole process; all
// per-turn state lives on the stack of Run.
type Orchestrator struct {
	cfg     *config.Config
	deps    Deps
	preload *PreloadPipeline
	logger  *slog.Logger

	// extractor serves evidence and memory extraction side calls.
	extractor      llm.Provider
	extractorModel string

	// now is swapped in tests to pin the sticky window.
	now func() time.Time
}

// New wires an orchestrator. The preload pipeline is assembled here from
// the dependency set.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Hooks == nil {
		deps.Hooks = hooks.NewRegistry(deps.Logger)
	}

	var extractor llm.Provider
	var extractorModel string
	if mc, ok := cfg.LLM.ModelByAlias(summaryModelAlias(cfg)); ok {
		extractor = deps.Providers[mc.Provider]
		extractorModel = mc.ID
	}

	o := &Orchestrator{
		cfg:            cfg,
		deps:           deps,
		logger:         deps.Logger.With("component", "turn"),
		extractor:      extractor,
		extractorModel: extractorModel,
		now:            time.Now,
	}
	o.preload = NewPreloadPipeline(deps.Vector, deps.Corpus, deps.Shortlist,
		deps.Expander, extractor, extractorModel, cfg, deps.Logger)
	o.preload.Status = deps.Status
	return o
}

// summaryModelAlias picks the alias used for summarization and extraction
// side calls.
func summaryModelAlias(cfg *config.Config) string {
	if cfg.Summarize.Model != "" {
		return cfg.Summarize.Model
	}
	return cfg.LLM.DefaultModel
}

// Run executes one turn end to end. User errors (bad selectors, unknown
// model alias) come back as errors; session and corpus conditions with a
// known halt reason come back as a halted result with a nil error.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	turnID := uuid.NewString()
	mainTracker := usage.NewTracker(usage.ScopeMain)
	summaryTracker := usage.NewTracker(usage.ScopeSummary)

	result := &TurnResult{}

	// Step 1: history selectors.
	selectorIDs, err := parseSelectors(ctx, o.deps.Store, req.HistorySelectors)
	if err != nil {
		return nil, err
	}

	// Step 2: session resolution.
	sess, halt, err := o.resolveSession(ctx, &req)
	if err != nil {
		return nil, err
	}
	if halt != "" {
		return o.halted(result, halt), nil
	}
	if err := o.applySessionOverrides(ctx, sess, &req); err != nil {
		return nil, err
	}
	if sess != nil {
		result.SessionID = sess.ID
	}
	if strings.TrimSpace(req.Query) == "" {
		if sess != nil {
			// A pure session command: the switch happened, nothing to ask.
			return o.halted(result, HaltSessionCommandOnly), nil
		}
		return nil, fmt.Errorf("empty query")
	}

	// Model resolution; the session's alias wins over the default, the
	// request's over both.
	alias := req.ModelAlias
	if alias == "" && sess != nil && sess.ModelAlias != "" {
		alias = sess.ModelAlias
	}
	if alias == "" {
		alias = o.cfg.LLM.DefaultModel
	}
	provider, mc, err := o.providerFor(alias)
	if err != nil {
		return nil, err
	}
	result.ModelAlias = alias

	// Step 3: global memory trigger.
	query, globalMemory := stripTrigger(strings.TrimSpace(req.Query), o.cfg.Memory.TriggerPhrases)

	research := req.Research
	if !req.ResearchSet && o.cfg.Corpus.SourceMode != config.SourceModeWeb {
		research = true
	}
	result.Research = research

	// Step 4: preload, bracketed by its hooks.
	event := &hooks.Event{
		Hook:   hooks.PrePreload,
		TurnID: turnID,
		Query:  query,
		Values: map[string]any{},
	}
	if sess != nil {
		event.SessionID = sess.ID
	}
	if err := o.deps.Hooks.Invoke(ctx, hooks.PrePreload, event); err != nil {
		o.logger.Warn("pre-preload hook failed", "error", err)
	}
	query = event.Query

	pre, err := o.runPreload(ctx, &req, sess, query, research)
	result.Preload = pre
	if pre != nil {
		result.Notices = append(result.Notices, pre.Warnings...)
	}
	if err != nil {
		// Step 5: corpus guards.
		switch {
		case errors.Is(err, corpus.ErrMissing):
			return o.halted(result, HaltCorpusMissing), nil
		case errors.Is(err, corpus.ErrIngestFailed):
			return o.halted(result, HaltCorpusIngestionFailed), nil
		}
		return nil, err
	}

	event.Hook = hooks.PostPreload
	if err := o.deps.Hooks.Invoke(ctx, hooks.PostPreload, event); err != nil {
		o.logger.Warn("post-preload hook failed", "error", err)
	}

	// Step 6: message construction.
	messages, err := o.buildMessages(ctx, &req, sess, selectorIDs, pre, query, summaryTracker)
	if err != nil {
		return nil, err
	}

	// Step 7: disabled-tool resolution and registry assembly.
	set := o.toolSet(sess, research)
	registry := set.Registry(o.disabledTools(set, &req, pre, research))

	// Step 8: engine invocation.
	maxTurns := o.cfg.Engine.MaxTurns
	if sess != nil && sess.MaxTurns > 0 {
		maxTurns = sess.MaxTurns
	}
	if req.MaxTurnsOverride > 0 {
		maxTurns = req.MaxTurnsOverride
	}
	maxTokens := mc.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.cfg.Engine.MaxTokens
	}

	eng := engine.New(provider, registry, o.deps.Summarizer, mainTracker, engine.Config{
		Model:             mc.ID,
		MaxTurns:          maxTurns,
		MaxTokens:         maxTokens,
		Temperature:       o.cfg.Engine.Temperature,
		ContextTokens:     mc.ContextTokens,
		CompactFraction:   o.cfg.Engine.CompactFraction,
		CompactKeepRecent: o.cfg.Engine.CompactKeepRecent,
	}, o.deps.Logger)

	answer, outMessages, err := eng.Run(ctx, messages)
	result.Messages = outMessages
	result.MainUsage = mainTracker.Snapshot()
	result.SummaryUsage = summaryTracker.Snapshot()
	if err != nil {
		return result, err
	}
	result.Answer = answer

	// Step 9: persistence and background extraction.
	if answer != "" && !req.NoSave {
		if err := o.persist(ctx, sess, alias, req.Query, answer, outMessages, mc, summaryTracker); err != nil {
			o.logger.Error("failed to persist turn", "error", err)
			result.Notices = append(result.Notices, fmt.Sprintf("history not saved: %v", err))
		}
		o.scheduleMemoryExtraction(sess, query, answer, globalMemory, req.ElephantMode)
	}

	// Step 10: completion hook.
	event.Hook = hooks.TurnCompleted
	event.Answer = answer
	if err := o.deps.Hooks.Invoke(ctx, hooks.TurnCompleted, event); err != nil {
		o.logger.Warn("turn-completed hook failed", "error", err)
	}

	result.MainUsage = mainTracker.Snapshot()
	result.SummaryUsage = summaryTracker.Snapshot()
	return result, nil
}

func (o *Orchestrator) halted(result *TurnResult, reason string) *TurnResult {
	result.Halted = true
	result.HaltReason = reason
	o.logger.Info("turn halted", "reason", reason)
	return result
}

func (o *Orchestrator) providerFor(alias string) (llm.Provider, config.ModelConfig, error) {
	mc, ok := o.cfg.LLM.ModelByAlias(alias)
	if !ok {
		return nil, config.ModelConfig{}, fmt.Errorf("unknown model alias %q", alias)
	}
	provider, ok := o.deps.Providers[mc.Provider]
	if !ok || provider == nil {
		return nil, config.ModelConfig{}, fmt.Errorf("no provider configured for model alias %q", alias)
	}
	return provider, mc, nil
}

func (o *Orchestrator) runPreload(ctx context.Context, req *TurnRequest, sess *store.Session, query string, research bool) (*PreloadResolution, error) {
	var sessionID int64
	if sess != nil {
		sessionID = sess.ID
	}

	corpusRequested := len(req.CorpusPaths) > 0 || req.ReplaceCorpus ||
		o.cfg.Corpus.SourceMode != config.SourceModeWeb

	enabled := shortlist.Enablement{
		Lean:           req.Lean,
		Request:        req.ShortlistOverride,
		ResearchMode:   research,
		GlobalStandard: *o.cfg.Shortlist.EnabledStandard,
		GlobalResearch: *o.cfg.Shortlist.EnabledResearch,
	}

	return o.preload.Run(ctx, PreloadRequest{
		Query:             query,
		Research:          research,
		Lean:              req.Lean,
		SessionID:         sessionID,
		CorpusPaths:       req.CorpusPaths,
		CorpusRequested:   corpusRequested,
		ShortlistEnabled:  enabled.Enabled(),
		AdditionalContext: req.AdditionalContext,
	})
}

// toolSet builds the per-turn executor set bound to the resolved session.
func (o *Orchestrator) toolSet(sess *store.Session, research bool) *tools.Set {
	var sessionID int64
	if sess != nil {
		sessionID = sess.ID
	}
	sourceMode := o.cfg.Corpus.SourceMode
	if !research {
		sourceMode = config.SourceModeWeb
	}
	return tools.NewSet(tools.Deps{
		Store:       o.deps.Store,
		Fetcher:     o.deps.Fetcher,
		Searcher:    o.deps.Searcher,
		Embedder:    o.deps.Embedder,
		Vector:      o.deps.Vector,
		Summarizer:  o.deps.Summarizer,
		Corpus:      o.deps.Corpus,
		Pool:        o.deps.Pool,
		Logger:      o.deps.Logger,
		CacheTTL:    o.cfg.Cache.TTL,
		MaxResults:  o.cfg.Search.MaxResults,
		DefaultTopK: o.cfg.Vector.DefaultTopK,
		DenseWeight: o.cfg.Vector.DenseWeight,
		SourceMode:  sourceMode,
		SessionID:   sessionID,
		Status:      o.deps.Status,
	})
}

// disabledTools computes the turn's disabled set: lean kills everything,
// direct-answer standard turns lose the discovery trio, a preloaded corpus
// loses the acquisition tools, and the request may add more.
func (o *Orchestrator) disabledTools(set *tools.Set, req *TurnRequest, pre *PreloadResolution, research bool) map[string]bool {
	disabled := map[string]bool{}

	if req.Lean {
		for _, name := range set.Names() {
			disabled[name] = true
		}
		return disabled
	}

	if !research && pre != nil && pre.DirectAnswerReady {
		for _, name := range tools.DiscoveryToolNames {
			disabled[name] = true
		}
		o.logger.Debug("direct-answer mode: discovery tools disabled")
	}
	if pre != nil && len(pre.PreloadedURLs) > 0 {
		for _, name := range tools.AcquisitionToolNames {
			disabled[name] = true
		}
	}
	for _, name := range req.DisabledTools {
		disabled[name] = true
	}
	return disabled
}

// persist writes the turn into the session log or the bare history, then
// compacts the session when its estimated size crosses the context budget.
func (o *Orchestrator) persist(ctx context.Context, sess *store.Session, alias, query, answer string, outMessages []llm.Message, mc config.ModelConfig, sumTracker *usage.Tracker) error {
	if sess == nil {
		_, _, err := o.deps.Store.SaveInteraction(ctx, query, answer, alias, "", "")
		return err
	}

	if _, err := o.deps.Store.SaveMessage(ctx, store.StoredMessage{
		SessionID: sess.ID,
		Role:      llm.RoleUser,
		Content:   query,
		Model:     alias,
	}); err != nil {
		return err
	}
	for _, msg := range turnTail(outMessages) {
		row := store.StoredMessage{
			SessionID:  sess.ID,
			Role:       msg.Role,
			Content:    msg.Content,
			Model:      alias,
			ToolCallID: msg.ToolCallID,
		}
		if len(msg.ToolCalls) > 0 {
			if encoded, err := json.Marshal(msg.ToolCalls); err == nil {
				row.ToolCalls = string(encoded)
			}
		}
		if _, err := o.deps.Store.SaveMessage(ctx, row); err != nil {
			return err
		}
	}

	return o.compactIfNeeded(ctx, sess, mc, sumTracker)
}

// turnTail returns the messages produced during this turn: everything after
// the final user message (the annotated query).
func turnTail(messages []llm.Message) []llm.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i+1:]
		}
	}
	return nil
}

// compactIfNeeded collapses a session into its summary once the estimated
// token count crosses the compaction fraction of the model's context.
func (o *Orchestrator) compactIfNeeded(ctx context.Context, sess *store.Session, mc config.ModelConfig, sumTracker *usage.Tracker) error {
	if mc.ContextTokens <= 0 || o.deps.Summarizer == nil {
		return nil
	}
	rows, err := o.deps.Store.SessionMessages(ctx, sess.ID)
	if err != nil {
		return err
	}

	var estimate int
	for _, row := range rows {
		estimate += llm.EstimateTokens(row.Content)
	}
	budget := int(float64(mc.ContextTokens) * o.cfg.Engine.CompactFraction)
	if estimate <= budget {
		return nil
	}

	keep := o.cfg.Engine.CompactKeepRecent
	if keep >= len(rows) {
		return nil
	}
	var transcript strings.Builder
	if sess.CompactSummary != "" {
		transcript.WriteString("Earlier summary: ")
		transcript.WriteString(sess.CompactSummary)
		transcript.WriteString("\n")
	}
	for _, row := range rows[:len(rows)-keep] {
		if row.Content == "" {
			continue
		}
		transcript.WriteString(row.Role)
		transcript.WriteString(": ")
		transcript.WriteString(row.Content)
		transcript.WriteString("\n")
	}

	summary, err := o.deps.Summarizer.Summarize(ctx, transcript.String(), "",
		o.cfg.Summarize.MaxOutputChars, summarize.Options{Tracker: sumTracker})
	if err != nil {
		return fmt.Errorf("session compaction: %w", err)
	}
	uptoID := rows[len(rows)-keep-1].ID
	if err := o.deps.Store.CompactSession(ctx, sess.ID, summary, uptoID); err != nil {
		return err
	}
	o.logger.Info("compacted session", "session", sess.ID, "estimated_tokens", estimate)
	return nil
}
