package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evrenesat/asky/internal/config"
	"github.com/evrenesat/asky/internal/corpus"
	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/shortlist"
	"github.com/evrenesat/asky/internal/vector"
)

// PreloadRequest is the input to one preload pipeline run. Queries start as
// the single user query and may grow through expansion.
type PreloadRequest struct {
	Query     string
	Research  bool
	Lean      bool
	SessionID int64

	// CorpusPaths override the configured corpus paths for this turn.
	CorpusPaths     []string
	CorpusRequested bool

	ShortlistEnabled bool

	// AdditionalContext is caller-supplied source material appended to the
	// combined context verbatim.
	AdditionalContext string
}

// PreloadResolution bundles everything the pipeline produced for the prompt
// builder and the tool-gating decision.
type PreloadResolution struct {
	MemoryContext string
	Queries       []string

	Corpus       *corpus.Report
	LocalContext string

	Shortlist        *shortlist.Result
	SeedContext      string
	ShortlistContext string

	EvidenceContext string

	// CombinedContext is the non-empty join of local, seed, shortlist,
	// evidence, and additional context, in that order.
	CombinedContext string

	// PreloadedURLs are sources already delivered into the prompt; the
	// orchestrator disables acquisition tools when any exist.
	PreloadedURLs     []string
	CorpusPreloaded   bool
	DirectAnswerReady bool

	TimingsMS map[string]int64
	Warnings  []string
}

// PreloadPipeline runs the up-to-five preload stages in order: memory
// recall, query expansion, local ingestion, shortlist, bootstrap evidence.
// Each stage can be absent; a nil collaborator skips its stage.
type PreloadPipeline struct {
	vector    *vector.Index
	corpus    *corpus.Manager
	shortlist *shortlist.Pipeline
	expander  QueryExpander

	// extractor powers the bootstrap-evidence stage.
	extractor      llm.Provider
	extractorModel string

	cfg    *config.Config
	logger *slog.Logger

	// Status receives one progress line per stage. Optional.
	Status func(string)
}

// NewPreloadPipeline wires the pipeline. Any collaborator may be nil.
func NewPreloadPipeline(ix *vector.Index, cm *corpus.Manager, sl *shortlist.Pipeline, expander QueryExpander, extractor llm.Provider, extractorModel string, cfg *config.Config, logger *slog.Logger) *PreloadPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &PreloadPipeline{
		vector:         ix,
		corpus:         cm,
		shortlist:      sl,
		expander:       expander,
		extractor:      extractor,
		extractorModel: extractorModel,
		cfg:            cfg,
		logger:         logger.With("component", "preload"),
	}
}

// Run executes the stages. Only local-corpus failures are returned as
// errors (the orchestrator maps them to halt reasons); everything else
// degrades into warnings.
func (p *PreloadPipeline) Run(ctx context.Context, req PreloadRequest) (*PreloadResolution, error) {
	res := &PreloadResolution{
		Queries:   []string{req.Query},
		TimingsMS: make(map[string]int64),
	}

	p.stage(res, "memory_recall", func() { p.recallMemories(ctx, req, res) })

	if req.Research && p.expander != nil {
		p.stage(res, "query_expansion", func() { p.expandQueries(ctx, req, res) })
	}

	if req.Research && req.CorpusRequested {
		var err error
		p.stage(res, "local_ingestion", func() { err = p.ingestCorpus(ctx, req, res) })
		if err != nil {
			return res, err
		}
	}

	if req.ShortlistEnabled && p.shortlist != nil && p.cfg.Corpus.SourceMode != config.SourceModeLocalOnly {
		p.stage(res, "shortlist", func() { p.runShortlist(ctx, req, res) })
	}

	if p.bootstrapNeeded(req, res) {
		p.stage(res, "bootstrap_evidence", func() { p.bootstrapEvidence(ctx, req, res) })
	}

	res.CombinedContext = joinNonEmpty("\n\n",
		res.LocalContext,
		res.SeedContext,
		res.ShortlistContext,
		res.EvidenceContext,
		req.AdditionalContext,
	)
	return res, nil
}

func (p *PreloadPipeline) stage(res *PreloadResolution, name string, fn func()) {
	start := time.Now()
	fn()
	res.TimingsMS[name] = time.Since(start).Milliseconds()
}

func (p *PreloadPipeline) status(line string) {
	if p.Status != nil {
		p.Status(line)
	}
}

func (p *PreloadPipeline) recallMemories(ctx context.Context, req PreloadRequest, res *PreloadResolution) {
	if !p.cfg.Memory.Enabled || req.Lean || p.vector == nil {
		return
	}
	hits, err := p.vector.SearchMemories(ctx, req.Query,
		p.cfg.Memory.RecallTopK, req.SessionID, p.cfg.Memory.RecallMinScore)
	if err != nil {
		p.logger.Debug("memory recall skipped", "error", err)
		return
	}
	if len(hits) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("Known user context:\n")
	for _, h := range hits {
		b.WriteString("- ")
		b.WriteString(h.Memory.Content)
		b.WriteString("\n")
	}
	res.MemoryContext = strings.TrimRight(b.String(), "\n")
	p.status(fmt.Sprintf("recalled %d memories", len(hits)))
}

func (p *PreloadPipeline) expandQueries(ctx context.Context, req PreloadRequest, res *PreloadResolution) {
	queries, err := p.expander.Expand(ctx, req.Query, p.cfg.Shortlist.MaxExpandedQueries)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("query expansion failed: %v", err))
		p.logger.Warn("query expansion failed", "error", err)
		return
	}
	if len(queries) > 0 {
		res.Queries = queries
	}
	if len(queries) > 1 {
		p.status(fmt.Sprintf("expanded into %d search queries", len(queries)))
	}
}

// ingestCorpus runs local ingestion and renders the corpus block. The
// sentinel errors from the manager pass through for halt mapping.
func (p *PreloadPipeline) ingestCorpus(ctx context.Context, req PreloadRequest, res *PreloadResolution) error {
	if p.corpus == nil {
		return corpus.ErrMissing
	}
	report, err := p.corpus.Ingest(ctx, req.CorpusPaths)
	if err != nil {
		return err
	}

	res.Corpus = report
	res.Warnings = append(res.Warnings, report.Warnings...)
	res.CorpusPreloaded = len(report.Docs) > 0

	var b strings.Builder
	b.WriteString("## Local corpus\n")
	b.WriteString("The following local documents are available through their handles:\n")
	for _, doc := range report.Docs {
		fmt.Fprintf(&b, "- %s: %s (%d chars, %d sections)\n",
			doc.Handle, doc.Title, doc.Chars, len(doc.Sections))
		res.PreloadedURLs = append(res.PreloadedURLs, doc.Handle)
	}
	res.LocalContext = strings.TrimRight(b.String(), "\n")
	p.status(fmt.Sprintf("ingested %d local documents", len(report.Docs)))
	return nil
}

func (p *PreloadPipeline) runShortlist(ctx context.Context, req PreloadRequest, res *PreloadResolution) {
	queries := res.Queries
	result := p.shortlist.Run(ctx, shortlist.Request{
		Prompt:  req.Query,
		Queries: queries,
		Enabled: true,
	})

	res.Shortlist = result
	res.Warnings = append(res.Warnings, result.Warnings...)
	res.DirectAnswerReady = result.DirectAnswerReady

	if len(result.SeedDocuments) > 0 {
		res.SeedContext = result.SeedStatusBlock()
	}
	if len(result.Candidates) > 0 {
		res.ShortlistContext = result.ContextBlock()
		res.PreloadedURLs = append(res.PreloadedURLs, result.SelectedURLs()...)
	}
}

func (p *PreloadPipeline) bootstrapNeeded(req PreloadRequest, res *PreloadResolution) bool {
	if !req.Research || !res.CorpusPreloaded || p.vector == nil {
		return false
	}
	selected := 0
	if res.Shortlist != nil {
		selected = len(res.Shortlist.Candidates)
	}
	return selected < p.cfg.Shortlist.BootstrapMinSelected
}

const evidencePrompt = `Extract the factual statements relevant to the question from the
excerpts below. Output one fact per line prefixed with "- ". Skip anything
not supported by the excerpts. Output nothing else.

Question: %s

Excerpts:
%s`

// bootstrapEvidence runs one hybrid retrieval pass over every preloaded
// document and distills the top chunks into evidence facts.
func (p *PreloadPipeline) bootstrapEvidence(ctx context.Context, req PreloadRequest, res *PreloadResolution) {
	var excerpts []string
	for _, doc := range res.Corpus.Docs {
		hits, err := p.vector.SearchChunksHybrid(ctx, doc.CacheID, req.Query,
			p.cfg.Vector.DefaultTopK, p.cfg.Vector.DenseWeight, 0)
		if err != nil {
			p.logger.Debug("bootstrap retrieval skipped", "handle", doc.Handle, "error", err)
			continue
		}
		for _, h := range hits {
			excerpts = append(excerpts, h.Text)
		}
	}
	if len(excerpts) == 0 {
		return
	}

	if p.extractor == nil || p.extractorModel == "" {
		return
	}
	resp, err := p.extractor.Complete(ctx, &llm.Request{
		Model: p.extractorModel,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(evidencePrompt, req.Query, strings.Join(excerpts, "\n---\n"))},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("evidence extraction failed: %v", err))
		return
	}

	facts := strings.TrimSpace(resp.Message.Content)
	if facts == "" {
		return
	}
	res.EvidenceContext = "## Evidence from preloaded sources\n" + facts
	p.status("extracted bootstrap evidence from the local corpus")
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
