package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/evrenesat/asky/internal/config"
	"github.com/evrenesat/asky/internal/corpus"
	"github.com/evrenesat/asky/internal/embed"
	"github.com/evrenesat/asky/internal/fetch"
	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/search"
	"github.com/evrenesat/asky/internal/store"
	"github.com/evrenesat/asky/internal/summarize"
	"github.com/evrenesat/asky/internal/vector"
	"github.com/evrenesat/asky/internal/workers"
)

// AcquisitionToolNames are disabled when the corpus was already preloaded,
// forcing the model to reuse prefetched content instead of acquiring more.
var AcquisitionToolNames = []string{"extract_links", "get_link_summaries", "get_full_content"}

// LocalCorpusOnlyResearchTools register only when the research source mode
// includes the local corpus.
var LocalCorpusOnlyResearchTools = []string{"list_sections", "summarize_section"}

// DiscoveryToolNames are disabled for one turn when seed URLs already
// delivered everything the answer needs.
var DiscoveryToolNames = []string{"web_search", "get_url_content", "get_url_details"}

// Searcher dispatches one web search.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]search.Result, error)
}

// Deps carries every collaborator the tool executors touch. SessionID is
// the current turn's session (0 when history-only); it seeds the default
// scope for findings and memories.
type Deps struct {
	Store      *store.Store
	Fetcher    fetch.Fetcher
	Searcher   Searcher
	Embedder   embed.Embedder
	Vector     *vector.Index
	Summarizer *summarize.Summarizer
	Corpus     *corpus.Manager
	Pool       *workers.Pool
	Logger     *slog.Logger

	CacheTTL    time.Duration
	MaxResults  int
	DefaultTopK int
	DenseWeight float64
	SourceMode  string
	SessionID   int64

	// Status receives one line per significant tool step. Optional.
	Status func(string)
}

// Set is the executor collection for one turn. The orchestrator builds a
// registry from it minus the turn's disabled names.
type Set struct {
	deps   Deps
	logger *slog.Logger
}

type definition struct {
	spec llm.ToolSpec
	exec Executor
}

// NewSet binds the tool executors to their collaborators.
func NewSet(deps Deps) *Set {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = 7 * 24 * time.Hour
	}
	if deps.MaxResults <= 0 {
		deps.MaxResults = 8
	}
	if deps.DefaultTopK <= 0 {
		deps.DefaultTopK = 8
	}
	if deps.DenseWeight <= 0 {
		deps.DenseWeight = 0.7
	}
	if deps.SourceMode == "" {
		deps.SourceMode = config.SourceModeWeb
	}
	return &Set{deps: deps, logger: deps.Logger.With("component", "tools")}
}

func (s *Set) localCorpusEnabled() bool {
	return s.deps.SourceMode == config.SourceModeMixed || s.deps.SourceMode == config.SourceModeLocalOnly
}

func (s *Set) definitions() []definition {
	defs := []definition{
		s.webSearchTool(),
		s.getURLContentTool(),
		s.getURLDetailsTool(),
		s.extractLinksTool(),
		s.getLinkSummariesTool(),
		s.getRelevantContentTool(),
		s.getFullContentTool(),
	}
	if s.localCorpusEnabled() {
		defs = append(defs, s.listSectionsTool(), s.summarizeSectionTool())
	}
	defs = append(defs,
		s.saveFindingTool(),
		s.queryResearchMemoryTool(),
		s.saveMemoryTool(),
	)
	return defs
}

// Names lists every tool this turn could register, honoring the source
// mode gate. Lean turns disable exactly this set.
func (s *Set) Names() []string {
	defs := s.definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.spec.Name
	}
	return names
}

// Registry builds a registry of all tools minus the disabled names.
func (s *Set) Registry(disabled map[string]bool) *Registry {
	reg := NewRegistry(s.logger)
	for _, d := range s.definitions() {
		if disabled[d.spec.Name] {
			continue
		}
		reg.Register(d.spec, d.exec)
	}
	return reg
}

func (s *Set) status(line string) {
	if s.deps.Status != nil {
		s.deps.Status(line)
	}
}
