package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/evrenesat/asky/internal/fetch"
	"github.com/evrenesat/asky/internal/store"
)

// Ingestion failure modes. Callers map these onto turn halt reasons.
var (
	// ErrMissing: no ingestable files were found at the requested paths.
	ErrMissing = errors.New("corpus: no local corpus files found")
	// ErrIngestFailed: files were found but none could be ingested.
	ErrIngestFailed = errors.New("corpus: local corpus ingestion failed")
)

// Extensions ingested when walking a directory. Explicitly named files are
// read regardless of extension.
var textExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".text":     true,
	".rst":      true,
}

// Config sizes local ingestion.
type Config struct {
	// Paths are the default corpus locations, used when a turn names none.
	Paths []string

	// ChunkChars and OverlapChars shape the chunk windows stored for each
	// document.
	ChunkChars   int
	OverlapChars int

	// TTL for ingested entries. Local documents are long-lived; content
	// changes are detected by hash on re-ingestion.
	TTL time.Duration

	MaxFileBytes int64
}

// Doc is one ingested document, addressed by its corpus handle.
type Doc struct {
	Handle   string    `json:"handle"`
	CacheID  int64     `json:"-"`
	Title    string    `json:"title"`
	Chars    int       `json:"chars"`
	Sections []Section `json:"sections,omitempty"`
	Warning  string    `json:"warning,omitempty"`
}

// Report is the outcome of one ingestion pass.
type Report struct {
	Docs []Doc
	// Warnings are per-file problems that did not stop the pass.
	Warnings []string
}

// Manager ingests local files into the content store and resolves corpus
// handles back to cached entries. Filesystem paths never leave this
// package; everything outward is a handle.
type Manager struct {
	store  *store.Store
	files  *fetch.FileFetcher
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a corpus manager.
func NewManager(st *store.Store, files *fetch.FileFetcher, cfg Config, logger *slog.Logger) *Manager {
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = 1600
	}
	if cfg.OverlapChars <= 0 {
		cfg.OverlapChars = 200
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, files: files, cfg: cfg, logger: logger.With("component", "corpus")}
}

// Ingest reads the given paths into the content store and returns corpus
// handles for them. Empty paths fall back to the configured defaults.
// Directories are walked for text files; named files are read as-is.
// Individual failures become warnings; a pass that ingests nothing fails
// with ErrMissing or ErrIngestFailed.
func (m *Manager) Ingest(ctx context.Context, paths []string) (*Report, error) {
	if len(paths) == 0 {
		paths = m.cfg.Paths
	}
	if len(paths) == 0 {
		return nil, ErrMissing
	}

	report := &Report{}
	files := m.collectFiles(paths, report)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissing, strings.Join(paths, ", "))
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := m.ingestFile(ctx, path)
		if err != nil {
			m.logger.Warn("corpus file skipped", "path", path, "error", err)
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			continue
		}
		report.Docs = append(report.Docs, *doc)
	}

	if len(report.Docs) == 0 {
		return nil, fmt.Errorf("%w: %d file(s), none ingested", ErrIngestFailed, len(files))
	}
	m.logger.Info("corpus ingested", "files", len(files), "documents", len(report.Docs), "warnings", len(report.Warnings))
	return report, nil
}

// collectFiles expands paths into a sorted, deduplicated file list.
func (m *Manager) collectFiles(paths []string, report *Report) []string {
	seen := make(map[string]bool)
	var files []string

	add := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil || seen[abs] {
			return
		}
		seen[abs] = true
		files = append(files, abs)
	}

	for _, path := range paths {
		if strings.HasPrefix(path, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				path = filepath.Join(home, strings.TrimPrefix(path, "~"))
			}
		}
		info, err := os.Stat(path)
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && p != path {
					return filepath.SkipDir
				}
				return nil
			}
			if textExtensions[strings.ToLower(filepath.Ext(p))] {
				add(p)
			}
			return nil
		})
		if walkErr != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", path, walkErr))
		}
	}

	sort.Strings(files)
	return files
}

func (m *Manager) ingestFile(ctx context.Context, path string) (*Doc, error) {
	fetched, err := m.files.Fetch(ctx, path, fetch.Options{})
	if err != nil {
		return nil, err
	}
	if fetched.Content == "" {
		return nil, fmt.Errorf("empty file")
	}

	cacheID, changed, err := m.store.Put(ctx, store.PutDocument{
		URL:     fetched.URL,
		Content: fetched.Content,
		Title:   fetched.Title,
		TTL:     m.cfg.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("caching: %w", err)
	}

	if changed {
		pieces := SplitText(fetched.Content, m.cfg.ChunkChars, m.cfg.OverlapChars)
		chunks := make([]store.Chunk, len(pieces))
		for i, text := range pieces {
			chunks[i] = store.Chunk{CacheID: cacheID, Index: i, Text: text}
		}
		if err := m.store.ReplaceChunks(ctx, cacheID, chunks); err != nil {
			return nil, fmt.Errorf("chunking: %w", err)
		}
	}

	return &Doc{
		Handle:   FormatHandle(cacheID),
		CacheID:  cacheID,
		Title:    fetched.Title,
		Chars:    len(fetched.Content),
		Sections: DetectSections(fetched.Content),
		Warning:  fetched.Warning,
	}, nil
}

// Resolve maps a corpus handle to its cache entry.
func (m *Manager) Resolve(ctx context.Context, rawURL string) (*store.CacheEntry, Handle, error) {
	handle, err := ParseHandle(rawURL)
	if err != nil {
		return nil, Handle{}, err
	}
	entry, err := m.store.LookupByID(ctx, handle.CacheID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, handle, fmt.Errorf("corpus: no document for handle %s", rawURL)
		}
		return nil, handle, err
	}
	return entry, handle, nil
}

// ResolveSection resolves a handle and extracts one section's text. A
// handle without a fragment takes the selector argument instead; with
// neither, the whole document is returned against a synthetic section.
func (m *Manager) ResolveSection(ctx context.Context, rawURL, selector string) (*store.CacheEntry, Section, string, error) {
	entry, handle, err := m.Resolve(ctx, rawURL)
	if err != nil {
		return nil, Section{}, "", err
	}

	if handle.SectionID != "" {
		selector = handle.SectionID
	}
	sections := DetectSections(entry.Content)
	if selector == "" {
		whole := Section{ID: 0, Ref: "document", Title: entry.Title, Start: 0, End: len(entry.Content)}
		return entry, whole, entry.Content, nil
	}

	section, err := MatchSection(sections, selector)
	if err != nil {
		return nil, Section{}, "", err
	}
	return entry, section, SectionText(entry.Content, section), nil
}
