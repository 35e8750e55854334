package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileConfig controls the local backend.
type FileConfig struct {
	// Roots are the directories files may be read from. Empty means any
	// absolute path the process can read.
	Roots        []string
	MaxFileBytes int64
}

// FileFetcher reads local files into the shared Document shape for corpus
// ingestion. Filesystem paths stay internal; callers expose corpus handles
// instead.
type FileFetcher struct {
	cfg    FileConfig
	logger *slog.Logger
}

// NewFile creates the local backend.
func NewFile(cfg FileConfig, logger *slog.Logger) *FileFetcher {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 4 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileFetcher{cfg: cfg, logger: logger.With("component", "fetch")}
}

// Fetch reads one file. The URL argument is a filesystem path.
func (f *FileFetcher) Fetch(ctx context.Context, path string, opts Options) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("fetch: resolving path: %w", err)
	}
	if err := f.checkRoot(abs); err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("fetch: %s is a directory", path)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading file: %w", err)
	}

	doc := &Document{
		URL:       abs,
		FinalURL:  abs,
		FetchedAt: time.Now().UTC(),
		Date:      info.ModTime().UTC().Format("2006-01-02"),
	}
	if int64(len(data)) > f.cfg.MaxFileBytes {
		data = data[:f.cfg.MaxFileBytes]
		doc.Warning = "content truncated at size limit"
	}

	content := string(data)
	doc.Content = strings.TrimSpace(content)
	doc.Title = fileTitle(abs, content)
	return doc, nil
}

func (f *FileFetcher) checkRoot(abs string) error {
	if len(f.cfg.Roots) == 0 {
		return nil
	}
	for _, root := range f.cfg.Roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return nil
		}
	}
	return fmt.Errorf("fetch: path %s is outside permitted roots", abs)
}

// fileTitle prefers the first markdown heading, falling back to the
// filename without extension.
func fileTitle(path, content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "# "))
		}
		if line != "" {
			break
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
