// Package corpus ingests local files into the content store and exposes
// them through opaque corpus:// handles, with markdown-aware section
// detection for the local-corpus research tools.
package corpus

import (
	"fmt"
	"strconv"
	"strings"
)

// HandlePrefix starts every corpus handle. Handles never reveal the
// underlying filesystem path.
const HandlePrefix = "corpus://cache/"

// Handle addresses a cached local document, optionally narrowed to one
// section.
type Handle struct {
	CacheID   int64
	SectionID string
}

// String renders the handle in its wire form.
func (h Handle) String() string {
	if h.SectionID != "" {
		return fmt.Sprintf("%s%d#section=%s", HandlePrefix, h.CacheID, h.SectionID)
	}
	return fmt.Sprintf("%s%d", HandlePrefix, h.CacheID)
}

// FormatHandle builds a plain handle for a cache id.
func FormatHandle(cacheID int64) string {
	return Handle{CacheID: cacheID}.String()
}

// IsHandle reports whether a URL-shaped string is a corpus handle.
func IsHandle(rawURL string) bool {
	return strings.HasPrefix(rawURL, HandlePrefix)
}

// ParseHandle parses a corpus handle. The fragment form
// corpus://cache/<id>#section=<sid> selects one section.
func ParseHandle(rawURL string) (Handle, error) {
	if !IsHandle(rawURL) {
		return Handle{}, fmt.Errorf("corpus: %q is not a corpus handle", rawURL)
	}

	rest := strings.TrimPrefix(rawURL, HandlePrefix)
	idPart := rest
	var section string
	if i := strings.Index(rest, "#"); i >= 0 {
		idPart = rest[:i]
		frag := rest[i+1:]
		if !strings.HasPrefix(frag, "section=") {
			return Handle{}, fmt.Errorf("corpus: unsupported fragment in %q", rawURL)
		}
		section = strings.TrimPrefix(frag, "section=")
		if section == "" {
			return Handle{}, fmt.Errorf("corpus: empty section id in %q", rawURL)
		}
	}

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return Handle{}, fmt.Errorf("corpus: invalid cache id in %q", rawURL)
	}
	return Handle{CacheID: id, SectionID: section}, nil
}

// IsLocalPath reports whether a tool-provided URL points at the local
// filesystem rather than the web. Non-corpus tools reject these.
func IsLocalPath(rawURL string) bool {
	if IsHandle(rawURL) {
		return true
	}
	if strings.HasPrefix(rawURL, "file://") {
		return true
	}
	if strings.HasPrefix(rawURL, "/") || strings.HasPrefix(rawURL, "./") || strings.HasPrefix(rawURL, "../") {
		return true
	}
	if strings.HasPrefix(rawURL, "~") {
		return true
	}
	return false
}
