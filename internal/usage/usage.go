// Package usage provides per-turn token and wall-time accounting.
package usage

import (
	"fmt"
	"sync"
	"time"
)

// Usage holds token counts for one or more completion calls.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Total returns the combined token count.
func (u *Usage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// Scope names for the two trackers a turn owns.
const (
	ScopeMain    = "main"
	ScopeSummary = "summary"
)

// Tracker accumulates token usage, call counts, and wall time for one model
// scope within a turn. Counters are monotonic; a Tracker is never shared
// across turns. Safe for concurrent use (background summarization records
// into the summary tracker while the main loop runs).
type Tracker struct {
	mu    sync.Mutex
	scope string
	usage Usage
	calls int
	wall  time.Duration
}

// NewTracker creates a tracker for the given scope (ScopeMain or
// ScopeSummary).
func NewTracker(scope string) *Tracker {
	return &Tracker{scope: scope}
}

// Scope returns the scope this tracker was created for.
func (t *Tracker) Scope() string {
	return t.scope
}

// Record adds one completion call's tokens and elapsed wall time.
func (t *Tracker) Record(promptTokens, completionTokens int, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.PromptTokens += int64(promptTokens)
	t.usage.CompletionTokens += int64(completionTokens)
	t.calls++
	t.wall += elapsed
}

// Snapshot returns the current totals.
func (t *Tracker) Snapshot() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Totals{
		Scope:    t.scope,
		Usage:    t.usage,
		Calls:    t.calls,
		WallTime: t.wall,
	}
}

// Totals is a point-in-time copy of a tracker's counters.
type Totals struct {
	Scope    string        `json:"scope"`
	Usage    Usage         `json:"usage"`
	Calls    int           `json:"calls"`
	WallTime time.Duration `json:"wall_time"`
}

// String renders totals for log lines and the CLI summary footer.
func (t Totals) String() string {
	return fmt.Sprintf("%s: %s tokens (%s in, %s out), %d calls, %s",
		t.Scope,
		FormatTokenCount(t.Usage.Total()),
		FormatTokenCount(t.Usage.PromptTokens),
		FormatTokenCount(t.Usage.CompletionTokens),
		t.Calls,
		FormatDurationMs(t.WallTime.Milliseconds()))
}

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}
