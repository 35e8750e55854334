// Package hooks dispatches turn-lifecycle events to registered handlers.
// Two shapes exist: invoke (side effects on a mutable event) and chain
// (a string value threaded through handlers in registration order).
package hooks

import "context"

// Hook identifies a dispatch point in the turn lifecycle.
type Hook string

const (
	// PrePreload fires before the preload pipeline runs. Handlers may
	// rewrite the query or stash values for later hooks.
	PrePreload Hook = "pre_preload"
	// PostPreload fires after the preload pipeline, before the first
	// model call.
	PostPreload Hook = "post_preload"
	// TurnCompleted fires after the answer is produced and persisted.
	TurnCompleted Hook = "turn_completed"
	// SystemPromptExtend is a chain hook: each handler receives the
	// system prompt so far and returns the (possibly extended) text.
	SystemPromptExtend Hook = "system_prompt_extend"
)

// Event is the mutable payload passed to invoke-form handlers. Handlers
// run synchronously within the turn and may modify any field; later
// handlers and the orchestrator see the changes.
type Event struct {
	Hook      Hook
	TurnID    string
	SessionID int64
	Query     string
	Answer    string
	// Values carries handler-private state across hook points of one turn.
	Values map[string]any
}

// Handler reacts to an invoke-form hook.
type Handler func(ctx context.Context, event *Event) error

// ChainHandler transforms a value in a chain-form hook. Handlers run in
// registration order; each receives the previous handler's output.
type ChainHandler func(ctx context.Context, value string) string

// Priority orders invoke-form handlers. Lower runs first.
type Priority int

const (
	PriorityFirst  Priority = 0
	PriorityNormal Priority = 50
	PriorityLast   Priority = 100
)

// Registration describes one registered handler.
type Registration struct {
	ID       string
	Hook     Hook
	Name     string
	Source   string
	Priority Priority

	handler Handler
	chain   ChainHandler
}
