// Package tools holds the research tool set and the per-turn registry the
// conversation engine dispatches against. Every tool returns a JSON-shaped
// payload; multi-URL tools return a map keyed by URL where each value is
// either the tool's success shape or {"error": "..."}.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/evrenesat/asky/internal/llm"
)

// Executor runs one tool call. The args map has already been validated
// against the tool's parameter schema.
type Executor func(ctx context.Context, args map[string]any) (any, error)

// ErrorPayload is the uniform failure shape for tool results.
type ErrorPayload struct {
	Error string `json:"error"`
}

type entry struct {
	spec   llm.ToolSpec
	exec   Executor
	schema *jsonschema.Schema
}

// Registry maps tool names to their spec and executor. Registration order
// is preserved for spec and guideline listing; duplicate names overwrite in
// place.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "tools"),
	}
}

// Register adds a tool. The spec's parameter schema is compiled once here;
// an invalid schema is a programming error and panics at startup.
func (r *Registry) Register(spec llm.ToolSpec, exec Executor) {
	schema := compileSchema(spec.Name, spec.Parameters)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[spec.Name]; !exists {
		r.order = append(r.order, spec.Name)
	}
	r.entries[spec.Name] = &entry{spec: spec, exec: exec, schema: schema}
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Specs returns the tool specs for an LLM request, in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.entries[name].spec)
	}
	return specs
}

// Guidelines returns the non-empty guideline lines in registration order.
func (r *Registry) Guidelines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var lines []string
	for _, name := range r.order {
		if g := strings.TrimSpace(r.entries[name].spec.Guideline); g != "" {
			lines = append(lines, g)
		}
	}
	return lines
}

// Dispatch validates the arguments against the tool's schema and runs its
// executor. Every failure mode, including executor panics, comes back as a
// payload the model can read; Dispatch itself never fails.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) any {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorPayload{Error: fmt.Sprintf("unknown tool %q", name)}
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return ErrorPayload{Error: fmt.Sprintf("invalid tool arguments: %v", err)}
	}
	if e.schema != nil {
		if err := e.schema.Validate(decoded); err != nil {
			return ErrorPayload{Error: fmt.Sprintf("arguments do not match the %s schema: %v", name, err)}
		}
	}
	argMap, ok := decoded.(map[string]any)
	if !ok {
		return ErrorPayload{Error: "tool arguments must be a JSON object"}
	}

	return r.call(ctx, name, e, argMap)
}

func (r *Registry) call(ctx context.Context, name string, e *entry, args map[string]any) (result any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			result = ErrorPayload{Error: fmt.Sprintf("tool %s failed: %v", name, rec)}
		}
	}()

	out, err := e.exec(ctx, args)
	if err != nil {
		r.logger.Warn("tool failed", "tool", name, "error", err)
		return ErrorPayload{Error: err.Error()}
	}
	return out
}

func compileSchema(name string, raw json.RawMessage) *jsonschema.Schema {
	if len(raw) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		panic(fmt.Sprintf("tools: bad schema for %s: %v", name, err))
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("tools: bad schema for %s: %v", name, err))
	}
	return schema
}
