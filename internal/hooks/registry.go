package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry holds handler registrations and dispatches events.
type Registry struct {
	handlers map[Hook][]*Registration
	byID     map[string]*Registration
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[Hook][]*Registration),
		byID:     make(map[string]*Registration),
		logger:   logger.With("component", "hooks"),
	}
}

// RegisterOption configures a registration.
type RegisterOption func(*Registration)

// WithPriority sets the invoke-order priority. Chain handlers ignore it;
// they run in registration order.
func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) { r.Priority = p }
}

// WithName labels the handler for logs.
func WithName(name string) RegisterOption {
	return func(r *Registration) { r.Name = name }
}

// WithSource records where the handler came from (plugin name and the like).
func WithSource(source string) RegisterOption {
	return func(r *Registration) { r.Source = source }
}

// Register adds an invoke-form handler. Returns the registration id.
func (r *Registry) Register(hook Hook, handler Handler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:       uuid.New().String(),
		Hook:     hook,
		Priority: PriorityNormal,
		handler:  handler,
	}
	for _, opt := range opts {
		opt(reg)
	}
	return r.add(reg)
}

// RegisterChain adds a chain-form handler. Returns the registration id.
func (r *Registry) RegisterChain(hook Hook, handler ChainHandler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:       uuid.New().String(),
		Hook:     hook,
		Priority: PriorityNormal,
		chain:    handler,
	}
	for _, opt := range opts {
		opt(reg)
	}
	return r.add(reg)
}

func (r *Registry) add(reg *Registration) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[reg.Hook] = append(r.handlers[reg.Hook], reg)
	r.byID[reg.ID] = reg

	// Stable sort keeps registration order within equal priorities, which
	// is what chain dispatch relies on.
	sort.SliceStable(r.handlers[reg.Hook], func(i, j int) bool {
		return r.handlers[reg.Hook][i].Priority < r.handlers[reg.Hook][j].Priority
	})

	r.logger.Debug("registered hook handler",
		"id", reg.ID, "hook", reg.Hook, "name", reg.Name, "priority", reg.Priority)
	return reg.ID
}

// Unregister removes a handler by registration id.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)

	regs := r.handlers[reg.Hook]
	for i, h := range regs {
		if h.ID == id {
			r.handlers[reg.Hook] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	return true
}

// HandlerCount returns the number of handlers registered for a hook.
func (r *Registry) HandlerCount(hook Hook) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[hook])
}

// Invoke dispatches an invoke-form event. Handlers run synchronously in
// priority order; a failing or panicking handler is logged and skipped,
// never aborting the turn. The first error is returned for callers that
// care.
func (r *Registry) Invoke(ctx context.Context, hook Hook, event *Event) error {
	if event == nil {
		return fmt.Errorf("hooks: event is nil")
	}
	event.Hook = hook

	r.mu.RLock()
	regs := make([]*Registration, len(r.handlers[hook]))
	copy(regs, r.handlers[hook])
	r.mu.RUnlock()

	var firstErr error
	for _, reg := range regs {
		if reg.handler == nil {
			continue
		}
		if err := r.call(ctx, reg, event); err != nil {
			r.logger.Warn("hook handler error",
				"hook", hook, "handler_id", reg.ID, "handler_name", reg.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// InvokeChain threads value through the hook's chain handlers in
// registration order and returns the final value. A panicking handler is
// logged and its input passes through unchanged.
func (r *Registry) InvokeChain(ctx context.Context, hook Hook, value string) string {
	r.mu.RLock()
	regs := make([]*Registration, len(r.handlers[hook]))
	copy(regs, r.handlers[hook])
	r.mu.RUnlock()

	for _, reg := range regs {
		if reg.chain == nil {
			continue
		}
		value = r.callChain(ctx, reg, value)
	}
	return value
}

func (r *Registry) call(ctx context.Context, reg *Registration, event *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()
	return reg.handler(ctx, event)
}

func (r *Registry) callChain(ctx context.Context, reg *Registration, value string) (out string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("chain hook handler panicked",
				"hook", reg.Hook, "handler_id", reg.ID, "handler_name", reg.Name, "panic", p)
			out = value
		}
	}()
	return reg.chain(ctx, value)
}
