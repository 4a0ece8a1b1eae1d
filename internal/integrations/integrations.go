// Package integrations runs the named side effects listed in a step's
// integration manifest.
package integrations

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/floridafirst/sopflow/pkg/schema"
)

// Kind distinguishes third-party (external) from in-house (internal) integrations.
type Kind string

const (
	KindExternal Kind = "external"
	KindInternal Kind = "internal"
)

// Adapter runs named integrations. A returned error fails the calling step.
type Adapter interface {
	RunExternal(ctx context.Context, name string, payload map[string]any) error
	RunInternal(ctx context.Context, name string, payload map[string]any) error
}

// Handler performs one integration.
type Handler interface {
	Run(ctx context.Context, payload map[string]any) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload map[string]any) error

// Run calls f.
func (f HandlerFunc) Run(ctx context.Context, payload map[string]any) error { return f(ctx, payload) }

// Registry is an Adapter backed by registered handlers. Unknown names are
// logged and treated as successful no-ops.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[Kind]map[string]Handler
}

// NewRegistry creates an empty Registry. A nil logger discards output.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		logger: logger,
		handlers: map[Kind]map[string]Handler{
			KindExternal: {},
			KindInternal: {},
		},
	}
}

// Register adds a handler. Re-registering a name replaces the previous handler.
func (r *Registry) Register(kind Kind, name string, h Handler) error {
	if name == "" || h == nil {
		return schema.NewError(schema.ErrCodeValidation, "integration name and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.handlers[kind]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown integration kind %q", kind)
	}
	m[name] = h
	return nil
}

// Names returns the registered names of one kind.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers[kind]))
	for n := range r.handlers[kind] {
		names = append(names, n)
	}
	return names
}

// RunExternal runs an external integration.
func (r *Registry) RunExternal(ctx context.Context, name string, payload map[string]any) error {
	return r.run(ctx, KindExternal, name, payload)
}

// RunInternal runs an internal integration.
func (r *Registry) RunInternal(ctx context.Context, name string, payload map[string]any) error {
	return r.run(ctx, KindInternal, name, payload)
}

func (r *Registry) run(ctx context.Context, kind Kind, name string, payload map[string]any) error {
	r.mu.RLock()
	h, ok := r.handlers[kind][name]
	r.mu.RUnlock()

	if !ok {
		r.logger.InfoContext(ctx, "unknown integration, skipping", "kind", string(kind), "integration", name)
		return nil
	}

	r.logger.DebugContext(ctx, "running integration", "kind", string(kind), "integration", name)
	if err := h.Run(ctx, payload); err != nil {
		if schema.CodeOf(err) != "" {
			return err
		}
		return schema.NewErrorf(schema.ErrCodeIntegration, "%s integration %q failed: %s", kind, name, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"integration": name, "kind": string(kind)})
	}
	return nil
}

var _ Adapter = (*Registry)(nil)
