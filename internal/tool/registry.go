package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/avandres/stepflow/pkg/schema"
)

// Registry is a thread-safe tool catalog.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Returns an error on duplicate name.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	name := t.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", name)
	}

	r.tools[name] = t
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeToolUnavailable, "tool %q not registered", name)
	}
	return t, nil
}

// List returns info for all registered tools, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, Info{
			Name:        t.Name(),
			Description: t.Spec().Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// RegisterNamespace bulk-registers tools under a prefixed namespace. Each
// tool name becomes "prefix.originalName" (e.g. "github.create_issue").
func (r *Registry) RegisterNamespace(prefix string, tools []Tool) (int, error) {
	if prefix == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "namespace prefix is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := 0
	for _, t := range tools {
		prefixed := fmt.Sprintf("%s.%s", prefix, t.Name())
		if _, exists := r.tools[prefixed]; exists {
			return registered, schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", prefixed)
		}
		r.tools[prefixed] = &prefixedTool{inner: t, name: prefixed}
		registered++
	}
	return registered, nil
}

// Has checks if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// prefixedTool wraps a namespaced tool with its prefixed name.
type prefixedTool struct {
	inner Tool
	name  string
}

func (p *prefixedTool) Name() string { return p.name }
func (p *prefixedTool) Spec() Spec   { return p.inner.Spec() }

func (p *prefixedTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	return p.inner.Execute(ctx, params)
}
