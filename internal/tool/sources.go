package tool

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/avandres/stepflow/pkg/schema"
)

// Source is an external provider of tools, registered under its own
// namespace. MCPSource is the stdio MCP implementation.
type Source interface {
	Name() string
	Register(reg *Registry) (int, error)
	Close() error
}

// SourceConfig describes how to launch one MCP tool source.
type SourceConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// SourceManager owns the lifecycle of external tool sources: it connects
// them, registers their tools into the shared registry, and closes them on
// shutdown.
type SourceManager struct {
	registry *Registry
	log      *slog.Logger

	mu      sync.Mutex
	sources map[string]Source

	// connect is swappable for tests; defaults to ConnectMCP.
	connect func(ctx context.Context, name, command string, args ...string) (Source, error)
}

// NewSourceManager creates a SourceManager over the given registry.
func NewSourceManager(registry *Registry, log *slog.Logger) *SourceManager {
	if log == nil {
		log = slog.Default()
	}
	return &SourceManager{
		registry: registry,
		log:      log,
		sources:  make(map[string]Source),
		connect: func(ctx context.Context, name, command string, args ...string) (Source, error) {
			return ConnectMCP(ctx, name, command, args...)
		},
	}
}

// Load connects the configured source and registers its tools. A source name
// can be loaded only once; reloading requires Unload first.
func (m *SourceManager) Load(ctx context.Context, cfg SourceConfig) (int, error) {
	if cfg.Name == "" || cfg.Command == "" {
		return 0, schema.NewError(schema.ErrCodeConfiguration, "source needs a name and a command")
	}

	m.mu.Lock()
	if _, exists := m.sources[cfg.Name]; exists {
		m.mu.Unlock()
		return 0, schema.NewErrorf(schema.ErrCodeConflict, "source %q already loaded", cfg.Name)
	}
	m.mu.Unlock()

	src, err := m.connect(ctx, cfg.Name, cfg.Command, cfg.Args...)
	if err != nil {
		return 0, err
	}

	count, err := src.Register(m.registry)
	if err != nil {
		_ = src.Close()
		return 0, err
	}

	m.mu.Lock()
	m.sources[cfg.Name] = src
	m.mu.Unlock()

	m.log.Info("tool source loaded", "source", cfg.Name, "tools", count)
	return count, nil
}

// Unload closes the named source. Its registered tools stay in the registry;
// calls to them fail once the source process is gone.
func (m *SourceManager) Unload(name string) error {
	m.mu.Lock()
	src, ok := m.sources[name]
	delete(m.sources, name)
	m.mu.Unlock()

	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "source %q not loaded", name)
	}
	m.log.Info("tool source unloaded", "source", name)
	return src.Close()
}

// Names lists the loaded source names, sorted.
func (m *SourceManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every loaded source, returning the last error seen.
func (m *SourceManager) CloseAll() error {
	m.mu.Lock()
	sources := make([]Source, 0, len(m.sources))
	for _, src := range m.sources {
		sources = append(sources, src)
	}
	m.sources = make(map[string]Source)
	m.mu.Unlock()

	var lastErr error
	for _, src := range sources {
		if err := src.Close(); err != nil {
			lastErr = err
			m.log.Warn("close tool source", "source", src.Name(), "error", err)
		}
	}
	return lastErr
}

var _ Source = (*MCPSource)(nil)
