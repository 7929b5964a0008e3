package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/avandres/stepflow/internal/engine"
	"github.com/avandres/stepflow/internal/expressions"
	"github.com/avandres/stepflow/internal/secrets"
	"github.com/avandres/stepflow/internal/state"
	"github.com/avandres/stepflow/internal/streaming"
	"github.com/avandres/stepflow/internal/tool"
	"github.com/avandres/stepflow/internal/tool/builtin"
	"github.com/avandres/stepflow/internal/validation"
)

// buildDeps wires the engine's collaborators: a state store (libSQL at the
// configured path, or in-memory with -memory), the builtin tool catalog plus
// any configured MCP tool sources, the secrets vault when a passphrase is
// configured, and the live event hub. The returned cleanup closes the
// sources and the store.
func buildDeps(ctx context.Context, cfg Config, logger *slog.Logger, memory bool) (engine.Deps, func(), error) {
	var deps engine.Deps

	repo, err := openRepository(ctx, cfg, memory)
	if err != nil {
		return deps, nil, err
	}

	store := state.NewStore(repo, state.Config{
		SnapshotInterval:    cfg.SnapshotInterval,
		CompactionThreshold: cfg.CompactionThreshold,
	}, logger)

	validator, err := validation.NewSchemaValidator()
	if err != nil {
		store.Close()
		return deps, nil, err
	}

	jq := expressions.NewGoJQEngine()
	reg := tool.NewRegistry()
	catalog := []tool.Tool{
		builtin.NewHTTPTool(nil),
		builtin.NewJQTool(jq),
	}
	catalog = append(catalog, builtin.CryptoTools()...)
	catalog = append(catalog, builtin.AssertTools()...)
	for _, t := range catalog {
		if err := reg.Register(t); err != nil {
			store.Close()
			return deps, nil, err
		}
	}

	sources := tool.NewSourceManager(reg, logger)
	for _, src := range cfg.Sources {
		if _, err := sources.Load(ctx, src); err != nil {
			sources.CloseAll()
			store.Close()
			return deps, nil, fmt.Errorf("load tool source %q: %w", src.Name, err)
		}
	}

	resolver, err := buildResolver(cfg, repo)
	if err != nil {
		sources.CloseAll()
		store.Close()
		return deps, nil, err
	}

	deps = engine.Deps{
		Tools:    tool.NewExecutor(reg, validator, nil, tool.Config{}, logger),
		Store:    store,
		Hub:      streaming.NewMemoryHub(),
		Resolver: resolver,
		JQ:       jq,
		Log:      logger,
	}
	cleanup := func() {
		sources.CloseAll()
		store.Close()
	}
	return deps, cleanup, nil
}

func openRepository(ctx context.Context, cfg Config, memory bool) (state.Repository, error) {
	if memory {
		return state.NewMemoryRepository(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return state.NewLibSQLRepository(ctx, "file:"+cfg.DBPath)
}

// buildResolver returns a template resolver backed by the AES vault when a
// passphrase is configured. Vault ciphertext lives in the same repository as
// session state when that repository supports it.
func buildResolver(cfg Config, repo state.Repository) (*expressions.Resolver, error) {
	if cfg.VaultPassphrase == "" {
		return expressions.NewResolver(nil), nil
	}

	secretStore, ok := repo.(secrets.SecretStore)
	if !ok {
		secretStore = secrets.NewMemoryStore()
	}
	vault, err := secrets.NewAESVault(secretStore, secrets.VaultConfig{
		Passphrase: cfg.VaultPassphrase,
		Salt:       []byte(cfg.VaultSalt),
	})
	if err != nil {
		return nil, err
	}
	return expressions.NewResolver(vault), nil
}
