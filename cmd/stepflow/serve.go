package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	stepflowmcp "github.com/avandres/stepflow/pkg/mcp"
)

// runServe exposes the engine over MCP on stdio so agent hosts can run
// workflows, inspect sessions, and replay state.
func runServe(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	memory := fs.Bool("memory", false, "use an in-memory store instead of libSQL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDeps(ctx, cfg, logger, *memory)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := stepflowmcp.NewServer(stepflowmcp.ServerDeps{
		EngineDeps: deps,
		Logger:     logger,
	})

	logger.Info("mcp server listening on stdio")
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
