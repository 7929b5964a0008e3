package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avandres/stepflow/internal/panel"
)

// runPanel serves the read-only HTTP panel: session listings, state,
// replay, and SSE event streams.
func runPanel(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("panel", flag.ExitOnError)
	addr := fs.String("addr", ":4600", "listen address")
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

	srv := &http.Server{
		Addr: *addr,
		Handler: panel.NewServer(panel.Deps{
			Store:  deps.Store,
			Hub:    deps.Hub,
			Tools:  deps.Tools,
			Logger: logger,
		}).Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("panel listening", "addr", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
