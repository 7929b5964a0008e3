package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
)

func runReplay(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	sessionID := fs.String("session", "", "session ID to replay (required)")
	step := fs.String("step", "", "step name to replay to (default: latest state)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		fs.Usage()
		return fmt.Errorf("-session is required")
	}

	ctx := context.Background()
	deps, cleanup, err := buildDeps(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := deps.Store.Replay(ctx, *sessionID, *step)
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"state":   st,
		"context": st.ContextValues(),
	})
}

func runSessions(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := buildDeps(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer cleanup()

	ids, err := deps.Store.Sessions(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
