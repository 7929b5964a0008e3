package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/avandres/stepflow/internal/diagram"
	"github.com/avandres/stepflow/internal/state"
)

// runGraph renders a workflow definition as a diagram, optionally overlaying
// a session's recorded step outcomes.
func runGraph(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	file := fs.String("f", "", "workflow definition JSON file (required)")
	sessionID := fs.String("session", "", "session whose step outcomes to overlay")
	format := fs.String("format", "ascii", "output format: ascii or mermaid")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		fs.Usage()
		return fmt.Errorf("-f is required")
	}

	def, err := loadDefinition(*file)
	if err != nil {
		return err
	}

	var st *state.WorkflowState
	if *sessionID != "" {
		ctx := context.Background()
		deps, cleanup, err := buildDeps(ctx, cfg, logger, false)
		if err != nil {
			return err
		}
		defer cleanup()
		if st, err = deps.Store.LoadState(ctx, *sessionID); err != nil {
			return err
		}
	}

	model := diagram.Build(def, st)
	switch *format {
	case "ascii":
		fmt.Fprint(os.Stdout, diagram.RenderASCII(model))
	case "mermaid":
		fmt.Fprint(os.Stdout, diagram.RenderMermaid(model))
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	return nil
}
