package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/avandres/stepflow/internal/engine"
	"github.com/avandres/stepflow/internal/streaming"
	"github.com/avandres/stepflow/pkg/schema"
)

// inputFlags collects repeated -input k=v flags.
type inputFlags map[string]any

func (f inputFlags) String() string { return "" }

func (f inputFlags) Set(s string) error {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("input must be key=value, got %q", s)
	}
	// JSON values decode to their type; everything else stays a string.
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	f[key] = v
	return nil
}

func runRun(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("f", "", "workflow definition JSON file (required)")
	sessionID := fs.String("session", "", "session ID to run under (resumes existing state)")
	memory := fs.Bool("memory", false, "use an in-memory store instead of libSQL")
	watch := fs.Bool("watch", false, "print live events while the workflow runs")
	inputs := inputFlags{}
	fs.Var(inputs, "input", "workflow input as key=value (repeatable; values parsed as JSON when possible)")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDeps(ctx, cfg, logger, *memory)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := engine.Options{SessionID: *sessionID}
	if len(inputs) > 0 {
		opts.Inputs = inputs
	}
	eng, err := engine.New(def, deps, opts)
	if err != nil {
		return err
	}

	if *watch {
		stopWatch := watchEvents(ctx, deps.Hub, eng.SessionID())
		defer stopWatch()
	}

	final, err := eng.Execute(ctx, nil)
	if err != nil {
		return fmt.Errorf("session %s: %w", eng.SessionID(), err)
	}

	return printJSON(map[string]any{
		"session_id": eng.SessionID(),
		"workflow":   def.Name,
		"context":    final,
	})
}

func loadDefinition(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow file %s: %w", path, err)
	}
	return &def, nil
}

// watchEvents prints the session's live events to stderr until unsubscribed.
func watchEvents(ctx context.Context, hub streaming.EventHub, sessionID string) func() {
	events, unsubscribe, err := hub.Subscribe(ctx, streaming.EventFilter{SessionID: sessionID})
	if err != nil {
		return func() {}
	}
	go func() {
		for event := range events {
			if event.Step != "" {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", event.EventType, event.Step)
			} else {
				fmt.Fprintf(os.Stderr, "[%s]\n", event.EventType)
			}
		}
	}()
	return unsubscribe
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
