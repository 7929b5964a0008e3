package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/avandres/stepflow/internal/logging"
)

const usage = `stepflow - step-based workflow engine

Usage:
  stepflow run -f workflow.json [-session ID] [-input k=v ...] [-memory] [-watch]
  stepflow replay -session ID [-step NAME]
  stepflow sessions
  stepflow graph -f workflow.json [-session ID] [-format ascii|mermaid]
  stepflow schedule -f workflow.json -cron EXPR [-addr :4600] [-input k=v ...]
  stepflow serve
  stepflow panel [-addr :4600]
  stepflow version

Commands:
  run       Execute a workflow definition and print the final context
  replay    Reconstruct a session's state as of a completed step
  sessions  List known session IDs
  graph     Render a workflow definition as a diagram
  schedule  Run a workflow on a cron schedule until interrupted
  serve     Expose the engine as an MCP server on stdio
  panel     Serve the read-only HTTP panel with SSE event streams
  version   Print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	var err error
	switch os.Args[1] {
	case "run":
		err = runRun(cfg, logger, os.Args[2:])
	case "replay":
		err = runReplay(cfg, logger, os.Args[2:])
	case "sessions":
		err = runSessions(cfg, logger, os.Args[2:])
	case "graph":
		err = runGraph(cfg, logger, os.Args[2:])
	case "schedule":
		err = runSchedule(cfg, logger, os.Args[2:])
	case "serve":
		err = runServe(cfg, logger, os.Args[2:])
	case "panel":
		err = runPanel(cfg, logger, os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
