package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avandres/stepflow/internal/engine"
	"github.com/avandres/stepflow/internal/panel"
	"github.com/avandres/stepflow/internal/scheduler"
	"github.com/avandres/stepflow/pkg/schema"
)

// engineRunner adapts the engine to the scheduler's Runner interface: every
// fire is a fresh engine invocation with its own session.
type engineRunner struct {
	deps engine.Deps
}

func (r engineRunner) RunWorkflow(ctx context.Context, def *schema.WorkflowDefinition, inputs map[string]any) (string, error) {
	eng, err := engine.New(def, r.deps, engine.Options{Inputs: inputs})
	if err != nil {
		return "", err
	}
	_, err = eng.Execute(ctx, nil)
	return eng.SessionID(), err
}

// runSchedule registers a workflow on a cron schedule and runs the
// scheduler in the foreground until interrupted. With -addr the panel is
// served alongside it, exposing the job listing at /api/jobs.
func runSchedule(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	file := fs.String("f", "", "workflow definition JSON file (required)")
	cronExpr := fs.String("cron", "", "cron expression, five fields (required)")
	interval := fs.Duration("interval", time.Minute, "scheduler poll interval")
	memory := fs.Bool("memory", false, "use an in-memory store instead of libSQL")
	addr := fs.String("addr", "", "also serve the panel at this address")
	inputs := inputFlags{}
	fs.Var(inputs, "input", "workflow input as key=value (repeatable; values parsed as JSON when possible)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" || *cronExpr == "" {
		fs.Usage()
		return fmt.Errorf("-f and -cron are required")
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

	sched := scheduler.New(engineRunner{deps: deps}, *interval, logger)
	job := &scheduler.Job{ID: def.Name, CronExpr: *cronExpr, Definition: def}
	if len(inputs) > 0 {
		job.Inputs = inputs
	}
	if err := sched.Add(job); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	logger.Info("workflow scheduled",
		"workflow", def.Name, "cron", *cronExpr, "next_run", job.NextRunAt)

	if *addr == "" {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr: *addr,
		Handler: panel.NewServer(panel.Deps{
			Store:     deps.Store,
			Hub:       deps.Hub,
			Tools:     deps.Tools,
			Scheduler: sched,
			Logger:    logger,
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
