package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avandres/stepflow/pkg/schema"
)

// Runner starts one workflow session. Satisfied by a thin adapter over the
// engine; the indirection keeps this package free of engine internals.
type Runner interface {
	RunWorkflow(ctx context.Context, def *schema.WorkflowDefinition, inputs map[string]any) (sessionID string, err error)
}

// Job is a cron-triggered workflow. NextRunAt is maintained by the
// scheduler; LastRunStatus is "success" or "error" after the first run.
type Job struct {
	ID            string
	CronExpr      string
	Definition    *schema.WorkflowDefinition
	Inputs        map[string]any
	Enabled       bool
	NextRunAt     time.Time
	LastRunAt     time.Time
	LastRunStatus string
}

// Scheduler runs registered jobs when their cron schedule fires.
type Scheduler struct {
	runner   Runner
	parser   cron.Parser
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*Job
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New creates a Scheduler polling at the given interval (defaults to one
// minute when zero).
func New(runner Runner, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: interval,
		log:      log,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// Add registers a job and computes its first run time.
func (s *Scheduler) Add(job *Job) error {
	if job == nil || job.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "job needs an id")
	}
	if job.Definition == nil {
		return schema.NewError(schema.ErrCodeValidation, "job needs a workflow definition")
	}

	next, err := s.NextRun(job.CronExpr, time.Now().UTC())
	if err != nil {
		return err
	}
	job.NextRunAt = next
	job.Enabled = true

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "job %q already registered", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// Remove deletes a job.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Jobs returns a snapshot of the registered jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// Start launches the background polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	go s.loop(loopCtx, done)
	s.log.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop shuts the loop down and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("scheduler stopped")
}

// loop receives the done channel directly: Stop nils s.done before the
// loop exits, so closing via the field would close a nil channel.
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every enabled job whose schedule is due. Exported so callers
// and tests can drive the scheduler without the background loop.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	due := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.Enabled && !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		if !s.tryAcquire(job.ID) {
			continue
		}
		s.runJob(ctx, job, now)
		s.release(job.ID)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) {
	s.log.Info("running scheduled job", "job_id", job.ID, "workflow", job.Definition.Name)

	sessionID, err := s.runner.RunWorkflow(ctx, job.Definition, job.Inputs)
	status := "success"
	if err != nil {
		status = "error"
		s.log.Error("scheduled job failed", "job_id", job.ID, "error", err)
	} else {
		s.log.Info("scheduled job finished", "job_id", job.ID, "session_id", sessionID)
	}

	next, nextErr := s.NextRun(job.CronExpr, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	job.LastRunAt = now
	job.LastRunStatus = status
	if nextErr == nil {
		job.NextRunAt = next
	} else {
		// Expression parsed at Add time; a failure here means the job is gone.
		job.Enabled = false
	}
}

// NextRun computes the next fire time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}
	return sched.Next(from), nil
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, running := s.inflight[id]; running {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}
