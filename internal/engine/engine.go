package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avandres/stepflow/internal/expressions"
	"github.com/avandres/stepflow/internal/logging"
	"github.com/avandres/stepflow/internal/state"
	"github.com/avandres/stepflow/internal/streaming"
	"github.com/avandres/stepflow/internal/tool"
	"github.com/avandres/stepflow/internal/validation"
	"github.com/avandres/stepflow/pkg/schema"
)

// Deps are the collaborators an Engine needs. Tools and Store are required.
// Hub may be nil to disable live events; Model and Interactor may be nil
// when no step needs them.
type Deps struct {
	Tools      *tool.Executor
	Store      *state.Store
	Hub        streaming.EventHub
	Resolver   *expressions.Resolver
	CEL        *expressions.CELEngine
	Expr       *expressions.ExprEngine
	JQ         *expressions.GoJQEngine
	Model      ModelClient
	Interactor Interactor
	Validator  ParamsValidator
	Log        *slog.Logger
}

// Options tune one engine instance. SessionID pins the run to an existing
// session (resuming it when state exists); empty means a fresh session.
type Options struct {
	SessionID string
	Inputs    map[string]any
}

// Engine drives one workflow definition: it iterates the steps in
// declaration order, dispatches each to the step executor, merges results
// into the accumulating context, and writes the session state through to
// the store after every completed step. The first step failure aborts the
// run; everything recorded up to that point stays durable and replayable.
type Engine struct {
	def       *schema.WorkflowDefinition
	deps      Deps
	steps     *StepExecutor
	sessionID string
	inputs    map[string]any
	log       *slog.Logger
}

// New validates the definition and builds an engine for it. Malformed
// definitions, such as an agent step with non-positive max_steps, are
// rejected here, before any execution.
func New(def *schema.WorkflowDefinition, deps Deps, opts Options) (*Engine, error) {
	validator, err := validation.NewDefinitionValidator()
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateDefinition(def); err != nil {
		return nil, err
	}

	if deps.Resolver == nil {
		deps.Resolver = expressions.NewResolver(nil)
	}
	if deps.CEL == nil {
		deps.CEL, err = expressions.NewCELEngine()
		if err != nil {
			return nil, err
		}
	}
	if deps.Expr == nil {
		deps.Expr = expressions.NewExprEngine()
	}
	if deps.JQ == nil {
		deps.JQ = expressions.NewGoJQEngine()
	}
	if deps.Validator == nil {
		deps.Validator = validator
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	inputs := opts.Inputs
	if inputs == nil {
		inputs = def.Inputs
	}

	e := &Engine{
		def:       def,
		deps:      deps,
		sessionID: sessionID,
		inputs:    inputs,
		log:       deps.Log,
	}
	e.steps = NewStepExecutor(StepDeps{
		Tools:      deps.Tools,
		Resolver:   deps.Resolver,
		CEL:        deps.CEL,
		Expr:       deps.Expr,
		JQ:         deps.JQ,
		Model:      deps.Model,
		Interactor: deps.Interactor,
		Validator:  deps.Validator,
		SubRunner:  e.runSubWorkflow,
		Log:        deps.Log,
	})
	return e, nil
}

// SessionID returns the session this engine writes to.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Execute runs the workflow and returns the final context. When the session
// already has persisted state, completed steps are skipped and their
// recorded results seed the context, so a crashed run continues from its
// last checkpoint.
func (e *Engine) Execute(ctx context.Context, initial map[string]any) (map[string]any, error) {
	ctx = logging.WithSessionID(ctx, e.sessionID)

	st, err := e.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	ec := NewContext(initial)
	for i := range st.Steps {
		rec := &st.Steps[i]
		if rec.Status == schema.StepStatusCompleted {
			ec = ec.With(rec.Name, rec.Result)
		}
	}

	// A session loaded in running state crashed mid-run; it stays running.
	if st.Status != schema.WorkflowStatusRunning {
		if st.Status, err = transitionWorkflow(st.Status, schema.WorkflowStatusRunning); err != nil {
			return nil, err
		}
	}
	if err := e.persist(ctx, st); err != nil {
		return nil, err
	}
	e.publish(ctx, "", schema.EventWorkflowStarted, e.def.Name)
	e.log.InfoContext(ctx, "workflow started", "workflow", e.def.Name)

	for i := range e.def.Steps {
		step := &e.def.Steps[i]
		if e.stepDone(st, step) {
			continue
		}

		stepCtx := logging.WithStepName(ctx, step.Name)
		e.publish(stepCtx, step.Name, schema.EventStepStarted, nil)

		rs := &RunScope{
			Context: ec,
			Inputs:  e.inputs,
			Workflow: map[string]any{
				"name":       e.def.Name,
				"session_id": e.sessionID,
			},
		}

		result, stepErr := e.steps.Execute(stepCtx, step, rs)
		if stepErr != nil {
			return nil, e.failRun(ctx, st, step.Name, stepErr)
		}

		ec = e.mergeResult(st, step, ec, result)
		if err := e.persist(ctx, st); err != nil {
			return nil, err
		}
		e.publish(stepCtx, step.Name, schema.EventStepCompleted, unwrapSkip(result))
		e.log.InfoContext(stepCtx, "step completed")
	}

	if st.Status, err = transitionWorkflow(st.Status, schema.WorkflowStatusCompleted); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, st); err != nil {
		return nil, err
	}
	e.publish(ctx, "", schema.EventWorkflowCompleted, nil)
	e.log.InfoContext(ctx, "workflow completed", "steps", len(st.Steps))

	return ec.Values(), nil
}

// ensureSession loads existing state for the session or creates a pending
// one when the store has no record of it.
func (e *Engine) ensureSession(ctx context.Context) (*state.WorkflowState, error) {
	st, err := e.deps.Store.LoadState(ctx, e.sessionID)
	if err == nil {
		// Re-entering a finished or failed session restarts its lifecycle.
		if st.Status == schema.WorkflowStatusCompleted || st.Status == schema.WorkflowStatusFailed {
			st.Status = schema.WorkflowStatusPending
		}
		return st, nil
	}

	var fe *schema.FlowError
	if errors.As(err, &fe) && fe.Code == schema.ErrCodeSessionNotFound {
		return &state.WorkflowState{
			SessionID: e.sessionID,
			Workflow:  e.def.Name,
			Status:    schema.WorkflowStatusPending,
		}, nil
	}
	return nil, err
}

// stepDone reports whether a step already finished in a previous run of
// this session, either completed or skipped. A parallel group counts as
// done only when every branch has a completed record.
func (e *Engine) stepDone(st *state.WorkflowState, step *schema.Step) bool {
	if step.Type == schema.StepParallel {
		for i := range step.Parallel {
			if !st.StepCompleted(step.Parallel[i].Name) {
				return false
			}
		}
		return len(step.Parallel) > 0
	}
	return st.StepFinished(step.Name)
}

// mergeResult records the step outcome and merges it into the context:
// parallel groups merge each branch flatly under the branch's own name,
// every other variant merges under the step's name. A skipped step is
// recorded without a result and inserts no context key.
func (e *Engine) mergeResult(st *state.WorkflowState, step *schema.Step, ec *Context, result any) *Context {
	now := time.Now().UTC()

	if _, skipped := result.(skippedResult); skipped {
		st.UpsertStep(state.StepRecord{
			Name:      step.Name,
			Status:    schema.StepStatusSkipped,
			Timestamp: now,
		})
		return ec
	}

	if step.Type == schema.StepParallel {
		values, _ := result.(map[string]any)
		order := make([]string, 0, len(step.Parallel))
		for i := range step.Parallel {
			name := step.Parallel[i].Name
			order = append(order, name)
			st.UpsertStep(state.StepRecord{
				Name:      name,
				Status:    schema.StepStatusCompleted,
				Result:    values[name],
				Timestamp: now,
			})
		}
		return ec.WithAll(order, values)
	}

	st.UpsertStep(state.StepRecord{
		Name:      step.Name,
		Status:    schema.StepStatusCompleted,
		Result:    result,
		Timestamp: now,
	})
	return ec.With(step.Name, result)
}

// failRun records the failure, moves the session to failed, and returns the
// run's single surfaced error: the first failing step's name wrapping the
// cause.
func (e *Engine) failRun(ctx context.Context, st *state.WorkflowState, stepName string, stepErr error) error {
	fe := wrapStepError(stepErr, stepName)

	st.UpsertStep(state.StepRecord{
		Name:      stepName,
		Status:    schema.StepStatusFailed,
		Error:     fe.Error(),
		Timestamp: time.Now().UTC(),
	})
	if status, err := transitionWorkflow(st.Status, schema.WorkflowStatusFailed); err == nil {
		st.Status = status
	}
	if err := e.persist(ctx, st); err != nil {
		e.log.ErrorContext(ctx, "persist failed state", "error", err)
	}

	e.publish(ctx, stepName, schema.EventStepFailed, fe.Error())
	e.publish(ctx, "", schema.EventWorkflowFailed, fe.Error())
	e.log.ErrorContext(ctx, "workflow failed", "step", stepName, "error", fe)
	return fe
}

func (e *Engine) persist(ctx context.Context, st *state.WorkflowState) error {
	st.UpdatedAt = time.Now().UTC()
	return e.deps.Store.SaveState(ctx, e.sessionID, st)
}

func (e *Engine) publish(ctx context.Context, step, eventType string, payload any) {
	if e.deps.Hub == nil {
		return
	}
	_ = e.deps.Hub.Publish(ctx, streaming.StreamEvent{
		SessionID: e.sessionID,
		Step:      step,
		EventType: eventType,
		Payload:   payload,
	})
}

// runSubWorkflow executes an embedded definition as a fresh engine
// invocation with its own session, seeded with the enclosing context.
func (e *Engine) runSubWorkflow(ctx context.Context, def *schema.WorkflowDefinition, seed map[string]any) (map[string]any, error) {
	child, err := New(def, e.deps, Options{Inputs: e.inputs})
	if err != nil {
		return nil, err
	}
	return child.Execute(ctx, seed)
}
