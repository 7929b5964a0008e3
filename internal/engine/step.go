package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avandres/stepflow/internal/expressions"
	"github.com/avandres/stepflow/internal/tool"
	"github.com/avandres/stepflow/pkg/schema"
)

// RunScope carries the per-run data every step sees: the accumulated
// context, the workflow inputs, and run metadata. Loop bodies additionally
// get the current iteration variables.
type RunScope struct {
	Context  *Context
	Inputs   map[string]any
	Workflow map[string]any
	Iter     *expressions.IterVars
}

// exprScope projects the run scope into the expression/template namespaces.
func (rs *RunScope) exprScope() *expressions.Scope {
	scope := expressions.NewScope(rs.Context.Values(), rs.Inputs, rs.Workflow)
	if rs.Iter != nil {
		scope = scope.WithIter(rs.Iter.Item, rs.Iter.Index)
	}
	return scope
}

// withIter returns a copy of the run scope bound to one loop iteration.
func (rs *RunScope) withIter(item any, index int) *RunScope {
	cp := *rs
	cp.Iter = &expressions.IterVars{Item: item, Index: index}
	return &cp
}

// SubWorkflowRunner executes an embedded workflow definition seeded with the
// enclosing context and returns its final context. Wired by the Engine so
// sub-workflows run as fresh engine invocations with their own session.
type SubWorkflowRunner func(ctx context.Context, def *schema.WorkflowDefinition, seed map[string]any) (map[string]any, error)

// stepFunc executes one step variant.
type stepFunc func(ctx context.Context, step *schema.Step, rs *RunScope) (any, error)

// StepDeps are the collaborators a StepExecutor needs. Tools and Resolver
// are required; Model and Interactor may be nil when the workflow contains
// no agent or approval/input steps.
type StepDeps struct {
	Tools      *tool.Executor
	Resolver   *expressions.Resolver
	CEL        *expressions.CELEngine
	Expr       *expressions.ExprEngine
	JQ         *expressions.GoJQEngine
	Model      ModelClient
	Interactor Interactor
	Validator  ParamsValidator
	SubRunner  SubWorkflowRunner
	Log        *slog.Logger
}

// StepExecutor resolves each step variant through a dispatch table keyed by
// the step's type tag. The variant set is closed: adding a kind means adding
// one entry here.
type StepExecutor struct {
	deps     StepDeps
	dispatch map[schema.StepType]stepFunc
}

// NewStepExecutor builds the executor and its dispatch table.
func NewStepExecutor(deps StepDeps) *StepExecutor {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	se := &StepExecutor{deps: deps}
	se.dispatch = map[schema.StepType]stepFunc{
		schema.StepPrompt:      se.executePrompt,
		schema.StepTool:        se.executeTool,
		schema.StepAgent:       se.executeAgent,
		schema.StepParallel:    se.executeParallel,
		schema.StepConditional: se.executeConditional,
		schema.StepLoop:        se.executeLoop,
		schema.StepApproval:    se.executeApproval,
		schema.StepInput:       se.executeInput,
		schema.StepCustom:      se.executeCustom,
		schema.StepWorkflow:    se.executeSubWorkflow,
	}
	return se
}

// Execute runs one step and returns its result. Errors come back without
// step attribution; the caller wraps them with the step name.
func (se *StepExecutor) Execute(ctx context.Context, step *schema.Step, rs *RunScope) (any, error) {
	fn, ok := se.dispatch[step.Type]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"unknown step type %q", step.Type)
	}
	return fn(ctx, step, rs)
}

// executePrompt resolves the step's template against the context. A Build
// handler, when set, produces the template text at execution time.
func (se *StepExecutor) executePrompt(ctx context.Context, step *schema.Step, rs *RunScope) (any, error) {
	cfg := step.Prompt
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "prompt step has no config")
	}

	template := cfg.Template
	if cfg.Build != nil {
		built, err := cfg.Build(ctx, rs.Context.Values())
		if err != nil {
			return nil, err
		}
		template = fmt.Sprintf("%v", built)
	}

	return se.deps.Resolver.Resolve(ctx, template, rs.exprScope())
}

// executeTool resolves template references in the params and invokes the
// tool through the executor pipeline. A failed result, including retry
// exhaustion, surfaces as the step's error.
func (se *StepExecutor) executeTool(ctx context.Context, step *schema.Step, rs *RunScope) (any, error) {
	cfg := step.Tool
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "tool step has no config")
	}

	params, err := se.deps.Resolver.ResolveParams(ctx, cfg.Params, rs.exprScope())
	if err != nil {
		return nil, err
	}

	res := se.deps.Tools.Execute(ctx, cfg.Name, params)
	if !res.Success {
		return nil, res.Error
	}
	return res.Output, nil
}

// executeCustom invokes the arbitrary handler with the accumulated context.
func (se *StepExecutor) executeCustom(ctx context.Context, step *schema.Step, rs *RunScope) (any, error) {
	if step.Custom == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "custom step has no handler")
	}
	return step.Custom(ctx, rs.Context.Values())
}

// executeSubWorkflow runs the embedded definition as a fresh engine
// invocation seeded with the enclosing context. The sub-workflow's final
// context becomes this step's result.
func (se *StepExecutor) executeSubWorkflow(ctx context.Context, step *schema.Step, rs *RunScope) (any, error) {
	if step.Workflow == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "workflow step has no definition")
	}
	if se.deps.SubRunner == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "sub-workflow runner not configured")
	}
	return se.deps.SubRunner(ctx, step.Workflow, rs.Context.Values())
}
