package engine

import (
	"context"
	"sync"

	"github.com/avandres/stepflow/internal/logging"
	"github.com/avandres/stepflow/pkg/schema"
)

// executeParallel runs the nested steps concurrently and fails fast: the
// first branch error cancels the rest and becomes the group's error, and no
// branch result is merged. On success the result is the union of all branch
// results keyed by branch name.
func (se *StepExecutor) executeParallel(ctx context.Context, step *schema.Step, rs *RunScope) (any, error) {
	if len(step.Parallel) == 0 {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "parallel step has no branches")
	}

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  = make(map[string]any, len(step.Parallel))
		firstErr error
	)

	for i := range step.Parallel {
		branch := &step.Parallel[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			branchCtx := logging.WithStepName(groupCtx, branch.Name)
			out, err := se.Execute(branchCtx, branch, rs)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = wrapStepError(err, branch.Name)
					cancel()
				}
				return
			}
			results[branch.Name] = unwrapSkip(out)
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// skippedResult marks a step that finished without producing a result, such
// as a conditional whose predicate was false with no if_false branch. The
// step is recorded as skipped and contributes no context entry.
type skippedResult struct{}

// unwrapSkip normalizes a skipped result to nil for callers that consume
// step results as plain values.
func unwrapSkip(v any) any {
	if _, ok := v.(skippedResult); ok {
		return nil
	}
	return v
}

// executeConditional evaluates the predicate and runs exactly one branch. A
// false predicate with no if_false branch produces no result: the step is
// skipped rather than completed with nil.
func (se *StepExecutor) executeConditional(ctx context.Context, step *schema.Step, rs *RunScope) (any, error) {
	cfg := step.Conditional
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "conditional step has no config")
	}

	take, err := se.evaluatePredicate(ctx, cfg, rs)
	if err != nil {
		return nil, err
	}

	branch := cfg.IfTrue
	if !take {
		branch = cfg.IfFalse
	}
	if branch == nil {
		return skippedResult{}, nil
	}
	return se.Execute(logging.WithStepName(ctx, branch.Name), branch, rs)
}

func (se *StepExecutor) evaluatePredicate(ctx context.Context, cfg *schema.ConditionalConfig, rs *RunScope) (bool, error) {
	if cfg.When != nil {
		out, err := cfg.When(ctx, rs.Context.Values())
		if err != nil {
			return false, err
		}
		take, ok := out.(bool)
		if !ok {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"conditional handler returned %T, want bool", out)
		}
		return take, nil
	}
	return se.deps.CEL.EvaluateBool(ctx, cfg.Predicate, rs.exprScope().Vars())
}

// executeLoop produces the item sequence and applies the per-item handler to
// each element sequentially, in index order, aggregating results into an
// ordered list. The first item failure aborts the loop.
func (se *StepExecutor) executeLoop(ctx context.Context, step *schema.Step, rs *RunScope) (any, error) {
	cfg := step.Loop
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "loop step has no config")
	}

	items, err := se.produceItems(ctx, cfg, rs)
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "loop cancelled").WithCause(err)
		}

		var (
			out     any
			itemErr error
		)
		switch {
		case cfg.Handler != nil:
			out, itemErr = cfg.Handler(ctx, item, i, rs.Context.Values())
		case cfg.Body != nil:
			iterScope := rs.withIter(item, i)
			out, itemErr = se.Execute(logging.WithStepName(ctx, cfg.Body.Name), cfg.Body, iterScope)
			out = unwrapSkip(out)
		default:
			return nil, schema.NewError(schema.ErrCodeConfiguration, "loop step has no handler or body")
		}
		if itemErr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
				"loop item %d: %s", i, itemErr.Error()).WithCause(itemErr)
		}
		results = append(results, out)
	}
	return results, nil
}

// produceItems evaluates the item producer: a Produce handler returning a
// slice, or a jq expression over the context.
func (se *StepExecutor) produceItems(ctx context.Context, cfg *schema.LoopConfig, rs *RunScope) ([]any, error) {
	if cfg.Produce != nil {
		out, err := cfg.Produce(ctx, rs.Context.Values())
		if err != nil {
			return nil, err
		}
		items, ok := out.([]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"loop producer returned %T, want a slice", out)
		}
		return items, nil
	}
	return se.deps.JQ.EvaluateSlice(ctx, cfg.Items, rs.exprScope().Vars())
}

func wrapStepError(err error, stepName string) *schema.FlowError {
	if fe, ok := err.(*schema.FlowError); ok {
		if fe.Step == "" {
			fe.Step = stepName
		}
		return fe
	}
	return schema.NewError(schema.ErrCodeStepFailed, err.Error()).WithStep(stepName).WithCause(err)
}
