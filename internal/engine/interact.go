package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/avandres/stepflow/pkg/schema"
)

// ApprovalRequest asks a human to confirm before the workflow proceeds.
type ApprovalRequest struct {
	SessionID string   `json:"session_id"`
	Step      string   `json:"step"`
	Message   string   `json:"message"`
	Channels  []string `json:"channels,omitempty"`
}

// InputRequest asks a human for a value.
type InputRequest struct {
	SessionID string          `json:"session_id"`
	Step      string          `json:"step"`
	Prompt    string          `json:"prompt,omitempty"`
	Choices   []string        `json:"choices,omitempty"`
	Schema    json.RawMessage `json:"schema,omitempty"`
}

// Interactor is the human-interaction collaborator behind approval and
// input steps. Implementations block until resolved or the context expires.
type Interactor interface {
	Approve(ctx context.Context, req ApprovalRequest) (any, error)
	ProvideInput(ctx context.Context, req InputRequest) (any, error)
}

// ParamsValidator validates an injected input value against a JSON schema.
// Satisfied by validation.SchemaValidator.
type ParamsValidator interface {
	ValidateParams(params, paramSchema []byte) error
}

// executeApproval suspends until the interactor confirms, the timeout
// elapses, or the run is cancelled. On timeout the configured fallback
// becomes the step result.
func (se *StepExecutor) executeApproval(ctx context.Context, step *schema.Step, rs *RunScope) (any, error) {
	cfg := step.Approval
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "approval step has no config")
	}
	if se.deps.Interactor == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "no interactor configured")
	}

	message, err := se.deps.Resolver.Resolve(ctx, cfg.Message, rs.exprScope())
	if err != nil {
		return nil, err
	}

	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout.Std())
		defer cancel()
	}

	out, err := se.deps.Interactor.Approve(waitCtx, ApprovalRequest{
		SessionID: sessionIDFrom(rs),
		Step:      step.Name,
		Message:   message,
		Channels:  cfg.Channels,
	})
	if err != nil {
		if timedOut(waitCtx, ctx, err) {
			return cfg.Fallback, nil
		}
		return nil, err
	}
	return out, nil
}

// executeInput suspends until a value is injected. The value is validated
// against the configured schema; on timeout the default is used instead.
func (se *StepExecutor) executeInput(ctx context.Context, step *schema.Step, rs *RunScope) (any, error) {
	cfg := step.Input
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "input step has no config")
	}
	if se.deps.Interactor == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "no interactor configured")
	}

	prompt := cfg.Prompt
	if prompt != "" {
		resolved, err := se.deps.Resolver.Resolve(ctx, prompt, rs.exprScope())
		if err != nil {
			return nil, err
		}
		prompt = resolved
	}

	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout.Std())
		defer cancel()
	}

	value, err := se.deps.Interactor.ProvideInput(waitCtx, InputRequest{
		SessionID: sessionIDFrom(rs),
		Step:      step.Name,
		Prompt:    prompt,
		Choices:   cfg.Choices,
		Schema:    cfg.Schema,
	})
	if err != nil {
		if timedOut(waitCtx, ctx, err) {
			return cfg.Default, nil
		}
		return nil, err
	}

	if len(cfg.Schema) > 0 && se.deps.Validator != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidParameters,
				"input value is not serializable: %s", err.Error()).WithCause(err)
		}
		if err := se.deps.Validator.ValidateParams(raw, cfg.Schema); err != nil {
			return nil, err
		}
	}
	return value, nil
}

// timedOut distinguishes a step-level timeout from an outer cancellation:
// only the former falls back, the latter aborts the run.
func timedOut(waitCtx, parent context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) &&
		errors.Is(waitCtx.Err(), context.DeadlineExceeded) &&
		parent.Err() == nil
}

func sessionIDFrom(rs *RunScope) string {
	if id, ok := rs.Workflow["session_id"].(string); ok {
		return id
	}
	return ""
}
