package engine

import (
	"context"
	"encoding/json"

	"github.com/avandres/stepflow/internal/tool"
	"github.com/avandres/stepflow/pkg/schema"
)

// Turn is one entry in the agent conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelRequest is what the agent loop sends to the model on each iteration:
// the original prompt, the tools it may call, and the transcript so far.
type ModelRequest struct {
	Prompt     string
	Tools      []tool.Info
	Transcript []Turn
}

// ToolCallRequest is a model's request to invoke a tool.
type ToolCallRequest struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ModelResponse is one model turn: either a tool call to execute and feed
// back, or a final answer ending the loop.
type ModelResponse struct {
	Content  string
	ToolCall *ToolCallRequest
}

// ModelClient produces model responses for agent steps. The engine core
// never talks to a provider directly; callers supply an implementation.
type ModelClient interface {
	Respond(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// executeAgent runs the bounded agent loop: alternate model responses and
// tool calls until the model returns a final answer or max_steps iterations
// elapse, at which point the fallback produces the result.
func (se *StepExecutor) executeAgent(ctx context.Context, step *schema.Step, rs *RunScope) (any, error) {
	cfg := step.Agent
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "agent step has no config")
	}
	if cfg.MaxSteps <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"agent max_steps must be positive, got %d", cfg.MaxSteps)
	}
	if se.deps.Model == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "no model client configured")
	}

	prompt, err := se.deps.Resolver.Resolve(ctx, cfg.Prompt, rs.exprScope())
	if err != nil {
		return nil, err
	}

	req := ModelRequest{
		Prompt: prompt,
		Tools:  se.agentTools(cfg.Tools),
	}

	for i := 0; i < cfg.MaxSteps; i++ {
		resp, err := se.deps.Model.Respond(ctx, req)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
				"model response failed on iteration %d: %s", i+1, err.Error()).WithCause(err)
		}

		if resp.ToolCall == nil {
			return resp.Content, nil
		}

		req.Transcript = append(req.Transcript, Turn{Role: "assistant", Content: resp.Content})

		// Tool failures are fed back as observations so the model can react.
		res := se.deps.Tools.Execute(ctx, resp.ToolCall.Name, resp.ToolCall.Params)
		var observation string
		if res.Success {
			observation = stringifyOutput(res.Output)
		} else {
			observation = "tool error: " + res.Error.Error()
		}
		req.Transcript = append(req.Transcript, Turn{Role: "tool", Content: observation})
	}

	return se.agentFallback(ctx, cfg, rs)
}

// agentFallback resolves the result when the iteration cap is hit without a
// final answer.
func (se *StepExecutor) agentFallback(ctx context.Context, cfg *schema.AgentConfig, rs *RunScope) (any, error) {
	switch {
	case cfg.Fallback != nil:
		return cfg.Fallback(ctx, rs.Context.Values())
	case cfg.FallbackExpr != "":
		return se.deps.Expr.Evaluate(ctx, cfg.FallbackExpr, rs.exprScope().Vars())
	default:
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
			"agent exhausted %d iterations without a final answer and no fallback is configured", cfg.MaxSteps)
	}
}

// agentTools narrows the registry's catalog to the step's allow-list. An
// empty list exposes every registered tool.
func (se *StepExecutor) agentTools(allowed []string) []tool.Info {
	all := se.deps.Tools.Tools()
	if len(allowed) == 0 {
		return all
	}
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[name] = struct{}{}
	}
	infos := make([]tool.Info, 0, len(allowed))
	for _, info := range all {
		if _, ok := set[info.Name]; ok {
			infos = append(infos, info)
		}
	}
	return infos
}

func stringifyOutput(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
