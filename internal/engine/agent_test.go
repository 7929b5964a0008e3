package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandres/stepflow/pkg/schema"
)

// scriptedModel returns canned responses in order and records every request.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*ModelResponse
	requests  []ModelRequest
}

func (m *scriptedModel) Respond(_ context.Context, req ModelRequest) (*ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.responses) == 0 {
		return &ModelResponse{Content: "out of script"}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func agentDef(cfg *schema.AgentConfig) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name:  "agentic",
		Steps: []schema.Step{{Name: "assistant", Type: schema.StepAgent, Agent: cfg}},
	}
}

func TestAgent_ToolCallThenFinalAnswer(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{
		{Content: "checking the weather", ToolCall: &ToolCallRequest{
			Name:   "weather",
			Params: json.RawMessage(`{"city":"oslo"}`),
		}},
		{Content: "it is 12 degrees in oslo"},
	}}

	deps := newTestDeps(t, constTool("weather", map[string]any{"temp": 12}))
	deps.Model = model

	eng, err := New(agentDef(&schema.AgentConfig{Prompt: "what is the weather", MaxSteps: 5}), deps, Options{})
	require.NoError(t, err)

	final, err := eng.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "it is 12 degrees in oslo", final["assistant"])

	// The second request carries the tool observation.
	require.Len(t, model.requests, 2)
	transcript := model.requests[1].Transcript
	require.Len(t, transcript, 2)
	assert.Equal(t, "tool", transcript[1].Role)
	assert.JSONEq(t, `{"temp":12}`, transcript[1].Content)
}

func TestAgent_ToolFailureFedBackAsObservation(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{
		{ToolCall: &ToolCallRequest{Name: "missing"}},
		{Content: "cannot do that"},
	}}

	deps := newTestDeps(t)
	deps.Model = model

	eng, err := New(agentDef(&schema.AgentConfig{Prompt: "try", MaxSteps: 3}), deps, Options{})
	require.NoError(t, err)

	final, err := eng.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "cannot do that", final["assistant"])

	transcript := model.requests[1].Transcript
	require.Len(t, transcript, 2)
	assert.Contains(t, transcript[1].Content, "tool error")
}

func TestAgent_ExhaustionUsesFallbackExpr(t *testing.T) {
	// The model keeps asking for tools and never answers.
	model := &scriptedModel{responses: []*ModelResponse{
		{ToolCall: &ToolCallRequest{Name: "noop"}},
		{ToolCall: &ToolCallRequest{Name: "noop"}},
		{ToolCall: &ToolCallRequest{Name: "noop"}},
	}}

	deps := newTestDeps(t, constTool("noop", "ok"))
	deps.Model = model

	def := &schema.WorkflowDefinition{
		Name: "stubborn",
		Steps: []schema.Step{
			customStep("prep", func(context.Context, map[string]any) (any, error) {
				return map[string]any{"answer": "fallback value"}, nil
			}),
			{Name: "assistant", Type: schema.StepAgent, Agent: &schema.AgentConfig{
				Prompt:       "loop forever",
				MaxSteps:     2,
				FallbackExpr: `steps.prep.answer`,
			}},
		},
	}

	eng, err := New(def, deps, Options{})
	require.NoError(t, err)

	final, err := eng.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback value", final["assistant"])
	assert.Len(t, model.requests, 2)
}

func TestAgent_ExhaustionUsesFallbackHandler(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{
		{ToolCall: &ToolCallRequest{Name: "noop"}},
	}}

	deps := newTestDeps(t, constTool("noop", "ok"))
	deps.Model = model

	eng, err := New(agentDef(&schema.AgentConfig{
		Prompt:   "loop",
		MaxSteps: 1,
		Fallback: func(context.Context, map[string]any) (any, error) {
			return "handled", nil
		},
	}), deps, Options{})
	require.NoError(t, err)

	final, err := eng.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "handled", final["assistant"])
}

func TestAgent_ExhaustionWithoutFallbackFails(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{
		{ToolCall: &ToolCallRequest{Name: "noop"}},
	}}

	deps := newTestDeps(t, constTool("noop", "ok"))
	deps.Model = model

	eng, err := New(agentDef(&schema.AgentConfig{Prompt: "loop", MaxSteps: 1}), deps, Options{})
	require.NoError(t, err)

	_, err = eng.Execute(context.Background(), nil)
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "assistant", fe.Step)
}

func TestAgent_ToolAllowListNarrowsCatalog(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{{Content: "done"}}}

	deps := newTestDeps(t, constTool("allowed", 1), constTool("hidden", 2))
	deps.Model = model

	eng, err := New(agentDef(&schema.AgentConfig{
		Prompt:   "go",
		MaxSteps: 1,
		Tools:    []string{"allowed"},
	}), deps, Options{})
	require.NoError(t, err)

	_, err = eng.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, model.requests, 1)
	require.Len(t, model.requests[0].Tools, 1)
	assert.Equal(t, "allowed", model.requests[0].Tools[0].Name)
}
