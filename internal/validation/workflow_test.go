package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandres/stepflow/pkg/schema"
)

func newTestValidator(t *testing.T) *DefinitionValidator {
	t.Helper()
	v, err := NewDefinitionValidator()
	require.NoError(t, err)
	return v
}

func noopHandler(_ context.Context, _ map[string]any) (any, error) {
	return nil, nil
}

func validDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name: "pipeline",
		Steps: []schema.Step{
			{Name: "fetch", Type: schema.StepTool, Tool: &schema.ToolConfig{Name: "http.request"}},
			{Name: "summarize", Type: schema.StepPrompt, Prompt: &schema.PromptConfig{Template: "summarize ${{steps.fetch}}"}},
			{Name: "finish", Type: schema.StepCustom, Custom: noopHandler},
		},
	}
}

func TestValidateDefinition_Valid(t *testing.T) {
	v := newTestValidator(t)
	require.NoError(t, v.ValidateDefinition(validDefinition()))
}

func TestValidateDefinition_NilAndEmpty(t *testing.T) {
	v := newTestValidator(t)

	require.Error(t, v.ValidateDefinition(nil))
	require.Error(t, v.ValidateDefinition(&schema.WorkflowDefinition{Name: "empty"}))
	require.Error(t, v.ValidateDefinition(&schema.WorkflowDefinition{
		Steps: []schema.Step{{Name: "a", Type: schema.StepCustom, Custom: noopHandler}},
	}))
}

func TestValidateDefinition_DuplicateNames(t *testing.T) {
	v := newTestValidator(t)
	def := validDefinition()
	def.Steps[1].Name = "fetch"

	err := v.ValidateDefinition(def)
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	assert.Contains(t, fe.Message, "duplicate")
}

func TestValidateDefinition_DuplicateAcrossNesting(t *testing.T) {
	v := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Name: "nested",
		Steps: []schema.Step{
			{Name: "check", Type: schema.StepCustom, Custom: noopHandler},
			{
				Name: "branch",
				Type: schema.StepConditional,
				Conditional: &schema.ConditionalConfig{
					Predicate: "true",
					// Branch steps share the session context namespace.
					IfTrue: &schema.Step{Name: "check", Type: schema.StepCustom, Custom: noopHandler},
				},
			},
		},
	}

	require.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_AgentMaxStepsIsConfigurationError(t *testing.T) {
	v := newTestValidator(t)

	for _, maxSteps := range []int{0, -1} {
		def := &schema.WorkflowDefinition{
			Name: "agents",
			Steps: []schema.Step{
				{Name: "solve", Type: schema.StepAgent, Agent: &schema.AgentConfig{
					Prompt:   "solve the task",
					MaxSteps: maxSteps,
				}},
			},
		}

		err := v.ValidateDefinition(def)
		require.Error(t, err)
		var fe *schema.FlowError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, schema.ErrCodeConfiguration, fe.Code)
		assert.Equal(t, "solve", fe.Step)
	}
}

func TestValidateDefinition_TypeConfigMismatch(t *testing.T) {
	v := newTestValidator(t)

	cases := []schema.Step{
		{Name: "s", Type: schema.StepTool},
		{Name: "s", Type: schema.StepPrompt, Prompt: &schema.PromptConfig{}},
		{Name: "s", Type: schema.StepAgent, Agent: &schema.AgentConfig{MaxSteps: 3}},
		{Name: "s", Type: schema.StepParallel},
		{Name: "s", Type: schema.StepConditional, Conditional: &schema.ConditionalConfig{Predicate: "true"}},
		{Name: "s", Type: schema.StepLoop, Loop: &schema.LoopConfig{Items: ".x"}},
		{Name: "s", Type: schema.StepApproval, Approval: &schema.ApprovalConfig{}},
		{Name: "s", Type: schema.StepCustom},
		{Name: "s", Type: schema.StepWorkflow},
		{Name: "s", Type: "unknown"},
		{Name: "s"},
	}
	for _, step := range cases {
		def := &schema.WorkflowDefinition{Name: "w", Steps: []schema.Step{step}}
		assert.Error(t, v.ValidateDefinition(def), "step type %q", step.Type)
	}
}

func TestValidateDefinition_SubWorkflow(t *testing.T) {
	v := newTestValidator(t)

	def := &schema.WorkflowDefinition{
		Name: "outer",
		Steps: []schema.Step{
			{Name: "inner", Type: schema.StepWorkflow, Workflow: &schema.WorkflowDefinition{
				Name: "child",
				Steps: []schema.Step{
					// Sub-workflows run in a fresh context, so reusing an
					// outer step name is allowed.
					{Name: "inner", Type: schema.StepCustom, Custom: noopHandler},
				},
			}},
		},
	}
	require.NoError(t, v.ValidateDefinition(def))

	def.Steps[0].Workflow.Steps = nil
	require.Error(t, v.ValidateDefinition(def))
}
