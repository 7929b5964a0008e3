package validation

import (
	"github.com/avandres/stepflow/pkg/schema"
)

// DefinitionValidator performs the semantic checks JSON Schema cannot
// express: step name uniqueness, config/type agreement, and agent loop
// bounds. It operates on the in-memory definition so programmatically built
// workflows (with handler funcs) are covered too.
type DefinitionValidator struct {
	schemas *SchemaValidator
}

// NewDefinitionValidator creates a DefinitionValidator.
func NewDefinitionValidator() (*DefinitionValidator, error) {
	sv, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionValidator{schemas: sv}, nil
}

// ValidateDefinition checks a workflow definition for execution readiness.
// The first violation found is returned; nested parallel branches, loop
// bodies, and conditional branches are walked depth-first.
func (v *DefinitionValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return validateDefinition(def)
}

// ValidateParams delegates to the underlying SchemaValidator.
func (v *DefinitionValidator) ValidateParams(params, paramSchema []byte) error {
	return v.schemas.ValidateParams(params, paramSchema)
}

// ValidateDocument delegates to the underlying SchemaValidator.
func (v *DefinitionValidator) ValidateDocument(raw []byte) error {
	return v.schemas.ValidateDocument(raw)
}

func validateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if def.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow name is required")
	}
	if len(def.Steps) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "workflow %q has no steps", def.Name)
	}

	// Names must be unique across the whole definition: nested branch and
	// body steps record results into the same session context as top-level
	// steps. Sub-workflow steps run in a fresh context and are checked
	// against their own definition only.
	seen := make(map[string]struct{})
	for i := range def.Steps {
		if err := validateStep(&def.Steps[i], seen); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step *schema.Step, seen map[string]struct{}) error {
	if step.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "step name is required")
	}
	if _, dup := seen[step.Name]; dup {
		return schema.NewErrorf(schema.ErrCodeValidation, "duplicate step name %q", step.Name).
			WithStep(step.Name)
	}
	seen[step.Name] = struct{}{}

	fail := func(format string, args ...any) error {
		return schema.NewErrorf(schema.ErrCodeValidation, format, args...).WithStep(step.Name)
	}

	switch step.Type {
	case schema.StepPrompt:
		if step.Prompt == nil || (step.Prompt.Template == "" && step.Prompt.Build == nil) {
			return fail("prompt step %q requires a template or build func", step.Name)
		}
	case schema.StepTool:
		if step.Tool == nil || step.Tool.Name == "" {
			return fail("tool step %q requires a tool name", step.Name)
		}
	case schema.StepAgent:
		if step.Agent == nil || step.Agent.Prompt == "" {
			return fail("agent step %q requires a prompt", step.Name)
		}
		if step.Agent.MaxSteps <= 0 {
			return schema.NewErrorf(schema.ErrCodeConfiguration,
				"agent step %q: max_steps must be positive, got %d", step.Name, step.Agent.MaxSteps).
				WithStep(step.Name)
		}
	case schema.StepParallel:
		if len(step.Parallel) == 0 {
			return fail("parallel step %q requires at least one branch", step.Name)
		}
		for i := range step.Parallel {
			if err := validateStep(&step.Parallel[i], seen); err != nil {
				return err
			}
		}
	case schema.StepConditional:
		cond := step.Conditional
		if cond == nil || (cond.Predicate == "" && cond.When == nil) {
			return fail("conditional step %q requires a predicate or when func", step.Name)
		}
		if cond.IfTrue == nil && cond.IfFalse == nil {
			return fail("conditional step %q requires at least one branch", step.Name)
		}
		for _, branch := range []*schema.Step{cond.IfTrue, cond.IfFalse} {
			if branch == nil {
				continue
			}
			if err := validateStep(branch, seen); err != nil {
				return err
			}
		}
	case schema.StepLoop:
		loop := step.Loop
		if loop == nil || (loop.Items == "" && loop.Produce == nil) {
			return fail("loop step %q requires an items expression or produce func", step.Name)
		}
		if loop.Handler == nil && loop.Body == nil {
			return fail("loop step %q requires a handler or body step", step.Name)
		}
		if loop.Body != nil {
			if err := validateStep(loop.Body, seen); err != nil {
				return err
			}
		}
	case schema.StepApproval:
		if step.Approval == nil || step.Approval.Message == "" {
			return fail("approval step %q requires a message", step.Name)
		}
	case schema.StepInput:
		if step.Input == nil {
			return fail("input step %q requires an input config", step.Name)
		}
	case schema.StepCustom:
		if step.Custom == nil {
			return fail("custom step %q requires a handler func", step.Name)
		}
	case schema.StepWorkflow:
		if step.Workflow == nil {
			return fail("workflow step %q requires a sub-workflow definition", step.Name)
		}
		if err := validateDefinition(step.Workflow); err != nil {
			if fe, ok := err.(*schema.FlowError); ok && fe.Step == "" {
				fe.Step = step.Name
			}
			return err
		}
	case "":
		return fail("step %q has no type", step.Name)
	default:
		return fail("step %q has unknown type %q", step.Name, step.Type)
	}

	return nil
}

var _ Validator = (*DefinitionValidator)(nil)
