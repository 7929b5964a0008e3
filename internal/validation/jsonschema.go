package validation

import (
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/avandres/stepflow/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for workflow definition documents
// loaded from files. Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://stepflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "inputs": { "type": "object" },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
    },
    "step": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["prompt", "tool", "agent", "parallel", "conditional", "loop", "approval", "input", "custom", "workflow"]
        },
        "prompt": {
          "type": "object",
          "properties": {
            "template": { "type": "string" }
          },
          "additionalProperties": false
        },
        "tool": {
          "type": "object",
          "required": ["name"],
          "properties": {
            "name": { "type": "string", "minLength": 1 },
            "params": {}
          },
          "additionalProperties": false
        },
        "agent": {
          "type": "object",
          "required": ["prompt", "max_steps"],
          "properties": {
            "prompt": { "type": "string", "minLength": 1 },
            "tools": { "type": "array", "items": { "type": "string" } },
            "max_steps": { "type": "integer" },
            "fallback_expr": { "type": "string" }
          },
          "additionalProperties": false
        },
        "parallel": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/step" }
        },
        "conditional": {
          "type": "object",
          "properties": {
            "predicate": { "type": "string" },
            "if_true": { "$ref": "#/$defs/step" },
            "if_false": { "$ref": "#/$defs/step" }
          },
          "additionalProperties": false
        },
        "loop": {
          "type": "object",
          "properties": {
            "items": { "type": "string" },
            "body": { "$ref": "#/$defs/step" }
          },
          "additionalProperties": false
        },
        "approval": {
          "type": "object",
          "required": ["message"],
          "properties": {
            "message": { "type": "string", "minLength": 1 },
            "timeout": { "$ref": "#/$defs/duration" },
            "channels": { "type": "array", "items": { "type": "string" } },
            "fallback": {}
          },
          "additionalProperties": false
        },
        "input": {
          "type": "object",
          "properties": {
            "prompt": { "type": "string" },
            "schema": {},
            "default": {},
            "choices": { "type": "array", "items": { "type": "string" } },
            "timeout": { "$ref": "#/$defs/duration" }
          },
          "additionalProperties": false
        },
        "workflow": { "$ref": "#" }
      },
      "additionalProperties": false
    }
  }
}`

// SchemaValidator validates raw workflow documents and tool parameters
// against JSON Schema Draft 2020-12. Safe for concurrent use: dynamically
// compiled parameter schemas are cached.
type SchemaValidator struct {
	workflowSchema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator creates a SchemaValidator with the workflow document
// schema pre-compiled.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://stepflow.dev/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile("https://stepflow.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &SchemaValidator{
		workflowSchema: wfSchema,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument validates a raw workflow definition document, as loaded
// from a JSON file, against the workflow schema.
func (v *SchemaValidator) ValidateDocument(raw []byte) error {
	if len(raw) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "workflow document is empty")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow document is not valid JSON").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// ValidateParams validates tool parameters against the tool's parameter
// schema. An empty schema means no validation is required.
func (v *SchemaValidator) ValidateParams(params []byte, paramSchema []byte) error {
	if len(paramSchema) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(paramSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid parameter schema").WithCause(err)
	}

	if len(params) == 0 {
		params = []byte("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(params)))
	if err != nil {
		return schema.NewError(schema.ErrCodeInvalidParameters, "parameters are not valid JSON").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		fe := toFlowError(err)
		fe.Code = schema.ErrCodeInvalidParameters
		return fe
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *SchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid compiler collisions.
	url := fmt.Sprintf("stepflow://param-schema/%d", len(v.cache))

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toFlowError converts a jsonschema.ValidationError into a FlowError with
// one violation message per failing leaf.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
