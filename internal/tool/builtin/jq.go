package builtin

import (
	"context"
	"encoding/json"

	"github.com/avandres/stepflow/internal/expressions"
	"github.com/avandres/stepflow/internal/tool"
	"github.com/avandres/stepflow/pkg/schema"
)

const jqParamSchema = `{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "input": {"type": "object"}
  },
  "additionalProperties": false
}`

type jqParams struct {
	Query string         `json:"query"`
	Input map[string]any `json:"input"`
}

// JQTool reshapes JSON data with a jq query. Useful for extracting fields
// from an earlier step's result without writing a custom handler.
type JQTool struct {
	engine *expressions.GoJQEngine
	spec   tool.Spec
}

// NewJQTool creates the jq.transform tool over a shared jq engine so
// compiled queries are reused across calls.
func NewJQTool(engine *expressions.GoJQEngine) *JQTool {
	if engine == nil {
		engine = expressions.NewGoJQEngine()
	}
	return &JQTool{
		engine: engine,
		spec: tool.Spec{
			Description: "Transform JSON input with a jq query.",
			ParamSchema: json.RawMessage(jqParamSchema),
		},
	}
}

func (t *JQTool) Name() string    { return "jq.transform" }
func (t *JQTool) Spec() tool.Spec { return t.spec }

func (t *JQTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p jqParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidParameters,
			"invalid jq.transform parameters: %s", err.Error()).WithCause(err)
	}
	input := p.Input
	if input == nil {
		input = map[string]any{}
	}
	return t.engine.Evaluate(ctx, p.Query, input)
}

var _ tool.Tool = (*JQTool)(nil)
