package validation

import "github.com/avandres/stepflow/pkg/schema"

// Validator checks workflow definitions and tool parameters before
// execution. Parameter validation uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateParams(params []byte, paramSchema []byte) error
}
