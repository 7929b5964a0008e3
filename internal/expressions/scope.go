package expressions

import "encoding/json"

// Scope is the variable environment handed to expression engines and the
// template resolver. Steps holds accumulated step results keyed by step name,
// Inputs the workflow input parameters, Workflow the workflow metadata.
// Iter is non-nil only inside a loop iteration.
type Scope struct {
	Steps    map[string]any
	Inputs   map[string]any
	Workflow map[string]any
	Iter     *IterVars
}

// IterVars carries the per-iteration loop variables, exposed as iter.item
// and iter.index.
type IterVars struct {
	Item  any
	Index int
}

// NewScope builds a Scope from frozen copies of the given maps so later
// mutations by the caller cannot leak into in-flight evaluations.
func NewScope(steps, inputs, workflow map[string]any) *Scope {
	return &Scope{
		Steps:    deepCopyMap(steps),
		Inputs:   deepCopyMap(inputs),
		Workflow: deepCopyMap(workflow),
	}
}

// WithIter returns a shallow child scope carrying loop iteration variables.
// Steps/Inputs/Workflow are shared; they are immutable once the scope exists.
func (s *Scope) WithIter(item any, index int) *Scope {
	return &Scope{
		Steps:    s.Steps,
		Inputs:   s.Inputs,
		Workflow: s.Workflow,
		Iter:     &IterVars{Item: deepCopyAny(item), Index: index},
	}
}

// Vars flattens the scope into the map expected by the expression engines.
// Absent namespaces become empty maps so engine lookups never nil-deref.
func (s *Scope) Vars() map[string]any {
	vars := map[string]any{
		"steps":    map[string]any{},
		"inputs":   map[string]any{},
		"workflow": map[string]any{},
		"iter":     map[string]any{},
	}
	if s == nil {
		return vars
	}
	if s.Steps != nil {
		vars["steps"] = s.Steps
	}
	if s.Inputs != nil {
		vars["inputs"] = s.Inputs
	}
	if s.Workflow != nil {
		vars["workflow"] = s.Workflow
	}
	if s.Iter != nil {
		vars["iter"] = map[string]any{"item": s.Iter.Item, "index": s.Iter.Index}
	}
	return vars
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		// Primitives are value types.
		return v
	}
}
