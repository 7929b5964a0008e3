package tool

import (
	"context"
	"encoding/json"

	"github.com/avandres/stepflow/pkg/schema"
)

// Tool is an executable unit invoked by tool and agent steps. Execute
// returns the raw output or an error; policy (caching, retry, timeout) is
// declared in the Spec and applied by the Executor, never by the tool
// itself.
type Tool interface {
	Name() string
	Spec() Spec
	Execute(ctx context.Context, params json.RawMessage) (any, error)
}

// Spec declares a tool's contract and execution policy. Nil policies mean
// the corresponding middleware stage is skipped for this tool.
type Spec struct {
	Description string              `json:"description,omitempty"`
	ParamSchema json.RawMessage     `json:"param_schema,omitempty"`
	Cache       *schema.CachePolicy `json:"cache,omitempty"`
	Retry       *schema.RetryPolicy `json:"retry,omitempty"`
	Timeout     schema.Duration     `json:"timeout,omitempty"`
}

// Info is a summary of a registered tool for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Func adapts a plain function into a Tool.
type Func struct {
	name string
	spec Spec
	fn   func(ctx context.Context, params json.RawMessage) (any, error)
}

// NewFunc creates a function-backed tool.
func NewFunc(name string, spec Spec, fn func(ctx context.Context, params json.RawMessage) (any, error)) *Func {
	return &Func{name: name, spec: spec, fn: fn}
}

func (f *Func) Name() string { return f.name }
func (f *Func) Spec() Spec   { return f.spec }

func (f *Func) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	return f.fn(ctx, params)
}

var _ Tool = (*Func)(nil)
