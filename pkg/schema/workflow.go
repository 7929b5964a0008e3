package schema

import (
	"context"
	"encoding/json"
	"time"
)

// WorkflowDefinition is the declarative form of a workflow: an ordered list
// of step definitions plus optional input defaults. Builders and config
// loaders produce this; the engine consumes it.
type WorkflowDefinition struct {
	Name     string         `json:"name"`
	Steps    []Step         `json:"steps"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StepType enumerates the kinds of steps in a workflow. The set is closed:
// the engine resolves each tag through a dispatch table, so adding a kind is
// a local change in the engine package.
type StepType string

const (
	StepPrompt      StepType = "prompt"
	StepTool        StepType = "tool"
	StepAgent       StepType = "agent"
	StepParallel    StepType = "parallel"
	StepConditional StepType = "conditional"
	StepLoop        StepType = "loop"
	StepApproval    StepType = "approval"
	StepInput       StepType = "input"
	StepCustom      StepType = "custom"
	StepWorkflow    StepType = "workflow"
)

// HandlerFunc is an arbitrary step handler invoked with the accumulated
// context (step name -> result). Used by custom steps and as inline
// predicates/producers where an expression string is not enough.
type HandlerFunc func(ctx context.Context, values map[string]any) (any, error)

// ItemHandlerFunc is invoked once per loop item, in index order.
type ItemHandlerFunc func(ctx context.Context, item any, index int, values map[string]any) (any, error)

// Step describes a single named unit of work. Name must be unique within a
// workflow. Exactly one of the type-specific config fields is set, matching
// Type. Steps are immutable once the list is handed to the engine.
type Step struct {
	Name string   `json:"name"`
	Type StepType `json:"type"`

	Prompt      *PromptConfig       `json:"prompt,omitempty"`
	Tool        *ToolConfig         `json:"tool,omitempty"`
	Agent       *AgentConfig        `json:"agent,omitempty"`
	Parallel    []Step              `json:"parallel,omitempty"`
	Conditional *ConditionalConfig  `json:"conditional,omitempty"`
	Loop        *LoopConfig         `json:"loop,omitempty"`
	Approval    *ApprovalConfig     `json:"approval,omitempty"`
	Input       *InputConfig        `json:"input,omitempty"`
	Custom      HandlerFunc         `json:"-"`
	Workflow    *WorkflowDefinition `json:"workflow,omitempty"`
}

// PromptConfig resolves a template against the accumulated context.
// Template uses ${{ ... }} interpolation; Build, when set, takes precedence
// and produces the template text from the context at execution time.
type PromptConfig struct {
	Template string      `json:"template,omitempty"`
	Build    HandlerFunc `json:"-"`
}

// ToolConfig invokes a registered tool through the tool executor. Params may
// contain ${{ ... }} references resolved before invocation.
type ToolConfig struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params,omitempty"`
}

// AgentConfig is a bounded agentic loop: alternate model responses and tool
// calls until the model produces a final answer or MaxSteps iterations
// elapse, at which point the fallback is invoked. MaxSteps must be positive;
// zero or negative is a configuration error rejected before execution.
type AgentConfig struct {
	Prompt   string      `json:"prompt"`
	Tools    []string    `json:"tools,omitempty"`
	MaxSteps int         `json:"max_steps"`
	Fallback HandlerFunc `json:"-"`
	// FallbackExpr is an expr-lang expression evaluated against the context
	// when no Fallback func is set.
	FallbackExpr string `json:"fallback_expr,omitempty"`
}

// ConditionalConfig evaluates a predicate and executes exactly one branch.
// Predicate is a CEL expression over {steps, inputs, workflow}; When, if
// set, takes precedence. A false predicate with no IfFalse yields no result.
type ConditionalConfig struct {
	Predicate string      `json:"predicate,omitempty"`
	When      HandlerFunc `json:"-"`
	IfTrue    *Step       `json:"if_true,omitempty"`
	IfFalse   *Step       `json:"if_false,omitempty"`
}

// LoopConfig produces a sequence and applies a per-item handler to each
// element sequentially, in index order, aggregating results into an ordered
// list. Items is a jq expression over the context; Produce, if set, takes
// precedence and must return a slice. A single item failure aborts the loop.
type LoopConfig struct {
	Items   string          `json:"items,omitempty"`
	Produce HandlerFunc     `json:"-"`
	Handler ItemHandlerFunc `json:"-"`
	// Body, when Handler is nil, is executed once per item with the item
	// and index exposed under the "iter" interpolation namespace.
	Body *Step `json:"body,omitempty"`
}

// ApprovalConfig suspends until an external confirmation arrives, the
// timeout elapses, or the run is cancelled. On timeout the Fallback value is
// used as the step result.
type ApprovalConfig struct {
	Message  string   `json:"message"`
	Timeout  Duration `json:"timeout,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Fallback any      `json:"fallback,omitempty"`
}

// InputConfig suspends until an external value is injected. The value is
// validated against Schema when present. On timeout the Default is used.
type InputConfig struct {
	Prompt  string          `json:"prompt,omitempty"`
	Schema  json.RawMessage `json:"schema,omitempty"`
	Default any             `json:"default,omitempty"`
	Choices []string        `json:"choices,omitempty"`
	Timeout Duration        `json:"timeout,omitempty"`
}

// RetryPolicy configures retry behavior for a tool. Backoff is "linear"
// (attempt * delay) or "exponential" (2^(attempt-1) * delay). Delay defaults
// to one second when zero.
type RetryPolicy struct {
	MaxAttempts int      `json:"max_attempts"`
	Backoff     string   `json:"backoff,omitempty"`
	Delay       Duration `json:"delay,omitempty"`
}

// CachePolicy marks a tool cacheable with a wall-clock TTL. Entries are
// never served past expiry even when cleanup is lazy.
type CachePolicy struct {
	TTL Duration `json:"ttl"`
}

// Duration is a time.Duration that marshals as a Go duration string
// (e.g. "30s", "5m") in JSON workflow definitions.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
