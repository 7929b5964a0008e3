package diagram

// Kind classifies a diagram node by its step variant.
type Kind string

const (
	KindAction   Kind = "action"
	KindDecision Kind = "decision"
	KindAgent    Kind = "agent"
	KindParallel Kind = "parallel"
	KindLoop     Kind = "loop"
	KindWait     Kind = "wait"
	KindSubflow  Kind = "subflow"
	KindStart    Kind = "start"
	KindEnd      Kind = "end"
)

// Model is the intermediate representation shared by all renderers. Nodes
// are in execution order; the main flow is the sequential chain through
// them, with nested groups for branches and bodies.
type Model struct {
	Title string
	Nodes []*Node
}

// Node is one step in the diagram. Groups hold nested steps: parallel
// branches, conditional arms, loop bodies, sub-workflow steps.
type Node struct {
	Name   string
	Label  string
	Kind   Kind
	Status *StatusOverlay
	Groups []*Group
}

// Group is a labeled set of nested nodes.
type Group struct {
	Label string
	Nodes []*Node
}

// StatusOverlay carries a session's recorded outcome for a node.
type StatusOverlay struct {
	Status string
	Error  string
}
