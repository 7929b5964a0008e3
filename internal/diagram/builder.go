package diagram

import (
	"fmt"

	"github.com/avandres/stepflow/internal/state"
	"github.com/avandres/stepflow/pkg/schema"
)

// Build constructs a Model from a workflow definition. st may be nil; when
// given, each node whose name has a step record gets a status overlay, so a
// session's progress renders into the diagram.
func Build(def *schema.WorkflowDefinition, st *state.WorkflowState) *Model {
	records := make(map[string]*state.StepRecord)
	if st != nil {
		for i := range st.Steps {
			records[st.Steps[i].Name] = &st.Steps[i]
		}
	}

	nodes := make([]*Node, 0, len(def.Steps)+2)
	nodes = append(nodes, &Node{Name: "__start__", Label: "Start", Kind: KindStart})
	for i := range def.Steps {
		nodes = append(nodes, buildNode(&def.Steps[i], records))
	}
	nodes = append(nodes, &Node{Name: "__end__", Label: "End", Kind: KindEnd})

	return &Model{Title: def.Name, Nodes: nodes}
}

func buildNode(step *schema.Step, records map[string]*state.StepRecord) *Node {
	node := &Node{
		Name:  step.Name,
		Label: nodeLabel(step),
		Kind:  stepKind(step.Type),
	}
	overlayStatus(node, records)

	switch step.Type {
	case schema.StepParallel:
		group := &Group{Label: "branches"}
		for i := range step.Parallel {
			group.Nodes = append(group.Nodes, buildNode(&step.Parallel[i], records))
		}
		node.Groups = append(node.Groups, group)
	case schema.StepConditional:
		if step.Conditional != nil {
			if step.Conditional.IfTrue != nil {
				node.Groups = append(node.Groups, &Group{
					Label: "true",
					Nodes: []*Node{buildNode(step.Conditional.IfTrue, records)},
				})
			}
			if step.Conditional.IfFalse != nil {
				node.Groups = append(node.Groups, &Group{
					Label: "false",
					Nodes: []*Node{buildNode(step.Conditional.IfFalse, records)},
				})
			}
		}
	case schema.StepLoop:
		if step.Loop != nil && step.Loop.Body != nil {
			node.Groups = append(node.Groups, &Group{
				Label: "body",
				Nodes: []*Node{buildNode(step.Loop.Body, records)},
			})
		}
	case schema.StepWorkflow:
		if step.Workflow != nil {
			group := &Group{Label: step.Workflow.Name}
			for i := range step.Workflow.Steps {
				// Nested sessions keep their own records; no overlay here.
				group.Nodes = append(group.Nodes, buildNode(&step.Workflow.Steps[i], nil))
			}
			node.Groups = append(node.Groups, group)
		}
	}
	return node
}

func stepKind(st schema.StepType) Kind {
	switch st {
	case schema.StepConditional:
		return KindDecision
	case schema.StepAgent:
		return KindAgent
	case schema.StepParallel:
		return KindParallel
	case schema.StepLoop:
		return KindLoop
	case schema.StepApproval, schema.StepInput:
		return KindWait
	case schema.StepWorkflow:
		return KindSubflow
	default:
		return KindAction
	}
}

func nodeLabel(step *schema.Step) string {
	if step.Type == schema.StepTool && step.Tool != nil {
		return fmt.Sprintf("%s (%s)", step.Name, step.Tool.Name)
	}
	return step.Name
}

func overlayStatus(node *Node, records map[string]*state.StepRecord) {
	if rec, ok := records[node.Name]; ok {
		node.Status = &StatusOverlay{
			Status: string(rec.Status),
			Error:  rec.Error,
		}
	}
}
