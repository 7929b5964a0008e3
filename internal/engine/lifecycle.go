package engine

import "github.com/avandres/stepflow/pkg/schema"

// validWorkflowTransitions is the session lifecycle: a run is created
// pending, moves to running when execution starts, and ends completed or
// failed. Terminal states have no outgoing edges.
var validWorkflowTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	schema.WorkflowStatusPending: {schema.WorkflowStatusRunning},
	schema.WorkflowStatusRunning: {schema.WorkflowStatusCompleted, schema.WorkflowStatusFailed},
}

// transitionWorkflow validates a session status change and applies it.
func transitionWorkflow(from, to schema.WorkflowStatus) (schema.WorkflowStatus, error) {
	for _, allowed := range validWorkflowTransitions[from] {
		if allowed == to {
			return to, nil
		}
	}
	return from, schema.NewErrorf(schema.ErrCodeExecution,
		"invalid session transition: %s -> %s", from, to)
}
