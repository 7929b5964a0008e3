package schema

// EventStateUpdated is the sole event type appended by the state store:
// every state mutation is recorded as a full-state event.
const EventStateUpdated = "state:updated"

// Stream event types emitted during execution. These never enter the
// durable log; they feed live subscribers only.
const (
	EventStepStarted       = "step:started"
	EventStepCompleted     = "step:completed"
	EventStepFailed        = "step:failed"
	EventWorkflowStarted   = "workflow:started"
	EventWorkflowCompleted = "workflow:completed"
	EventWorkflowFailed    = "workflow:failed"
)

// WorkflowStatus represents the lifecycle state of a workflow session.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// StepStatus represents the lifecycle state of a step within a session.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusFailed    StepStatus = "failed"
)
