package state

import (
	"encoding/json"
	"time"

	"github.com/avandres/stepflow/pkg/schema"
)

// StepRecord is the persisted outcome of a single step within a session.
// Records keep insertion order, which is the execution order.
type StepRecord struct {
	Name      string            `json:"name"`
	Status    schema.StepStatus `json:"status"`
	Result    any               `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// WorkflowState is the full materialized state of a session: workflow
// status plus the ordered step records. Every persisted event carries a
// complete WorkflowState, so any event can serve as a recovery point on
// its own.
type WorkflowState struct {
	SessionID string                `json:"session_id"`
	Workflow  string                `json:"workflow"`
	Status    schema.WorkflowStatus `json:"status"`
	Steps     []StepRecord          `json:"steps,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Clone returns a copy with its own step slice. Step results are shared;
// callers treat recorded results as immutable.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Steps = make([]StepRecord, len(s.Steps))
	copy(cp.Steps, s.Steps)
	return &cp
}

// UpsertStep records a step outcome, replacing an earlier record with the
// same name (retried or re-entered steps) while keeping its original
// position.
func (s *WorkflowState) UpsertStep(rec StepRecord) {
	for i := range s.Steps {
		if s.Steps[i].Name == rec.Name {
			s.Steps[i] = rec
			return
		}
	}
	s.Steps = append(s.Steps, rec)
}

// StepCompleted reports whether the named step has a completed record.
func (s *WorkflowState) StepCompleted(name string) bool {
	for i := range s.Steps {
		if s.Steps[i].Name == name {
			return s.Steps[i].Status == schema.StepStatusCompleted
		}
	}
	return false
}

// StepFinished reports whether the named step has a completed or skipped
// record. A skipped step produced no result and is not re-run on resume.
func (s *WorkflowState) StepFinished(name string) bool {
	for i := range s.Steps {
		if s.Steps[i].Name == name {
			status := s.Steps[i].Status
			return status == schema.StepStatusCompleted || status == schema.StepStatusSkipped
		}
	}
	return false
}

// ContextValues rebuilds the accumulated execution context from completed
// step records, in execution order.
func (s *WorkflowState) ContextValues() map[string]any {
	values := make(map[string]any, len(s.Steps))
	for i := range s.Steps {
		if s.Steps[i].Status == schema.StepStatusCompleted {
			values[s.Steps[i].Name] = s.Steps[i].Result
		}
	}
	return values
}

// Event is one entry in a session's append-only log. Sequence numbers are
// assigned by the repository, contiguous and strictly increasing per
// session. State holds the full WorkflowState at the time of the event.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Sequence  int64           `json:"sequence"`
	State     json.RawMessage `json:"state"`
	Timestamp time.Time       `json:"timestamp"`
}

// DecodeState unmarshals the event's state payload.
func (e *Event) DecodeState() (*WorkflowState, error) {
	var st WorkflowState
	if err := json.Unmarshal(e.State, &st); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"corrupt state in event %d of session %s: %s", e.Sequence, e.SessionID, err.Error()).
			WithCause(err)
	}
	return &st, nil
}

// Snapshot is a materialized WorkflowState at a known sequence. Events with
// sequence <= Sequence are redundant once the snapshot exists.
type Snapshot struct {
	SessionID string          `json:"session_id"`
	Sequence  int64           `json:"sequence"`
	State     json.RawMessage `json:"state"`
	TakenAt   time.Time       `json:"taken_at"`
}

// DecodeState unmarshals the snapshot's state payload.
func (s *Snapshot) DecodeState() (*WorkflowState, error) {
	var st WorkflowState
	if err := json.Unmarshal(s.State, &st); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"corrupt state in snapshot of session %s: %s", s.SessionID, err.Error()).
			WithCause(err)
	}
	return &st, nil
}
