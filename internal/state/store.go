package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avandres/stepflow/pkg/schema"
)

// Config tunes the event-sourced store. SnapshotInterval is the number of
// events between snapshots; CompactionThreshold is the number of events
// allowed past the last snapshot before the log is compacted. Zero values
// take the defaults.
type Config struct {
	SnapshotInterval    int
	CompactionThreshold int
}

const (
	defaultSnapshotInterval    = 20
	defaultCompactionThreshold = 100
)

func (c Config) withDefaults() Config {
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = defaultSnapshotInterval
	}
	if c.CompactionThreshold <= 0 {
		c.CompactionThreshold = defaultCompactionThreshold
	}
	return c
}

// Store is the event-sourced session state store. Every SaveState appends a
// full-state event; snapshots and compaction keep the log bounded without
// losing the ability to replay to any completed step still in the log.
type Store struct {
	repo Repository
	cfg  Config
	log  *slog.Logger

	// latest caches the most recent state per session so hot-path loads
	// skip the repository.
	mu     sync.RWMutex
	latest map[string]*WorkflowState
}

// NewStore creates a Store over the given repository.
func NewStore(repo Repository, cfg Config, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		repo:   repo,
		cfg:    cfg.withDefaults(),
		log:    log,
		latest: make(map[string]*WorkflowState),
	}
}

// SaveState appends a state event for the session, then applies the
// snapshot and compaction policies. The state's SessionID is set from the
// argument; its UpdatedAt is stamped when zero.
func (s *Store) SaveState(ctx context.Context, sessionID string, st *WorkflowState) error {
	if sessionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "session id is required")
	}
	if st == nil {
		return schema.NewError(schema.ErrCodeValidation, "state is nil")
	}

	st.SessionID = sessionID
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(st)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "cannot encode state: %s", err.Error()).WithCause(err)
	}

	event := &Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      schema.EventStateUpdated,
		State:     raw,
		Timestamp: st.UpdatedAt,
	}
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "append event: %s", err.Error()).WithCause(err)
	}

	s.mu.Lock()
	s.latest[sessionID] = st.Clone()
	s.mu.Unlock()

	return s.maintain(ctx, sessionID, event)
}

// maintain applies the snapshot interval and compaction threshold after an
// append. Maintenance failures are logged, not returned: the event is
// already durable and a missed snapshot only defers work.
func (s *Store) maintain(ctx context.Context, sessionID string, last *Event) error {
	count, err := s.repo.CountEvents(ctx, sessionID)
	if err != nil {
		s.log.WarnContext(ctx, "count events failed", "error", err)
		return nil
	}
	if count >= int64(s.cfg.CompactionThreshold) {
		if err := s.CompactSession(ctx, sessionID); err != nil {
			s.log.WarnContext(ctx, "compaction failed", "error", err)
		}
		return nil
	}

	snapSeq := int64(0)
	if snap, err := s.repo.LoadSnapshot(ctx, sessionID); err == nil {
		snapSeq = snap.Sequence
	}
	if last.Sequence-snapSeq >= int64(s.cfg.SnapshotInterval) {
		snap := &Snapshot{
			SessionID: sessionID,
			Sequence:  last.Sequence,
			State:     last.State,
			TakenAt:   time.Now().UTC(),
		}
		if err := s.repo.SaveSnapshot(ctx, snap); err != nil {
			s.log.WarnContext(ctx, "snapshot failed", "error", err)
		}
	}
	return nil
}

// LoadState returns the most recent state for the session: the in-memory
// copy when this process wrote it, else the latest event past the durable
// snapshot, else the snapshot itself.
func (s *Store) LoadState(ctx context.Context, sessionID string) (*WorkflowState, error) {
	s.mu.RLock()
	if st, ok := s.latest[sessionID]; ok {
		s.mu.RUnlock()
		return st.Clone(), nil
	}
	s.mu.RUnlock()

	snap, snapErr := s.repo.LoadSnapshot(ctx, sessionID)

	since := int64(0)
	if snapErr == nil {
		since = snap.Sequence
	}
	events, err := s.repo.LoadEvents(ctx, sessionID, since)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load events: %s", err.Error()).WithCause(err)
	}

	if len(events) > 0 {
		return events[len(events)-1].DecodeState()
	}
	if snapErr == nil {
		return snap.DecodeState()
	}
	return nil, schema.NewErrorf(schema.ErrCodeSessionNotFound, "session %q not found", sessionID)
}

// Replay reconstructs historical state from the event log. With an empty
// toStepName it returns the latest state. Otherwise it returns the state
// as of the named step's most recent completion: the newest state in which
// the step is completed and nothing was recorded after it, so effects of
// later steps are excluded.
func (s *Store) Replay(ctx context.Context, sessionID, toStepName string) (*WorkflowState, error) {
	snap, snapErr := s.repo.LoadSnapshot(ctx, sessionID)

	since := int64(0)
	if snapErr == nil {
		since = snap.Sequence
	}
	events, err := s.repo.LoadEvents(ctx, sessionID, since)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load events: %s", err.Error()).WithCause(err)
	}

	if len(events) == 0 && snapErr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSessionNotFound, "session %q not found", sessionID)
	}

	var states []*WorkflowState
	if snapErr == nil {
		st, err := snap.DecodeState()
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	for _, e := range events {
		st, err := e.DecodeState()
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}

	if toStepName == "" {
		return states[len(states)-1], nil
	}

	for i := len(states) - 1; i >= 0; i-- {
		if stateIsCompletionOf(states[i], toStepName) {
			return states[i], nil
		}
	}

	return nil, schema.NewErrorf(schema.ErrCodeStepNotFound,
		"step %q has no completed record in session %q", toStepName, sessionID).
		WithStep(toStepName)
}

// stateIsCompletionOf reports whether st captures the named step's
// completion as its newest change: the step has a completed record and no
// record carries a later timestamp. Parallel branches are persisted in one
// checkpoint sharing a timestamp, so replaying to any branch of the group
// matches that checkpoint.
func stateIsCompletionOf(st *WorkflowState, stepName string) bool {
	var target *StepRecord
	for i := range st.Steps {
		rec := &st.Steps[i]
		if rec.Name == stepName && rec.Status == schema.StepStatusCompleted {
			target = rec
		}
	}
	if target == nil {
		return false
	}
	for i := range st.Steps {
		if st.Steps[i].Timestamp.After(target.Timestamp) {
			return false
		}
	}
	return true
}

// History returns the live event log for the session (events past the last
// snapshot), oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]*Event, error) {
	since := int64(0)
	if snap, err := s.repo.LoadSnapshot(ctx, sessionID); err == nil {
		since = snap.Sequence
	}
	events, err := s.repo.LoadEvents(ctx, sessionID, since)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load events: %s", err.Error()).WithCause(err)
	}
	return events, nil
}

// CompactSession folds the session's live events into a new snapshot and
// prunes the covered events.
func (s *Store) CompactSession(ctx context.Context, sessionID string) error {
	var snap *Snapshot
	if loaded, err := s.repo.LoadSnapshot(ctx, sessionID); err == nil {
		snap = loaded
	}

	since := int64(0)
	if snap != nil {
		since = snap.Sequence
	}
	events, err := s.repo.LoadEvents(ctx, sessionID, since)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "load events: %s", err.Error()).WithCause(err)
	}

	next, err := Compact(snap, events)
	if err != nil {
		return err
	}
	if next == nil || (snap != nil && next.Sequence == snap.Sequence) {
		return nil
	}

	if err := s.repo.SaveSnapshot(ctx, next); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save snapshot: %s", err.Error()).WithCause(err)
	}
	pruned, err := s.repo.PruneEvents(ctx, sessionID, next.Sequence)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "prune events: %s", err.Error()).WithCause(err)
	}

	s.log.InfoContext(ctx, "compacted session log",
		"session_id", sessionID, "snapshot_seq", next.Sequence, "pruned", pruned)
	return nil
}

// Sessions lists known session IDs.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	return s.repo.Sessions(ctx)
}

// Close releases the underlying repository.
func (s *Store) Close() error {
	return s.repo.Close()
}

// Compact is the pure compaction step: given the current snapshot (nil
// when none exists) and the events recorded after it, it produces the new
// snapshot. Because every event carries the full state, the newest event
// wins; the snapshot only matters when the event list is empty. Calling
// Compact twice with the same inputs yields the same output.
func Compact(snap *Snapshot, events []*Event) (*Snapshot, error) {
	if len(events) == 0 {
		return snap, nil
	}
	last := events[len(events)-1]
	if _, err := last.DecodeState(); err != nil {
		return nil, err
	}
	return &Snapshot{
		SessionID: last.SessionID,
		Sequence:  last.Sequence,
		State:     last.State,
		TakenAt:   time.Now().UTC(),
	}, nil
}
