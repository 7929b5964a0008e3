package state

import (
	"context"
	"sort"
	"sync"

	"github.com/avandres/stepflow/pkg/schema"
)

// MemoryRepository is an in-process Repository for tests and single-run
// sessions. Sequence numbering matches the durable implementation:
// contiguous per session, continuing past pruned events.
type MemoryRepository struct {
	mu        sync.RWMutex
	events    map[string][]*Event
	snapshots map[string]*Snapshot
	lastSeq   map[string]int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		events:    make(map[string][]*Event),
		snapshots: make(map[string]*Snapshot),
		lastSeq:   make(map[string]int64),
	}
}

func (m *MemoryRepository) AppendEvent(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.lastSeq[event.SessionID] + 1
	m.lastSeq[event.SessionID] = seq
	event.Sequence = seq

	cp := *event
	m.events[event.SessionID] = append(m.events[event.SessionID], &cp)
	return nil
}

func (m *MemoryRepository) LoadEvents(_ context.Context, sessionID string, since int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for _, e := range m.events[sessionID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRepository) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *snap
	m.snapshots[snap.SessionID] = &cp
	return nil
}

func (m *MemoryRepository) LoadSnapshot(_ context.Context, sessionID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[sessionID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no snapshot for session %q", sessionID)
	}
	cp := *snap
	return &cp, nil
}

func (m *MemoryRepository) CountEvents(_ context.Context, sessionID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.events[sessionID])), nil
}

func (m *MemoryRepository) PruneEvents(_ context.Context, sessionID string, upTo int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[sessionID][:0:0]
	var pruned int64
	for _, e := range m.events[sessionID] {
		if e.Sequence <= upTo {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	m.events[sessionID] = kept
	return pruned, nil
}

func (m *MemoryRepository) Sessions(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for id := range m.events {
		seen[id] = struct{}{}
	}
	for id := range m.snapshots {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryRepository) Close() error { return nil }

// EventCount reports the number of live events for a session. Test helper.
func (m *MemoryRepository) EventCount(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events[sessionID])
}

var _ Repository = (*MemoryRepository)(nil)
