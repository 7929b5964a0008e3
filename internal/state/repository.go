package state

import "context"

// Repository is the persistence surface for session event logs and
// snapshots. Implementations assign event sequence numbers atomically per
// session.
type Repository interface {
	// AppendEvent persists the event and fills in its Sequence.
	AppendEvent(ctx context.Context, event *Event) error

	// LoadEvents returns the session's events with sequence > since, in
	// ascending sequence order.
	LoadEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error)

	// SaveSnapshot persists the snapshot, replacing any earlier snapshot
	// for the same session.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// LoadSnapshot returns the session's snapshot, or a NOT_FOUND error
	// when none exists.
	LoadSnapshot(ctx context.Context, sessionID string) (*Snapshot, error)

	// CountEvents returns the number of live (unpruned) events for the
	// session.
	CountEvents(ctx context.Context, sessionID string) (int64, error)

	// PruneEvents deletes events with sequence <= upTo and returns the
	// number removed. Sequence numbering continues from the pre-prune
	// maximum.
	PruneEvents(ctx context.Context, sessionID string, upTo int64) (int64, error)

	// Sessions lists the session IDs known to the repository.
	Sessions(ctx context.Context) ([]string, error)

	Close() error
}
