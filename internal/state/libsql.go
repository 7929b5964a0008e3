package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/avandres/stepflow/pkg/schema"
)

// LibSQLRepository is the durable Repository backed by libSQL (embedded
// SQLite fork). It also persists vault ciphertext, satisfying
// secrets.SecretStore.
type LibSQLRepository struct {
	db *sql.DB
}

// NewLibSQLRepository opens a libSQL database at the given path and applies
// pending migrations. The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLRepository(ctx context.Context, dbPath string) (*LibSQLRepository, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	repo := &LibSQLRepository{db: db}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// DB returns the underlying *sql.DB.
func (r *LibSQLRepository) DB() *sql.DB { return r.db }

// Close closes the database.
func (r *LibSQLRepository) Close() error { return r.db.Close() }

// Vacuum runs VACUUM on the database. Useful after heavy compaction.
func (r *LibSQLRepository) Vacuum(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "VACUUM")
	return err
}

func (r *LibSQLRepository) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Next sequence for this session. The sequence counter survives pruning
	// so compaction never causes sequence reuse.
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT last_sequence + 1 FROM session_sequences WHERE session_id = ?`, event.SessionID,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		seq = 1
	} else if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_sequences (session_id, last_sequence) VALUES (?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET last_sequence=excluded.last_sequence`,
		event.SessionID, seq,
	); err != nil {
		return fmt.Errorf("advance sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_events (id, session_id, event_type, sequence, state, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.SessionID, event.Type, seq, string(event.State), timeOrNow(event.Timestamp),
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (r *LibSQLRepository) LoadEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, sequence, state, timestamp
		 FROM session_events WHERE session_id = ? AND sequence > ? ORDER BY sequence ASC`,
		sessionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stateJSON string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Sequence, &stateJSON, &e.Timestamp); err != nil {
			return nil, err
		}
		e.State = []byte(stateJSON)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *LibSQLRepository) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_snapshots (session_id, sequence, state, taken_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   sequence=excluded.sequence, state=excluded.state, taken_at=excluded.taken_at`,
		snap.SessionID, snap.Sequence, string(snap.State), timeOrNow(snap.TakenAt),
	)
	return err
}

func (r *LibSQLRepository) LoadSnapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	snap := &Snapshot{}
	var stateJSON string
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id, sequence, state, taken_at FROM session_snapshots WHERE session_id = ?`,
		sessionID,
	).Scan(&snap.SessionID, &snap.Sequence, &stateJSON, &snap.TakenAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("snapshot", sessionID)
	}
	if err != nil {
		return nil, err
	}
	snap.State = []byte(stateJSON)
	return snap, nil
}

func (r *LibSQLRepository) CountEvents(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_events WHERE session_id = ?`, sessionID,
	).Scan(&count)
	return count, err
}

func (r *LibSQLRepository) PruneEvents(ctx context.Context, sessionID string, upTo int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM session_events WHERE session_id = ? AND sequence <= ?`, sessionID, upTo,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *LibSQLRepository) Sessions(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id FROM session_sequences ORDER BY session_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Secrets (vault ciphertext) ---

func (r *LibSQLRepository) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, rotated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (r *LibSQLRepository) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	return value, err
}

func (r *LibSQLRepository) DeleteSecret(ctx context.Context, key string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (r *LibSQLRepository) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

var _ Repository = (*LibSQLRepository)(nil)
