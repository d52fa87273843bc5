// Package offline parks side effects that could not reach their backend:
// content writes in a durable SQLite queue that survives restarts, and
// notification emails in a volatile in-memory queue. Both drain on an
// interval and drop envelopes that exhaust their attempts.
package offline

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"slowpress/internal/types"
)

// OpenStore opens (or creates) the SQLite file backing the durable content
// queue and ensures its schema.
func OpenStore(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS content_queue (
  id TEXT PRIMARY KEY,
  operation TEXT NOT NULL CHECK(operation IN ('create','update','delete')),
  payload BLOB NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_attempt DATETIME,
  error TEXT,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_content_queue_created ON content_queue(created_at);
`
	_, err := db.Exec(schema)
	return err
}

// SQLiteQueue is the durable envelope store for deferred content writes.
type SQLiteQueue struct {
	db *sql.DB
}

// NewSQLiteQueue wraps an opened store.
func NewSQLiteQueue(db *sql.DB) *SQLiteQueue {
	return &SQLiteQueue{db: db}
}

// Append inserts a new envelope at the tail of the queue.
func (q *SQLiteQueue) Append(ctx context.Context, env *types.QueueEnvelope) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO content_queue (id, operation, payload, attempts, created_at)
VALUES (?, ?, ?, 0, ?)`,
		env.ID, string(env.Operation), env.Payload, env.CreatedAt)
	return err
}

// List returns the queue in insertion order.
func (q *SQLiteQueue) List(ctx context.Context) ([]*types.QueueEnvelope, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT id, operation, payload, attempts, last_attempt, error, created_at
FROM content_queue ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.QueueEnvelope
	for rows.Next() {
		var env types.QueueEnvelope
		var op string
		var lastAttempt sql.NullTime
		var errStr sql.NullString
		if err := rows.Scan(&env.ID, &op, &env.Payload, &env.Attempts, &lastAttempt, &errStr, &env.CreatedAt); err != nil {
			return nil, err
		}
		env.Operation = types.QueueOperation(op)
		if lastAttempt.Valid {
			env.LastAttempt = lastAttempt.Time
		}
		if errStr.Valid {
			env.Error = errStr.String
		}
		out = append(out, &env)
	}
	return out, rows.Err()
}

// MarkAttempt records a failed delivery attempt on an envelope.
func (q *SQLiteQueue) MarkAttempt(ctx context.Context, id, errStr string, at time.Time) error {
	_, err := q.db.ExecContext(ctx, `
UPDATE content_queue SET attempts = attempts + 1, last_attempt = ?, error = ? WHERE id = ?`,
		at, errStr, id)
	return err
}

// Remove deletes one envelope. Removing a missing id is a no-op.
func (q *SQLiteQueue) Remove(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM content_queue WHERE id = ?`, id)
	return err
}

// Clear empties the queue.
func (q *SQLiteQueue) Clear(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM content_queue`)
	return err
}

// Size returns the number of parked envelopes.
func (q *SQLiteQueue) Size(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_queue`).Scan(&n)
	return n, err
}
