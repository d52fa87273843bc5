package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"slowpress/internal/types"
)

// ScheduleRepository provides data access for the scheduled_entries and
// prepublish_timers tables. Entries are never deleted; cancellation flips the
// status column.
type ScheduleRepository struct {
	db DBTX
}

// NewScheduleRepository creates a ScheduleRepository backed by the given
// database connection (pool or transaction).
func NewScheduleRepository(db DBTX) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const entryColumns = `id, content_type, content_ref, author_id, publish_at, status, timezone, version, created_at, updated_at`

func scanEntry(row pgx.Row) (*types.ScheduledEntry, error) {
	var e types.ScheduledEntry
	err := row.Scan(&e.ID, &e.ContentType, &e.ContentRef, &e.AuthorID, &e.PublishAt,
		&e.Status, &e.Timezone, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts a new scheduled entry. The caller must set the ID and
// required fields; created_at/updated_at default to NOW().
func (r *ScheduleRepository) Create(ctx context.Context, e *types.ScheduledEntry) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO scheduled_entries
		 (id, content_type, content_ref, author_id, publish_at, status, timezone, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		e.ID,
		string(e.ContentType),
		e.ContentRef,
		e.AuthorID,
		e.PublishAt,
		string(e.Status),
		e.Timezone,
		e.Version,
	)
	if err := row.Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create scheduled entry", err)
	}
	return nil
}

// Update rewrites the mutable columns of an entry and bumps updated_at.
// The version column is written as-is; callers increment it before saving.
func (r *ScheduleRepository) Update(ctx context.Context, e *types.ScheduledEntry) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_entries
		 SET publish_at = $2, status = $3, timezone = $4, version = $5, updated_at = NOW()
		 WHERE id = $1`,
		e.ID,
		e.PublishAt,
		string(e.Status),
		e.Timezone,
		e.Version,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update scheduled entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundEntry, "scheduled entry not found: "+e.ID, nil)
	}
	return nil
}

// GetByID returns the entry with the given id, or nil if it does not exist.
func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*types.ScheduledEntry, error) {
	e, err := scanEntry(r.db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM scheduled_entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load scheduled entry", err)
	}
	return e, nil
}

// GetByAuthor returns all entries for an author, newest first.
func (r *ScheduleRepository) GetByAuthor(ctx context.Context, authorID string) ([]*types.ScheduledEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+entryColumns+` FROM scheduled_entries
		 WHERE author_id = $1 ORDER BY created_at DESC`, authorID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list entries by author", err)
	}
	defer rows.Close()

	var entries []*types.ScheduledEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan scheduled entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list entries by author", err)
	}
	return entries, nil
}

// GetDue returns entries with status='scheduled' and publish_at <= now.
// The boundary publish_at == now is included. Results are ordered by
// publish_at ascending so a batch slice takes the longest-waiting items first.
func (r *ScheduleRepository) GetDue(ctx context.Context, now time.Time) ([]*types.ScheduledEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+entryColumns+` FROM scheduled_entries
		 WHERE status = 'scheduled' AND publish_at <= $1
		 ORDER BY publish_at ASC`, now)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due entries", err)
	}
	defer rows.Close()

	var entries []*types.ScheduledEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan due entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due entries", err)
	}
	return entries, nil
}

// CountByStatus returns the number of entries in the given status. Used by
// the monitoring metrics collector.
func (r *ScheduleRepository) CountByStatus(ctx context.Context, status types.EntryStatus) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM scheduled_entries WHERE status = $1`, string(status)).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count entries", err)
	}
	return count, nil
}

// UpsertTimer arms or re-arms the durable pre-publish timer for an entry.
// Keyed by entry id: re-arming replaces the previous fires-at and clears the
// fired flag, so a rescheduled entry fires exactly once at the new instant.
func (r *ScheduleRepository) UpsertTimer(ctx context.Context, t *types.PrepublishTimer) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO prepublish_timers (entry_id, author_id, fires_at, fired)
		 VALUES ($1, $2, $3, FALSE)
		 ON CONFLICT (entry_id) DO UPDATE
		 SET author_id = EXCLUDED.author_id, fires_at = EXCLUDED.fires_at, fired = FALSE`,
		t.EntryID,
		t.AuthorID,
		t.FiresAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to arm prepublish timer", err)
	}
	return nil
}

// DeleteTimer disarms the pre-publish timer for an entry. Deleting a timer
// that does not exist is not an error.
func (r *ScheduleRepository) DeleteTimer(ctx context.Context, entryID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM prepublish_timers WHERE entry_id = $1`, entryID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to disarm prepublish timer", err)
	}
	return nil
}

// DueTimers returns unfired timers whose fires_at has passed.
func (r *ScheduleRepository) DueTimers(ctx context.Context, now time.Time) ([]*types.PrepublishTimer, error) {
	rows, err := r.db.Query(ctx,
		`SELECT entry_id, author_id, fires_at, fired FROM prepublish_timers
		 WHERE fired = FALSE AND fires_at <= $1
		 ORDER BY fires_at ASC`, now)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due timers", err)
	}
	defer rows.Close()

	var timers []*types.PrepublishTimer
	for rows.Next() {
		var t types.PrepublishTimer
		if err := rows.Scan(&t.EntryID, &t.AuthorID, &t.FiresAt, &t.Fired); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan timer", err)
		}
		timers = append(timers, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due timers", err)
	}
	return timers, nil
}

// MarkTimerFired records that the timer for an entry has emitted its
// notification, preventing repeat fires on later scans.
func (r *ScheduleRepository) MarkTimerFired(ctx context.Context, entryID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE prepublish_timers SET fired = TRUE WHERE entry_id = $1`, entryID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark timer fired", err)
	}
	return nil
}
