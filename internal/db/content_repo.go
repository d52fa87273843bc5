package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"slowpress/internal/types"
)

// ContentRepository is the engine's window onto the content store. The full
// post/comment documents belong to the web application; the engine only
// reads identity fields and flips publication status.
type ContentRepository struct {
	db DBTX
}

// NewContentRepository creates a ContentRepository backed by the given
// database connection (pool or transaction).
func NewContentRepository(db DBTX) *ContentRepository {
	return &ContentRepository{db: db}
}

const contentColumns = `id, type, author_id, title, status, publish_at, published_at`

func scanContent(row pgx.Row) (*types.Content, error) {
	var c types.Content
	var publishedAt *time.Time
	err := row.Scan(&c.ID, &c.Type, &c.AuthorID, &c.Title, &c.Status, &c.PublishAt, &publishedAt)
	if err != nil {
		return nil, err
	}
	if publishedAt != nil {
		c.PublishedAt = *publishedAt
	}
	return &c, nil
}

// FindByID returns the content with the given id and type, or nil if absent.
func (r *ContentRepository) FindByID(ctx context.Context, id string, ct types.ContentType) (*types.Content, error) {
	c, err := scanContent(r.db.QueryRow(ctx,
		`SELECT `+contentColumns+` FROM contents WHERE id = $1 AND type = $2`,
		id, string(ct)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load content", err)
	}
	return c, nil
}

// Insert stores a content row. Used when the scheduling entry point also
// persists the content snapshot, and by tests seeding the store.
func (r *ContentRepository) Insert(ctx context.Context, c *types.Content) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO contents (id, type, author_id, title, status, publish_at, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID,
		string(c.Type),
		c.AuthorID,
		c.Title,
		string(c.Status),
		c.PublishAt,
		nilIfZeroTime(c.PublishedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert content", err)
	}
	return nil
}

// Upsert stores a content row, replacing any existing row with the same
// identity. Offline queue replay uses it so that a retried create and a
// deferred update land the same way.
func (r *ContentRepository) Upsert(ctx context.Context, c *types.Content) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO contents (id, type, author_id, title, status, publish_at, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   type = EXCLUDED.type,
		   author_id = EXCLUDED.author_id,
		   title = EXCLUDED.title,
		   status = EXCLUDED.status,
		   publish_at = EXCLUDED.publish_at,
		   published_at = EXCLUDED.published_at`,
		c.ID,
		string(c.Type),
		c.AuthorID,
		c.Title,
		string(c.Status),
		c.PublishAt,
		nilIfZeroTime(c.PublishedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert content", err)
	}
	return nil
}

// Delete removes a content row. Missing rows are not an error so that
// replayed deletes stay idempotent.
func (r *ContentRepository) Delete(ctx context.Context, id string, ct types.ContentType) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM contents WHERE id = $1 AND type = $2`, id, string(ct))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete content", err)
	}
	return nil
}

// MarkPublished flips the content to published with the given timestamp.
func (r *ContentRepository) MarkPublished(ctx context.Context, id string, ct types.ContentType, publishedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE contents SET status = 'published', published_at = $3
		 WHERE id = $1 AND type = $2`,
		id, string(ct), publishedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark content published", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundContent, "content not found: "+id, nil)
	}
	return nil
}

// FindDue returns identity pairs for content whose own status is scheduled
// and whose publish_at has passed. This is the store-level notion of "due",
// distinct from the scheduling registry's; callers keep the two consistent.
func (r *ContentRepository) FindDue(ctx context.Context, now time.Time) ([]types.Content, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+contentColumns+` FROM contents
		 WHERE status = 'scheduled' AND publish_at <= $1
		 ORDER BY publish_at ASC`, now)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due content", err)
	}
	defer rows.Close()

	var due []types.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan due content", err)
		}
		due = append(due, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due content", err)
	}
	return due, nil
}

// IsDue reports whether the single content item is scheduled and past its
// publish_at, mirroring the FindDue predicate.
func (r *ContentRepository) IsDue(ctx context.Context, id string, ct types.ContentType, now time.Time) (bool, error) {
	var due bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM contents
		   WHERE id = $1 AND type = $2 AND status = 'scheduled' AND publish_at <= $3
		 )`,
		id, string(ct), now).Scan(&due)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check due content", err)
	}
	return due, nil
}

// CountByStatus returns the number of content rows in the given status.
func (r *ContentRepository) CountByStatus(ctx context.Context, status types.EntryStatus) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM contents WHERE status = $1`, string(status)).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count content", err)
	}
	return count, nil
}
