package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"slowpress/internal/types"
)

// NotificationRepository provides data access for the notifications and
// notification_preferences tables.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a NotificationRepository backed by the
// given database connection (pool or transaction).
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, user_id, type, title, message, content_id, content_type, read, created_at, updated_at, expires_at`

func scanNotification(row pgx.Row) (*types.Notification, error) {
	var n types.Notification
	var contentID, contentType *string
	err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message,
		&contentID, &contentType, &n.Read, &n.CreatedAt, &n.UpdatedAt, &n.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if contentID != nil {
		n.ContentID = *contentID
	}
	if contentType != nil {
		n.ContentType = types.ContentType(*contentType)
	}
	return &n, nil
}

// Create inserts a notification record. The caller must set the ID, user,
// type, and expiry before calling.
func (r *NotificationRepository) Create(ctx context.Context, n *types.Notification) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO notifications
		 (id, user_id, type, title, message, content_id, content_type, read, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		 RETURNING created_at, updated_at`,
		n.ID,
		n.UserID,
		string(n.Type),
		n.Title,
		n.Message,
		nilIfEmpty(n.ContentID),
		nilIfEmpty(string(n.ContentType)),
		n.ExpiresAt,
	)
	if err := row.Scan(&n.CreatedAt, &n.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create notification", err)
	}
	return nil
}

// MarkRead flips the read flag and bumps updated_at.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET read = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark notification read", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundNotification, "notification not found: "+id, nil)
	}
	return nil
}

// Delete removes a notification record.
func (r *NotificationRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete notification", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundNotification, "notification not found: "+id, nil)
	}
	return nil
}

// GetByUser returns all non-expired notifications for a user, newest first.
func (r *NotificationRepository) GetByUser(ctx context.Context, userID string) ([]*types.Notification, error) {
	return r.listByUser(ctx, userID, false)
}

// GetUnreadByUser returns unread, non-expired notifications for a user.
func (r *NotificationRepository) GetUnreadByUser(ctx context.Context, userID string) ([]*types.Notification, error) {
	return r.listByUser(ctx, userID, true)
}

func (r *NotificationRepository) listByUser(ctx context.Context, userID string, unreadOnly bool) ([]*types.Notification, error) {
	q := `SELECT ` + notificationColumns + ` FROM notifications
	      WHERE user_id = $1 AND expires_at > NOW()`
	if unreadOnly {
		q += ` AND read = FALSE`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notifications", err)
	}
	defer rows.Close()

	var out []*types.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notifications", err)
	}
	return out, nil
}

// PurgeExpired deletes notifications whose expires_at has passed. Returns the
// number of rows removed. Run by the retention job.
func (r *NotificationRepository) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notifications WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge expired notifications", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetPreferences returns the stored preferences for a user, or nil if the
// user has never been seen (the service lazily creates defaults).
func (r *NotificationRepository) GetPreferences(ctx context.Context, userID string) (*types.NotificationPreferences, error) {
	var p types.NotificationPreferences
	var typeEnabled []byte
	err := r.db.QueryRow(ctx,
		`SELECT user_id, email_notifications, type_enabled, updated_at
		 FROM notification_preferences WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.EmailNotifications, &typeEnabled, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load notification preferences", err)
	}
	if len(typeEnabled) > 0 {
		if err := json.Unmarshal(typeEnabled, &p.TypeEnabled); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "corrupt notification preferences", err)
		}
	}
	return &p, nil
}

// SavePreferences upserts the preferences row for a user.
func (r *NotificationRepository) SavePreferences(ctx context.Context, p *types.NotificationPreferences) error {
	typeEnabled, err := json.Marshal(p.TypeEnabled)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode notification preferences", err)
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO notification_preferences (user_id, email_notifications, type_enabled, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET email_notifications = EXCLUDED.email_notifications,
		     type_enabled = EXCLUDED.type_enabled,
		     updated_at = NOW()
		 RETURNING updated_at`,
		p.UserID,
		p.EmailNotifications,
		typeEnabled,
	)
	if err := row.Scan(&p.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save notification preferences", err)
	}
	return nil
}
