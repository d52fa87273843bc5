package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"slowpress/internal/types"
)

// SettingsRepository provides data access for the delay_settings singleton
// row and the content_overrides table.
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a SettingsRepository backed by the given
// database connection (pool or transaction).
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetGlobalDelay returns the global delay settings, or nil if the singleton
// row has not been seeded yet.
func (r *SettingsRepository) GetGlobalDelay(ctx context.Context) (*types.GlobalDelaySettings, error) {
	var s types.GlobalDelaySettings
	err := r.db.QueryRow(ctx,
		`SELECT delay_hours, updated_by, updated_at, requires_verification
		 FROM delay_settings WHERE singleton = TRUE`).
		Scan(&s.DelayHours, &s.UpdatedBy, &s.UpdatedAt, &s.RequiresVerification)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load delay settings", err)
	}
	return &s, nil
}

// UpsertGlobalDelay writes the global delay settings singleton, replacing
// any previous value.
func (r *SettingsRepository) UpsertGlobalDelay(ctx context.Context, s *types.GlobalDelaySettings) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO delay_settings (singleton, delay_hours, updated_by, updated_at, requires_verification)
		 VALUES (TRUE, $1, $2, NOW(), $3)
		 ON CONFLICT (singleton) DO UPDATE
		 SET delay_hours = EXCLUDED.delay_hours,
		     updated_by = EXCLUDED.updated_by,
		     updated_at = NOW(),
		     requires_verification = EXCLUDED.requires_verification
		 RETURNING updated_at`,
		s.DelayHours,
		s.UpdatedBy,
		s.RequiresVerification,
	)
	if err := row.Scan(&s.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save delay settings", err)
	}
	return nil
}

// GetOverride returns the per-content override for contentID, or nil if none
// exists.
func (r *SettingsRepository) GetOverride(ctx context.Context, contentID string) (*types.ContentOverride, error) {
	var o types.ContentOverride
	err := r.db.QueryRow(ctx,
		`SELECT content_id, content_type, delay_hours, reason, created_by, created_at, updated_at
		 FROM content_overrides WHERE content_id = $1`, contentID).
		Scan(&o.ContentID, &o.ContentType, &o.DelayHours, &o.Reason, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load content override", err)
	}
	return &o, nil
}

// UpsertOverride stores the override keyed by content id. A second call for
// the same content replaces the prior override wholesale.
func (r *SettingsRepository) UpsertOverride(ctx context.Context, o *types.ContentOverride) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO content_overrides
		 (content_id, content_type, delay_hours, reason, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (content_id) DO UPDATE
		 SET content_type = EXCLUDED.content_type,
		     delay_hours = EXCLUDED.delay_hours,
		     reason = EXCLUDED.reason,
		     created_by = EXCLUDED.created_by,
		     updated_at = NOW()
		 RETURNING created_at, updated_at`,
		o.ContentID,
		string(o.ContentType),
		o.DelayHours,
		o.Reason,
		o.CreatedBy,
	)
	if err := row.Scan(&o.CreatedAt, &o.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save content override", err)
	}
	return nil
}

// DeleteOverride removes the override for contentID. Removing an absent
// override is not an error.
func (r *SettingsRepository) DeleteOverride(ctx context.Context, contentID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM content_overrides WHERE content_id = $1`, contentID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete content override", err)
	}
	return nil
}
