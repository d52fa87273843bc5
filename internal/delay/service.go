// Package delay implements the configuration service for publication delays:
// the global delay setting, per-content overrides, and the effective-delay
// computation used at scheduling time.
package delay

import (
	"context"
	"time"

	"slowpress/internal/types"
)

// SettingsStore abstracts the persistence the service needs from the
// settings repository.
type SettingsStore interface {
	GetGlobalDelay(ctx context.Context) (*types.GlobalDelaySettings, error)
	UpsertGlobalDelay(ctx context.Context, s *types.GlobalDelaySettings) error
	GetOverride(ctx context.Context, contentID string) (*types.ContentOverride, error)
	UpsertOverride(ctx context.Context, o *types.ContentOverride) error
	DeleteOverride(ctx context.Context, contentID string) error
}

// Service computes and manages publication delays.
type Service struct {
	store   SettingsStore
	faults  types.FaultReporter
	logger  types.Logger
	seedHrs int
}

// Config holds the dependencies for creating a Service.
type Config struct {
	Store SettingsStore
	// SeedHours is the default global delay written on first boot when no
	// settings document exists.
	SeedHours int
	Faults    types.FaultReporter
	Logger    types.Logger
}

// NewService creates a delay configuration service.
func NewService(cfg Config) *Service {
	seed := cfg.SeedHours
	if seed <= 0 {
		seed = 24
	}
	return &Service{
		store:   cfg.Store,
		faults:  cfg.Faults,
		logger:  cfg.Logger,
		seedHrs: seed,
	}
}

// EnsureSeeded writes the default global delay if no settings document
// exists yet. Called once at startup.
func (s *Service) EnsureSeeded(ctx context.Context) error {
	existing, err := s.store.GetGlobalDelay(ctx)
	if err != nil {
		s.report(ctx, err, "ensure_seeded")
		return err
	}
	if existing != nil {
		return nil
	}

	seeded := &types.GlobalDelaySettings{
		DelayHours: s.seedHrs,
		UpdatedBy:  "system",
	}
	if err := s.store.UpsertGlobalDelay(ctx, seeded); err != nil {
		s.report(ctx, err, "ensure_seeded")
		return err
	}
	s.logger.Info("seeded global delay settings", "delay_hours", s.seedHrs)
	return nil
}

// GetGlobalDelay returns the global delay settings. Fails with
// ErrCodeConfigNotFound if the settings document has never been written.
func (s *Service) GetGlobalDelay(ctx context.Context) (*types.GlobalDelaySettings, error) {
	settings, err := s.store.GetGlobalDelay(ctx)
	if err != nil {
		s.report(ctx, err, "get_global_delay")
		return nil, err
	}
	if settings == nil {
		return nil, types.NewAppError(types.ErrCodeConfigNotFound, "global delay settings not initialized", nil)
	}
	return settings, nil
}

// UpdateGlobalDelay replaces the global delay. Fails with ErrCodeInvalidDelay
// if hours is negative.
func (s *Service) UpdateGlobalDelay(ctx context.Context, hours int, userID string) (*types.GlobalDelaySettings, error) {
	if hours < 0 {
		return nil, types.NewAppError(types.ErrCodeInvalidDelay, "delay hours must not be negative", nil)
	}

	settings := &types.GlobalDelaySettings{
		DelayHours: hours,
		UpdatedBy:  userID,
	}
	if err := s.store.UpsertGlobalDelay(ctx, settings); err != nil {
		s.report(ctx, err, "update_global_delay")
		return nil, err
	}

	s.logger.Info("global delay updated", "delay_hours", hours, "updated_by", userID)
	return settings, nil
}

// CreateContentOverride upserts the per-content delay override. A second
// call for the same content replaces the prior override wholesale; there is
// no field merge.
func (s *Service) CreateContentOverride(ctx context.Context, contentID string, hours int, reason, userID string, ct types.ContentType) (*types.ContentOverride, error) {
	if contentID == "" {
		return nil, types.NewAppError(types.ErrCodeInvalidRequest, "override request has no content id", nil)
	}
	if hours < 0 {
		return nil, types.NewAppError(types.ErrCodeInvalidDelay, "override hours must not be negative", nil)
	}
	if ct == "" {
		ct = types.ContentPost
	}

	override := &types.ContentOverride{
		ContentID:   contentID,
		ContentType: ct,
		DelayHours:  hours,
		Reason:      reason,
		CreatedBy:   userID,
	}
	if err := s.store.UpsertOverride(ctx, override); err != nil {
		s.report(ctx, err, "create_content_override")
		return nil, err
	}

	s.logger.Info("content override saved",
		"content_id", contentID,
		"delay_hours", hours,
		"created_by", userID,
	)
	return override, nil
}

// GetContentOverride returns the override for contentID, or nil if none.
func (s *Service) GetContentOverride(ctx context.Context, contentID string) (*types.ContentOverride, error) {
	override, err := s.store.GetOverride(ctx, contentID)
	if err != nil {
		s.report(ctx, err, "get_content_override")
		return nil, err
	}
	return override, nil
}

// RemoveContentOverride deletes the override for contentID. Removing an
// absent override succeeds.
func (s *Service) RemoveContentOverride(ctx context.Context, contentID string) error {
	if err := s.store.DeleteOverride(ctx, contentID); err != nil {
		s.report(ctx, err, "remove_content_override")
		return err
	}
	s.logger.Info("content override removed", "content_id", contentID)
	return nil
}

// EffectiveDelay returns the delay hours actually applied to a piece of
// content: the override if one exists, else the global setting.
func (s *Service) EffectiveDelay(ctx context.Context, contentID string, _ types.ContentType) (int, error) {
	override, err := s.store.GetOverride(ctx, contentID)
	if err != nil {
		s.report(ctx, err, "effective_delay")
		return 0, err
	}
	if override != nil {
		return override.DelayHours, nil
	}

	settings, err := s.GetGlobalDelay(ctx)
	if err != nil {
		return 0, err
	}
	return settings.DelayHours, nil
}

// EffectiveDelayDuration is EffectiveDelay expressed as a time.Duration.
func (s *Service) EffectiveDelayDuration(ctx context.Context, contentID string, ct types.ContentType) (time.Duration, error) {
	hours, err := s.EffectiveDelay(ctx, contentID, ct)
	if err != nil {
		return 0, err
	}
	return time.Duration(hours) * time.Hour, nil
}

func (s *Service) report(ctx context.Context, err error, op string) {
	s.faults.Report(ctx, err, types.SeverityMedium, types.CategoryDatabase, map[string]any{"op": op})
}
