// Package scheduling implements the lifecycle registry for delayed
// publication: scheduled entries move through SCHEDULED, PUBLISHED, and
// CANCELLED, every transition emits a lifecycle event, and a persisted
// fires-at index drives the "publishing soon" notification so the intent
// survives a process restart.
package scheduling

import (
	"context"
	"time"

	"slowpress/internal/types"
)

// DefaultPrepublishLead is how far before publishAt the publishing-soon
// notification fires.
const DefaultPrepublishLead = 5 * time.Minute

// EntryStore abstracts the persistence the service needs from the schedule
// repository.
type EntryStore interface {
	Create(ctx context.Context, e *types.ScheduledEntry) error
	Update(ctx context.Context, e *types.ScheduledEntry) error
	GetByID(ctx context.Context, id string) (*types.ScheduledEntry, error)
	GetByAuthor(ctx context.Context, authorID string) ([]*types.ScheduledEntry, error)
	GetDue(ctx context.Context, now time.Time) ([]*types.ScheduledEntry, error)
	UpsertTimer(ctx context.Context, t *types.PrepublishTimer) error
	DeleteTimer(ctx context.Context, entryID string) error
}

// Service is the scheduling lifecycle registry.
type Service struct {
	store  EntryStore
	bus    types.EventBus
	faults types.FaultReporter
	logger types.Logger
	lead   time.Duration
	now    func() time.Time
}

// Config holds the dependencies for creating a Service.
type Config struct {
	Store  EntryStore
	Bus    types.EventBus
	Faults types.FaultReporter
	Logger types.Logger
	// PrepublishLead overrides the default publishing-soon lead time.
	PrepublishLead time.Duration
	Now            func() time.Time // injectable clock for tests
}

// NewService creates a scheduling service.
func NewService(cfg Config) *Service {
	lead := cfg.PrepublishLead
	if lead <= 0 {
		lead = DefaultPrepublishLead
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:  cfg.Store,
		bus:    cfg.Bus,
		faults: cfg.Faults,
		logger: cfg.Logger,
		lead:   lead,
		now:    now,
	}
}

// Schedule persists a new entry for the given content with status=SCHEDULED
// and version=1, emits contentScheduled, and arms the pre-publish timer when
// publishAt is far enough in the future. publishAt is fixed here; it is never
// recomputed from the effective delay afterwards.
func (s *Service) Schedule(ctx context.Context, content *types.Content, publishAt time.Time) (*types.ScheduledEntry, error) {
	if err := validateSchedule(content, publishAt); err != nil {
		return nil, err
	}

	entry := &types.ScheduledEntry{
		ID:          types.NewID("sched"),
		ContentType: content.Type,
		ContentRef:  content.ID,
		AuthorID:    content.AuthorID,
		PublishAt:   publishAt,
		Status:      types.StatusScheduled,
		Timezone:    "UTC",
		Version:     1,
	}

	if err := s.store.Create(ctx, entry); err != nil {
		return nil, s.fail(ctx, "schedule", entry.ID, err)
	}

	s.armTimer(ctx, entry)
	s.emit(ctx, types.EventContentScheduled, entry, content)

	s.logger.Info("content scheduled",
		"entry_id", entry.ID,
		"content_id", entry.ContentRef,
		"publish_at", publishAt.Format(time.RFC3339),
	)
	return entry, nil
}

// Update merges the given fields into an existing entry. If publishAt
// changes, the pre-publish timer is re-armed at the new instant (replacing
// the old one). Emits contentUpdateScheduled. Fails with ErrCodeNotFoundEntry
// if the id does not exist.
func (s *Service) Update(ctx context.Context, id string, upd types.EntryUpdate) (*types.ScheduledEntry, error) {
	entry, err := s.mustGet(ctx, "update", id)
	if err != nil {
		return nil, err
	}

	publishAtChanged := false
	if upd.PublishAt != nil && !upd.PublishAt.Equal(entry.PublishAt) {
		entry.PublishAt = *upd.PublishAt
		publishAtChanged = true
	}
	if upd.Timezone != nil {
		entry.Timezone = *upd.Timezone
	}
	entry.Version++

	if err := s.store.Update(ctx, entry); err != nil {
		return nil, s.fail(ctx, "update", id, err)
	}

	if publishAtChanged {
		s.armTimer(ctx, entry)
	}
	s.emit(ctx, types.EventContentUpdateScheduled, entry, nil)

	s.logger.Info("scheduled entry updated",
		"entry_id", id,
		"version", entry.Version,
		"publish_at_changed", publishAtChanged,
	)
	return entry, nil
}

// Cancel sets status=CANCELLED and disarms the pre-publish timer. The entry
// row is kept; cancellation is a status, not a deletion. Cancel is
// idempotent: cancelling an already-cancelled entry succeeds. An in-flight
// publish of the same entry is not aborted.
func (s *Service) Cancel(ctx context.Context, id string) (*types.ScheduledEntry, error) {
	entry, err := s.mustGet(ctx, "cancel", id)
	if err != nil {
		return nil, err
	}

	if entry.Status == types.StatusCancelled {
		return entry, nil
	}

	entry.Status = types.StatusCancelled
	entry.Version++
	if err := s.store.Update(ctx, entry); err != nil {
		return nil, s.fail(ctx, "cancel", id, err)
	}

	if err := s.store.DeleteTimer(ctx, id); err != nil {
		// Timer cleanup is best effort; the scanner skips non-scheduled
		// entries anyway.
		s.faults.Report(ctx, err, types.SeverityLow, types.CategoryScheduling, map[string]any{"op": "cancel_timer", "entry_id": id})
	}

	s.emit(ctx, types.EventContentCancelled, entry, nil)
	s.logger.Info("scheduled entry cancelled", "entry_id", id)
	return entry, nil
}

// Reschedule sets publishAt to the new instant and status back to SCHEDULED
// (also valid on a cancelled entry), emits contentRescheduled, and re-arms
// the pre-publish timer, replacing whatever was armed before.
func (s *Service) Reschedule(ctx context.Context, id string, newPublishAt time.Time) (*types.ScheduledEntry, error) {
	entry, err := s.mustGet(ctx, "reschedule", id)
	if err != nil {
		return nil, err
	}

	entry.PublishAt = newPublishAt
	entry.Status = types.StatusScheduled
	entry.Version++

	if err := s.store.Update(ctx, entry); err != nil {
		return nil, s.fail(ctx, "reschedule", id, err)
	}

	s.armTimer(ctx, entry)
	s.emit(ctx, types.EventContentRescheduled, entry, nil)

	s.logger.Info("scheduled entry rescheduled",
		"entry_id", id,
		"publish_at", newPublishAt.Format(time.RFC3339),
	)
	return entry, nil
}

// MarkPublished records the registry side of a successful publication. Used
// by the publication pipeline after the content store flip succeeds.
func (s *Service) MarkPublished(ctx context.Context, id string) error {
	entry, err := s.mustGet(ctx, "mark_published", id)
	if err != nil {
		return err
	}
	if entry.Status == types.StatusPublished {
		return nil
	}
	entry.Status = types.StatusPublished
	entry.Version++
	if err := s.store.Update(ctx, entry); err != nil {
		return s.fail(ctx, "mark_published", id, err)
	}
	return nil
}

// GetByID returns the entry, or a not-found error.
func (s *Service) GetByID(ctx context.Context, id string) (*types.ScheduledEntry, error) {
	return s.mustGet(ctx, "get", id)
}

// GetByAuthor returns all entries belonging to an author.
func (s *Service) GetByAuthor(ctx context.Context, authorID string) ([]*types.ScheduledEntry, error) {
	entries, err := s.store.GetByAuthor(ctx, authorID)
	if err != nil {
		s.faults.Report(ctx, err, types.SeverityMedium, types.CategoryDatabase, map[string]any{"op": "get_by_author"})
		return nil, err
	}
	return entries, nil
}

// GetDue returns entries with status=SCHEDULED whose publishAt has passed,
// boundary inclusive. Consumed by the batch processor.
func (s *Service) GetDue(ctx context.Context) ([]*types.ScheduledEntry, error) {
	entries, err := s.store.GetDue(ctx, s.now())
	if err != nil {
		s.faults.Report(ctx, err, types.SeverityHigh, types.CategoryDatabase, map[string]any{"op": "get_due"})
		return nil, err
	}
	return entries, nil
}

// armTimer upserts the durable publishing-soon timer when the lead window
// has not already passed. The upsert is keyed by entry id, so re-arming
// replaces the previous intent rather than stacking a second fire.
func (s *Service) armTimer(ctx context.Context, entry *types.ScheduledEntry) {
	firesAt := entry.PublishAt.Add(-s.lead)
	if !firesAt.After(s.now()) {
		return
	}

	timer := &types.PrepublishTimer{
		EntryID:  entry.ID,
		AuthorID: entry.AuthorID,
		FiresAt:  firesAt,
	}
	if err := s.store.UpsertTimer(ctx, timer); err != nil {
		// Losing the timer loses a courtesy notification, not the publication.
		s.faults.Report(ctx, err, types.SeverityLow, types.CategoryScheduling, map[string]any{"op": "arm_timer", "entry_id": entry.ID})
	}
}

func (s *Service) mustGet(ctx context.Context, op, id string) (*types.ScheduledEntry, error) {
	entry, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, op, id, err)
	}
	if entry == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundEntry, "scheduled entry not found: "+id, nil)
	}
	return entry, nil
}

// fail wraps a store failure with the operation name and entry id, reports
// it, and returns the typed error to the caller.
func (s *Service) fail(ctx context.Context, op, id string, err error) error {
	wrapped := &types.SchedulingError{Op: op, EntryID: id, Cause: err}
	s.faults.Report(ctx, wrapped, types.SeverityHigh, types.CategoryScheduling, map[string]any{
		"op":       op,
		"entry_id": id,
	})
	return wrapped
}

func (s *Service) emit(ctx context.Context, t types.EventType, entry *types.ScheduledEntry, content *types.Content) {
	snapshot := *entry
	s.bus.Publish(ctx, types.Event{
		Type:    t,
		Entry:   &snapshot,
		Content: content,
	})
}
