// Package publication flips due content live and tracks failures in an
// in-process retry table. Publication is terminal: once content is
// published no other code path reverses it.
package publication

import (
	"context"
	"sync"
	"time"

	"slowpress/internal/types"
)

// MaxRetries is the retry cap for failed publications. Records at the cap
// are excluded from retry sweeps but kept for the audit trail.
const MaxRetries = 3

// ContentStore is the slice of the content repository the service needs.
type ContentStore interface {
	FindByID(ctx context.Context, id string, ct types.ContentType) (*types.Content, error)
	MarkPublished(ctx context.Context, id string, ct types.ContentType, publishedAt time.Time) error
	FindDue(ctx context.Context, now time.Time) ([]types.Content, error)
	IsDue(ctx context.Context, id string, ct types.ContentType, now time.Time) (bool, error)
}

// EntryRegistry records the scheduling side of a completed publication.
type EntryRegistry interface {
	MarkPublished(ctx context.Context, entryID string) error
}

// Service publishes due content.
type Service struct {
	store    ContentStore
	registry EntryRegistry
	bus      types.EventBus
	faults   types.FaultReporter
	logger   types.Logger
	now      func() time.Time

	mu     sync.Mutex
	failed map[string]*types.FailedPublicationRecord
}

// Config holds the dependencies for creating a Service.
type Config struct {
	Store    ContentStore
	Registry EntryRegistry
	Bus      types.EventBus
	Faults   types.FaultReporter
	Logger   types.Logger
	Now      func() time.Time
}

// NewService creates a publication service.
func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:    cfg.Store,
		registry: cfg.Registry,
		bus:      cfg.Bus,
		faults:   cfg.Faults,
		logger:   cfg.Logger,
		now:      now,
		failed:   make(map[string]*types.FailedPublicationRecord),
	}
}

// Publish flips the content to published, stamps publishedAt, records the
// registry transition, clears any failure record for the id, and emits
// contentPublished with a snapshot of the published content. On failure it
// records a FailedPublicationRecord, emits contentPublicationFailed, and
// returns a PublicationError naming the content.
func (s *Service) Publish(ctx context.Context, entryID, contentID string, ct types.ContentType) error {
	publishedAt := s.now()

	content, err := s.store.FindByID(ctx, contentID, ct)
	if err == nil && content == nil {
		err = types.NewAppError(types.ErrCodeNotFoundContent, "content not found: "+contentID, nil)
	}
	if err == nil {
		err = s.store.MarkPublished(ctx, contentID, ct, publishedAt)
	}
	if err != nil {
		return s.recordFailure(ctx, contentID, ct, content, err)
	}

	if entryID != "" && s.registry != nil {
		if regErr := s.registry.MarkPublished(ctx, entryID); regErr != nil {
			// The content is live; a registry lag is recoverable and must not
			// fail the publication.
			s.faults.Report(ctx, regErr, types.SeverityMedium, types.CategoryPublication, map[string]any{
				"op":       "registry_mark_published",
				"entry_id": entryID,
			})
		}
	}

	s.clearFailure(contentID)

	content.Status = types.StatusPublished
	content.PublishedAt = publishedAt
	s.bus.Publish(ctx, types.Event{
		Type:    types.EventContentPublished,
		Content: content,
	})

	s.logger.Info("content published",
		"content_id", contentID,
		"content_type", string(ct),
		"published_at", publishedAt.Format(time.RFC3339),
	)
	return nil
}

// GetDue returns content whose publishAt has passed, boundary inclusive.
func (s *Service) GetDue(ctx context.Context) ([]types.Content, error) {
	due, err := s.store.FindDue(ctx, s.now())
	if err != nil {
		s.faults.Report(ctx, err, types.SeverityHigh, types.CategoryDatabase, map[string]any{"op": "find_due"})
		return nil, err
	}
	return due, nil
}

// IsDue reports whether a single content item is due for publication.
func (s *Service) IsDue(ctx context.Context, contentID string, ct types.ContentType) (bool, error) {
	return s.store.IsDue(ctx, contentID, ct, s.now())
}

// RetryFailedPublications re-attempts every failure record below the retry
// cap. Records that reach the cap stay in the table for inspection.
func (s *Service) RetryFailedPublications(ctx context.Context) {
	s.mu.Lock()
	var retryable []*types.FailedPublicationRecord
	for _, rec := range s.failed {
		if rec.RetryCount < MaxRetries {
			cp := *rec
			retryable = append(retryable, &cp)
		}
	}
	s.mu.Unlock()

	for _, rec := range retryable {
		if err := s.Publish(ctx, "", rec.ContentID, rec.ContentType); err != nil {
			s.logger.Warn("publication retry failed",
				"content_id", rec.ContentID,
				"retry_count", rec.RetryCount+1,
			)
		}
	}
}

// FailedRecords returns a snapshot of the retry table.
func (s *Service) FailedRecords() []types.FailedPublicationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.FailedPublicationRecord, 0, len(s.failed))
	for _, rec := range s.failed {
		out = append(out, *rec)
	}
	return out
}

// FailureCount returns the size of the retry table. The monitor reads this
// as a degradation signal.
func (s *Service) FailureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failed)
}

// recordFailure books the failure, reports it, and emits
// contentPublicationFailed. The loaded content is attached when available so
// the notification service can reach the author; a failed load leaves the
// audience unknown.
func (s *Service) recordFailure(ctx context.Context, contentID string, ct types.ContentType, content *types.Content, cause error) error {
	s.mu.Lock()
	rec, ok := s.failed[contentID]
	if ok {
		rec.RetryCount++
		rec.Error = cause.Error()
		rec.Timestamp = s.now()
	} else {
		rec = &types.FailedPublicationRecord{
			ContentID:   contentID,
			ContentType: ct,
			Error:       cause.Error(),
			Timestamp:   s.now(),
		}
		s.failed[contentID] = rec
	}
	snapshot := *rec
	s.mu.Unlock()

	pubErr := &types.PublicationError{ContentID: contentID, ContentType: ct, Cause: cause}
	s.faults.Report(ctx, pubErr, types.SeverityHigh, types.CategoryPublication, map[string]any{
		"content_id":  contentID,
		"retry_count": snapshot.RetryCount,
	})
	details := map[string]any{
		"content_id":   contentID,
		"content_type": string(ct),
		"error":        snapshot.Error,
		"retry_count":  snapshot.RetryCount,
	}
	if content != nil {
		details["author_id"] = content.AuthorID
	}
	s.bus.Publish(ctx, types.Event{
		Type:    types.EventContentPublicationFailed,
		Content: content,
		Details: details,
	})
	return pubErr
}

func (s *Service) clearFailure(contentID string) {
	s.mu.Lock()
	delete(s.failed, contentID)
	s.mu.Unlock()
}
