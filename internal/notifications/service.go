// Package notifications turns lifecycle events into persisted, user-facing
// notifications with per-type retention, and optionally mirrors them to
// email. Notification delivery is a side effect: it never affects the state
// transition that triggered it.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"slowpress/internal/types"
)

// Retention TTLs per notification family.
const (
	defaultTTL  = 7 * 24 * time.Hour
	failureTTL  = 30 * 24 * time.Hour
	securityTTL = 30 * 24 * time.Hour
)

// Store is the persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, n *types.Notification) error
	MarkRead(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	GetByUser(ctx context.Context, userID string) ([]*types.Notification, error)
	GetUnreadByUser(ctx context.Context, userID string) ([]*types.Notification, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
	GetPreferences(ctx context.Context, userID string) (*types.NotificationPreferences, error)
	SavePreferences(ctx context.Context, p *types.NotificationPreferences) error
}

// EmailQueuer parks an email that could not be sent for a later drain.
type EmailQueuer interface {
	Enqueue(ctx context.Context, t types.EventType, payload []byte) error
}

// Service creates and manages user notifications.
type Service struct {
	store  Store
	email  types.EmailTransport
	queue  EmailQueuer
	faults types.FaultReporter
	logger types.Logger
	now    func() time.Time
}

// Config holds the dependencies for creating a Service.
type Config struct {
	Store Store
	// Email is optional; nil disables the email mirror entirely.
	Email  types.EmailTransport
	Queue  EmailQueuer
	Faults types.FaultReporter
	Logger types.Logger
	Now    func() time.Time
}

// NewService creates a notification service.
func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:  cfg.Store,
		email:  cfg.Email,
		queue:  cfg.Queue,
		faults: cfg.Faults,
		logger: cfg.Logger,
		now:    now,
	}
}

// Wire subscribes the service to every lifecycle event it renders a
// notification for. Call once at startup.
func (s *Service) Wire(bus types.EventBus) {
	for _, t := range []types.EventType{
		types.EventContentScheduled,
		types.EventContentPublishingSoon,
		types.EventContentPublished,
		types.EventContentPublicationFailed,
		types.EventContentUpdateScheduled,
		types.EventContentUpdatePublished,
		types.EventContentUpdateFailed,
		types.EventContentUpdateSoon,
		types.EventContentCancelled,
		types.EventContentRescheduled,
		types.EventSystemError,
	} {
		bus.Subscribe(t, s.onEvent)
	}
}

func (s *Service) onEvent(ctx context.Context, e types.Event) {
	userID, contentID, ct := eventAudience(e)
	if userID == "" {
		return
	}
	title, message := render(e)
	if err := s.Notify(ctx, userID, e.Type, title, message, contentID, ct); err != nil {
		s.faults.Report(ctx, err, types.SeverityLow, types.CategoryNotification, map[string]any{
			"event": string(e.Type),
			"user":  userID,
		})
	}
}

// Notify persists a notification for the user, honoring preferences, and
// mirrors it to email when the user opted in. Email failures are queued for
// a later drain and never propagated.
func (s *Service) Notify(ctx context.Context, userID string, t types.EventType, title, message, contentID string, ct types.ContentType) error {
	prefs, err := s.preferencesFor(ctx, userID)
	if err != nil {
		return err
	}
	if !prefs.EnabledFor(t) {
		return nil
	}

	n := &types.Notification{
		ID:          types.NewID("notif"),
		UserID:      userID,
		Type:        t,
		Title:       title,
		Message:     message,
		ContentID:   contentID,
		ContentType: ct,
		ExpiresAt:   s.now().Add(ttlFor(t)),
	}
	if err := s.store.Create(ctx, n); err != nil {
		return err
	}

	if prefs.EmailNotifications && s.email != nil {
		s.sendEmail(ctx, userID, n)
	}
	return nil
}

// preferencesFor returns the user's preferences, lazily creating the
// default set (everything enabled, email on) on first access. The default
// mirrors the notification_preferences schema defaults.
func (s *Service) preferencesFor(ctx context.Context, userID string) (*types.NotificationPreferences, error) {
	prefs, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if prefs != nil {
		return prefs, nil
	}

	prefs = &types.NotificationPreferences{
		UserID:             userID,
		EmailNotifications: true,
		TypeEnabled:        map[types.EventType]bool{},
	}
	if err := s.store.SavePreferences(ctx, prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

// UpdatePreferences saves the user's delivery preferences wholesale.
func (s *Service) UpdatePreferences(ctx context.Context, prefs *types.NotificationPreferences) error {
	return s.store.SavePreferences(ctx, prefs)
}

// GetPreferences returns the user's preferences, creating defaults if
// absent.
func (s *Service) GetPreferences(ctx context.Context, userID string) (*types.NotificationPreferences, error) {
	return s.preferencesFor(ctx, userID)
}

// MarkRead flags a single notification as read.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	return s.store.MarkRead(ctx, id)
}

// Delete removes a single notification.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// GetByUser returns all unexpired notifications for a user.
func (s *Service) GetByUser(ctx context.Context, userID string) ([]*types.Notification, error) {
	return s.store.GetByUser(ctx, userID)
}

// GetUnreadByUser returns unexpired unread notifications for a user.
func (s *Service) GetUnreadByUser(ctx context.Context, userID string) ([]*types.Notification, error) {
	return s.store.GetUnreadByUser(ctx, userID)
}

// PurgeExpired deletes notifications past their retention TTL. Called on
// the maintenance schedule.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		s.faults.Report(ctx, err, types.SeverityLow, types.CategoryNotification, map[string]any{"op": "purge_expired"})
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired notifications purged", "count", n)
	}
	return n, nil
}

func (s *Service) sendEmail(ctx context.Context, userID string, n *types.Notification) {
	body := fmt.Sprintf("<h2>%s</h2><p>%s</p>", n.Title, n.Message)
	if err := s.email.Send(ctx, userID, n.Title, body); err != nil {
		s.logger.Warn("email delivery failed, queueing for retry",
			"user", userID,
			"notification_id", n.ID,
			"error", err.Error(),
		)
		if s.queue != nil {
			payload, mErr := json.Marshal(n)
			if mErr == nil {
				if qErr := s.queue.Enqueue(ctx, n.Type, payload); qErr != nil {
					s.faults.Report(ctx, qErr, types.SeverityMedium, types.CategoryNotification, map[string]any{"op": "queue_email"})
				}
			}
		}
	}
}

// ttlFor maps a notification type to its retention window. Failure and
// security families are kept longer for review.
func ttlFor(t types.EventType) time.Duration {
	switch t {
	case types.EventContentPublicationFailed, types.EventContentUpdateFailed, types.EventSystemError:
		return failureTTL
	case types.EventSecurityAudit, types.EventRateLimitExceeded:
		return securityTTL
	default:
		return defaultTTL
	}
}

// eventAudience extracts who the notification is for and what content it
// names.
func eventAudience(e types.Event) (userID, contentID string, ct types.ContentType) {
	if e.Entry != nil {
		return e.Entry.AuthorID, e.Entry.ContentRef, e.Entry.ContentType
	}
	if e.Content != nil {
		return e.Content.AuthorID, e.Content.ID, e.Content.Type
	}
	if author, ok := e.Details["author_id"].(string); ok {
		id, _ := e.Details["content_id"].(string)
		return author, id, ""
	}
	return "", "", ""
}

// render produces the user-facing title and body for an event.
func render(e types.Event) (title, message string) {
	switch e.Type {
	case types.EventContentScheduled:
		return "Content scheduled", fmt.Sprintf("Your %s is scheduled for publication at %s.", kind(e), when(e))
	case types.EventContentPublishingSoon:
		return "Publishing soon", fmt.Sprintf("Your %s will be published at %s.", kind(e), when(e))
	case types.EventContentPublished:
		return "Content published", fmt.Sprintf("Your %s is now live.", kind(e))
	case types.EventContentPublicationFailed:
		return "Publication failed", fmt.Sprintf("Your %s could not be published. We will retry automatically.", kind(e))
	case types.EventContentUpdateScheduled:
		return "Update scheduled", fmt.Sprintf("Changes to your %s are scheduled for %s.", kind(e), when(e))
	case types.EventContentUpdatePublished:
		return "Update published", fmt.Sprintf("Changes to your %s are now live.", kind(e))
	case types.EventContentUpdateFailed:
		return "Update failed", fmt.Sprintf("Changes to your %s could not be published.", kind(e))
	case types.EventContentUpdateSoon:
		return "Update publishing soon", fmt.Sprintf("Changes to your %s will be published at %s.", kind(e), when(e))
	case types.EventContentCancelled:
		return "Publication cancelled", fmt.Sprintf("Scheduled publication of your %s was cancelled.", kind(e))
	case types.EventContentRescheduled:
		return "Publication rescheduled", fmt.Sprintf("Your %s is now scheduled for %s.", kind(e), when(e))
	case types.EventSystemError:
		return "System error", fmt.Sprintf("Something went wrong while processing your %s. Our team has been notified.", kind(e))
	default:
		return "Notification", string(e.Type)
	}
}

func kind(e types.Event) string {
	if e.Entry != nil && e.Entry.ContentType != "" {
		return string(e.Entry.ContentType)
	}
	if e.Content != nil && e.Content.Type != "" {
		return string(e.Content.Type)
	}
	return "content"
}

func when(e types.Event) string {
	if e.Entry != nil && !e.Entry.PublishAt.IsZero() {
		return e.Entry.PublishAt.Format(time.RFC1123)
	}
	return "the scheduled time"
}
