package offline

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"slowpress/internal/types"
)

// NotificationService parks notification emails in memory while the mail
// transport is down. Unlike the content queue this one is deliberately
// volatile: a lost courtesy email is acceptable, a lost content write is
// not.
type NotificationService struct {
	email      types.EmailTransport
	faults     types.FaultReporter
	logger     types.Logger
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time

	mu    sync.Mutex
	queue []*types.QueueEnvelope

	processing atomic.Bool
}

// NotificationConfig holds the dependencies for creating a
// NotificationService.
type NotificationConfig struct {
	Email      types.EmailTransport
	Faults     types.FaultReporter
	Logger     types.Logger
	MaxRetries int
	RetryDelay time.Duration
	Now        func() time.Time
}

// NewNotificationService creates the in-memory offline notification queue.
func NewNotificationService(cfg NotificationConfig) *NotificationService {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &NotificationService{
		email:      cfg.Email,
		faults:     cfg.Faults,
		logger:     cfg.Logger,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		now:        now,
	}
}

// Enqueue parks a rendered notification for a later send.
func (s *NotificationService) Enqueue(_ context.Context, t types.EventType, payload []byte) error {
	env := &types.QueueEnvelope{
		ID:        types.NewID("env"),
		Type:      t,
		Payload:   payload,
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.queue = append(s.queue, env)
	s.mu.Unlock()
	return nil
}

// Size returns the number of parked notifications.
func (s *NotificationService) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Clear discards every parked notification.
func (s *NotificationService) Clear() {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}

// ProcessQueue re-attempts every parked notification. Envelopes attempted
// within the last retryDelay are left for the next pass. Envelopes that
// exhaust their retries are dropped and reported. Overlapping drains are
// skipped.
func (s *NotificationService) ProcessQueue(ctx context.Context) {
	if !s.processing.CompareAndSwap(false, true) {
		return
	}
	defer s.processing.Store(false)

	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	var retained []*types.QueueEnvelope
	for _, env := range pending {
		if !env.LastAttempt.IsZero() && s.now().Sub(env.LastAttempt) < s.retryDelay {
			retained = append(retained, env)
			continue
		}
		if err := s.send(ctx, env); err != nil {
			env.Attempts++
			env.LastAttempt = s.now()
			env.Error = err.Error()
			if env.Attempts >= s.maxRetries {
				s.faults.Report(ctx, err, types.SeverityMedium, types.CategoryNotification, map[string]any{
					"op":          "drop_notification",
					"envelope_id": env.ID,
					"attempts":    env.Attempts,
				})
				continue
			}
			retained = append(retained, env)
		}
	}

	if len(retained) > 0 {
		s.mu.Lock()
		s.queue = append(retained, s.queue...)
		s.mu.Unlock()
	}
}

func (s *NotificationService) send(ctx context.Context, env *types.QueueEnvelope) error {
	var n types.Notification
	if err := json.Unmarshal(env.Payload, &n); err != nil {
		// A payload that cannot be decoded will never send; treat it as a
		// final attempt.
		env.Attempts = s.maxRetries
		return err
	}
	return s.email.Send(ctx, n.UserID, n.Title, n.Message)
}
