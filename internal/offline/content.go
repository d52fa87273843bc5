package offline

import (
	"context"
	"sync/atomic"
	"time"

	"slowpress/internal/types"
)

const (
	// DefaultRetryDelay is the pause between envelopes during a drain.
	DefaultRetryDelay = 5 * time.Second
	// DefaultMaxRetries caps delivery attempts before an envelope is
	// dropped.
	DefaultMaxRetries = 3
)

// EnvelopeStore is the persistence surface of the durable content queue.
type EnvelopeStore interface {
	Append(ctx context.Context, env *types.QueueEnvelope) error
	List(ctx context.Context) ([]*types.QueueEnvelope, error)
	MarkAttempt(ctx context.Context, id, errStr string, at time.Time) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int, error)
}

// Submitter replays one parked content operation against the backend.
type Submitter interface {
	Submit(ctx context.Context, op types.QueueOperation, payload []byte) error
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, op types.QueueOperation, payload []byte) error

// Submit calls the wrapped function.
func (f SubmitterFunc) Submit(ctx context.Context, op types.QueueOperation, payload []byte) error {
	return f(ctx, op, payload)
}

// ContentService parks content writes while the backend is unreachable and
// replays them in order once it recovers.
type ContentService struct {
	store      EnvelopeStore
	submitter  Submitter
	faults     types.FaultReporter
	logger     types.Logger
	retryDelay time.Duration
	maxRetries int
	now        func() time.Time

	processing atomic.Bool
}

// ContentConfig holds the dependencies for creating a ContentService.
type ContentConfig struct {
	Store      EnvelopeStore
	Submitter  Submitter
	Faults     types.FaultReporter
	Logger     types.Logger
	RetryDelay time.Duration
	MaxRetries int
	Now        func() time.Time
}

// NewContentService creates the durable offline content queue service.
func NewContentService(cfg ContentConfig) *ContentService {
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ContentService{
		store:      cfg.Store,
		submitter:  cfg.Submitter,
		faults:     cfg.Faults,
		logger:     cfg.Logger,
		retryDelay: retryDelay,
		maxRetries: maxRetries,
		now:        now,
	}
}

// Queue parks a content operation for later replay.
func (s *ContentService) Queue(ctx context.Context, op types.QueueOperation, payload []byte) (*types.QueueEnvelope, error) {
	env := &types.QueueEnvelope{
		ID:        types.NewID("env"),
		Operation: op,
		Payload:   payload,
		CreatedAt: s.now(),
	}
	if err := s.store.Append(ctx, env); err != nil {
		s.faults.Report(ctx, err, types.SeverityHigh, types.CategoryCache, map[string]any{"op": "queue_content"})
		return nil, err
	}
	s.logger.Info("content operation queued offline",
		"envelope_id", env.ID,
		"operation", string(op),
	)
	return env, nil
}

// GetQueue returns the parked envelopes in insertion order.
func (s *ContentService) GetQueue(ctx context.Context) ([]*types.QueueEnvelope, error) {
	return s.store.List(ctx)
}

// RemoveFromQueue deletes one envelope. Missing ids are ignored.
func (s *ContentService) RemoveFromQueue(ctx context.Context, id string) error {
	return s.store.Remove(ctx, id)
}

// ClearQueue discards every parked envelope.
func (s *ContentService) ClearQueue(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// GetQueueSize returns the number of parked envelopes.
func (s *ContentService) GetQueueSize(ctx context.Context) (int, error) {
	return s.store.Size(ctx)
}

// ProcessQueue drains the queue in order. Envelopes attempted within the
// last retryDelay are left for the next pass. Successful envelopes are
// removed; failed ones get their attempt count bumped and stay until they
// exhaust their retries, at which point they are dropped and reported. A
// drain already in progress makes the call return immediately.
func (s *ContentService) ProcessQueue(ctx context.Context) error {
	if !s.processing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.processing.Store(false)

	envelopes, err := s.store.List(ctx)
	if err != nil {
		s.faults.Report(ctx, err, types.SeverityHigh, types.CategoryCache, map[string]any{"op": "drain_content"})
		return err
	}

	for _, env := range envelopes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !env.LastAttempt.IsZero() && s.now().Sub(env.LastAttempt) < s.retryDelay {
			continue
		}

		if err := s.submitter.Submit(ctx, env.Operation, env.Payload); err != nil {
			if env.Attempts+1 >= s.maxRetries {
				// Out of retries. Dropping loses the write, so it is reported
				// loudly before removal.
				s.faults.Report(ctx, err, types.SeverityCritical, types.CategoryCache, map[string]any{
					"op":          "drop_envelope",
					"envelope_id": env.ID,
					"attempts":    env.Attempts + 1,
				})
				if rmErr := s.store.Remove(ctx, env.ID); rmErr != nil {
					return rmErr
				}
				continue
			}
			if markErr := s.store.MarkAttempt(ctx, env.ID, err.Error(), s.now()); markErr != nil {
				return markErr
			}
			continue
		}

		if err := s.store.Remove(ctx, env.ID); err != nil {
			return err
		}
		s.logger.Info("offline content operation replayed",
			"envelope_id", env.ID,
			"operation", string(env.Operation),
		)
	}
	return nil
}
