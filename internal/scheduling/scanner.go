package scheduling

import (
	"context"
	"sync"
	"time"

	"slowpress/internal/types"
)

// DefaultScanInterval is how often the scanner checks the timer index.
const DefaultScanInterval = 30 * time.Second

// TimerStore is the slice of the schedule repository the scanner reads.
type TimerStore interface {
	DueTimers(ctx context.Context, now time.Time) ([]*types.PrepublishTimer, error)
	MarkTimerFired(ctx context.Context, entryID string) error
	GetByID(ctx context.Context, id string) (*types.ScheduledEntry, error)
}

// Scanner polls the persisted pre-publish timer index and emits
// contentPublishingSoon for each timer whose fires-at has passed. Marking
// the timer fired before emitting keeps the notification single-shot even
// when a scan overlaps a crash-recovery scan.
type Scanner struct {
	store    TimerStore
	bus      types.EventBus
	faults   types.FaultReporter
	logger   types.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// ScannerConfig holds the dependencies for creating a Scanner.
type ScannerConfig struct {
	Store    TimerStore
	Bus      types.EventBus
	Faults   types.FaultReporter
	Logger   types.Logger
	Interval time.Duration
	Now      func() time.Time
}

// NewScanner creates a pre-publish timer scanner.
func NewScanner(cfg ScannerConfig) *Scanner {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scanner{
		store:    cfg.Store,
		bus:      cfg.Bus,
		faults:   cfg.Faults,
		logger:   cfg.Logger,
		interval: interval,
		now:      now,
	}
}

// Start launches the scan loop. Calling Start on a running scanner is a
// no-op.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx)
	s.logger.Info("prepublish scanner started", "interval", s.interval.String())
}

// Stop halts the scan loop and waits for the in-flight scan to finish.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("prepublish scanner stopped")
}

func (s *Scanner) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Scan immediately on start so timers that came due while the process
	// was down fire without waiting a full interval.
	s.Scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan runs one pass over the due timers.
func (s *Scanner) Scan(ctx context.Context) {
	timers, err := s.store.DueTimers(ctx, s.now())
	if err != nil {
		s.faults.Report(ctx, err, types.SeverityMedium, types.CategoryScheduling, map[string]any{"op": "scan_timers"})
		return
	}

	for _, timer := range timers {
		s.fire(ctx, timer)
	}
}

func (s *Scanner) fire(ctx context.Context, timer *types.PrepublishTimer) {
	if err := s.store.MarkTimerFired(ctx, timer.EntryID); err != nil {
		s.faults.Report(ctx, err, types.SeverityMedium, types.CategoryScheduling, map[string]any{
			"op":       "mark_timer_fired",
			"entry_id": timer.EntryID,
		})
		return
	}

	entry, err := s.store.GetByID(ctx, timer.EntryID)
	if err != nil || entry == nil {
		// Entry deleted out from under the timer; nothing to announce.
		return
	}
	if entry.Status != types.StatusScheduled {
		// Cancelled or already published between arm and fire.
		return
	}

	s.bus.Publish(ctx, types.Event{
		Type:  types.EventContentPublishingSoon,
		Entry: entry,
		Details: map[string]any{
			"fires_at":   timer.FiresAt,
			"publish_at": entry.PublishAt,
		},
	})
	s.logger.Info("publishing soon",
		"entry_id", entry.ID,
		"publish_at", entry.PublishAt.Format(time.RFC3339),
	)
}
