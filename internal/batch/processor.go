// Package batch drains due scheduled entries through the publication
// pipeline on a fixed interval. One tick processes at most one batch;
// overlapping ticks are skipped rather than queued.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"slowpress/internal/types"
)

const (
	// DefaultInterval is the tick period between batch runs.
	DefaultInterval = 5 * time.Minute
	// DefaultBatchSize caps how many due entries one run processes.
	DefaultBatchSize = 50
)

// EntrySource lists the due scheduled entries.
type EntrySource interface {
	GetDue(ctx context.Context) ([]*types.ScheduledEntry, error)
}

// Publisher publishes one entry's content.
type Publisher interface {
	Publish(ctx context.Context, entryID, contentID string, ct types.ContentType) error
}

// Processor runs the periodic publication batch.
type Processor struct {
	source    EntrySource
	publisher Publisher
	bus       types.EventBus
	faults    types.FaultReporter
	logger    types.Logger
	batchSize int
	now       func() time.Time

	processing atomic.Bool

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool

	resMu sync.Mutex
	last  *types.BatchResult
}

// Config holds the dependencies for creating a Processor.
type Config struct {
	Source    EntrySource
	Publisher Publisher
	Bus       types.EventBus
	Faults    types.FaultReporter
	Logger    types.Logger
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

// NewProcessor creates a batch processor.
func NewProcessor(cfg Config) *Processor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	size := cfg.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		source:    cfg.Source,
		publisher: cfg.Publisher,
		bus:       cfg.Bus,
		faults:    cfg.Faults,
		logger:    cfg.Logger,
		batchSize: size,
		interval:  interval,
		now:       now,
	}
}

// Start launches the tick loop. Calling Start on a running processor is a
// no-op.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(ctx)
	p.logger.Info("batch processor started",
		"interval", p.interval.String(),
		"batch_size", p.batchSize,
	)
}

// Stop halts the tick loop and waits for an in-flight batch to finish.
// Calling Stop on a stopped processor is a no-op.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("batch processor stopped")
}

// SetInterval changes the tick period. If the processor is running, the
// loop is restarted so the new period takes effect immediately.
func (p *Processor) SetInterval(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	p.mu.Lock()
	p.interval = interval
	running := p.running
	p.mu.Unlock()

	if running {
		p.Stop()
		p.Start(ctx)
	}
}

// Interval returns the current tick period.
func (p *Processor) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// SetBatchSize changes the per-tick cap. Non-positive sizes are ignored.
// Takes effect on the next batch; no restart needed.
func (p *Processor) SetBatchSize(size int) {
	if size <= 0 {
		return
	}
	p.mu.Lock()
	p.batchSize = size
	p.mu.Unlock()
}

// BatchSize returns the current per-tick cap.
func (p *Processor) BatchSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batchSize
}

// LastResult returns the outcome of the most recent batch, or nil before
// the first run.
func (p *Processor) LastResult() *types.BatchResult {
	p.resMu.Lock()
	defer p.resMu.Unlock()
	if p.last == nil {
		return nil
	}
	cp := *p.last
	return &cp
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)

	p.mu.Lock()
	interval := p.interval
	p.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch runs one batch: fetch due entries, cap at the batch size,
// publish sequentially, continue on item failure. If a previous batch is
// still running the call returns immediately with a nil result.
func (p *Processor) ProcessBatch(ctx context.Context) *types.BatchResult {
	if !p.processing.CompareAndSwap(false, true) {
		p.logger.Warn("batch tick skipped, previous batch still running")
		return nil
	}
	defer p.processing.Store(false)

	started := p.now()
	result := &types.BatchResult{StartedAt: started}

	due, err := p.source.GetDue(ctx)
	if err != nil {
		p.faults.Report(ctx, err, types.SeverityHigh, types.CategoryBatch, map[string]any{"op": "get_due"})
		result.Errors = append(result.Errors, err.Error())
		result.Duration = p.now().Sub(started)
		p.storeResult(result)
		return result
	}

	size := p.BatchSize()
	if len(due) > size {
		p.logger.Info("due entries exceed batch size, remainder deferred to next tick",
			"due", len(due),
			"batch_size", size,
		)
		due = due[:size]
	}

	p.bus.Publish(ctx, types.Event{
		Type:    types.EventBatchStarted,
		Details: map[string]any{"due": len(due)},
	})

	for _, entry := range due {
		if err := p.publisher.Publish(ctx, entry.ID, entry.ContentRef, entry.ContentType); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Processed++
	}

	result.Duration = p.now().Sub(started)
	p.storeResult(result)

	p.bus.Publish(ctx, types.Event{
		Type: types.EventBatchCompleted,
		Details: map[string]any{
			"processed":   result.Processed,
			"failed":      result.Failed,
			"duration_ms": result.Duration.Milliseconds(),
		},
	})

	p.logger.Info("batch completed",
		"processed", result.Processed,
		"failed", result.Failed,
		"duration", result.Duration.String(),
	)
	return result
}

func (p *Processor) storeResult(r *types.BatchResult) {
	p.resMu.Lock()
	p.last = r
	p.resMu.Unlock()
}
