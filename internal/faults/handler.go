// Package faults implements the central error handler: a category × severity
// taxonomy, a sliding-window error counter, and an advisory threshold alarm.
// Threshold alarms are operator signals, never control-flow triggers.
package faults

import (
	"context"
	"sync"
	"time"

	"slowpress/internal/types"
)

const (
	// DefaultWindow is the sliding window over which the error rate is computed.
	DefaultWindow = time.Hour

	// DefaultThreshold is the in-window error count above which the threshold
	// alarm fires.
	DefaultThreshold = 100
)

// Handler tracks reported errors and emits error events on the bus.
//
// The threshold alarm fires on every report while the window count is above
// the threshold, not only on the crossing edge. That matches the platform's
// long-standing behavior and operators depend on the repeated signal.
type Handler struct {
	bus    types.EventBus
	logger types.Logger

	window    time.Duration
	threshold int
	now       func() time.Time

	mu         sync.Mutex
	total      int
	timestamps []time.Time
}

// Compile-time assertion that Handler implements types.FaultReporter.
var _ types.FaultReporter = (*Handler)(nil)

// Config holds the knobs for creating a Handler. Zero values fall back to
// the package defaults.
type Config struct {
	Window    time.Duration
	Threshold int
	Bus       types.EventBus
	Logger    types.Logger
	Now       func() time.Time // injectable clock for tests
}

// NewHandler creates a Handler with the given configuration.
func NewHandler(cfg Config) *Handler {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		window:    window,
		threshold: threshold,
		now:       now,
	}
}

// Report records an error occurrence: increments the global counter, appends
// a timestamp to the sliding window, evicts expired timestamps, logs the
// error, and emits an "error" event carrying the category and severity. If
// the in-window count exceeds the threshold, an errorThresholdExceeded event
// is also emitted.
func (h *Handler) Report(ctx context.Context, err error, severity types.ErrorSeverity, category types.ErrorCategory, errCtx map[string]any) {
	if err == nil {
		return
	}
	if severity == "" {
		severity = types.SeverityMedium
	}
	if category == "" {
		category = types.CategoryUnknown
	}

	now := h.now()

	h.mu.Lock()
	h.total++
	h.timestamps = append(h.timestamps, now)
	h.evictLocked(now)
	inWindow := len(h.timestamps)
	h.mu.Unlock()

	h.logger.Error("error reported",
		"error", err.Error(),
		"severity", string(severity),
		"category", string(category),
		"in_window", inWindow,
	)

	details := map[string]any{
		"error":    err.Error(),
		"severity": string(severity),
		"category": string(category),
	}
	for k, v := range errCtx {
		details[k] = v
	}

	h.bus.Publish(ctx, types.Event{
		Type:       types.EventErrorRaised,
		OccurredAt: now,
		Details:    details,
	})
	h.bus.Publish(ctx, types.Event{
		Type:       types.ErrorCategoryEvent(category),
		OccurredAt: now,
		Details:    details,
	})
	h.bus.Publish(ctx, types.Event{
		Type:       types.ErrorSeverityEvent(severity),
		OccurredAt: now,
		Details:    details,
	})

	// Critical errors additionally surface as a systemError lifecycle event,
	// which the notification service turns into a user-visible record when
	// the error context names an author.
	if severity == types.SeverityCritical {
		h.bus.Publish(ctx, types.Event{
			Type:       types.EventSystemError,
			OccurredAt: now,
			Details:    details,
		})
	}

	if inWindow > h.threshold {
		h.bus.Publish(ctx, types.Event{
			Type:       types.EventErrorThresholdExceeded,
			OccurredAt: now,
			Details: map[string]any{
				"count":     inWindow,
				"threshold": h.threshold,
				"window":    h.window.String(),
			},
		})
	}
}

// Count returns the total number of errors reported since the last reset.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Rate returns the current error rate in errors per hour, computed over the
// sliding window.
func (h *Handler) Rate() float64 {
	now := h.now()
	h.mu.Lock()
	h.evictLocked(now)
	inWindow := len(h.timestamps)
	h.mu.Unlock()

	hours := h.window.Hours()
	if hours <= 0 {
		return 0
	}
	return float64(inWindow) / hours
}

// Reset clears the global counter and the sliding window.
func (h *Handler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total = 0
	h.timestamps = h.timestamps[:0]
}

// evictLocked drops timestamps older than the window. Caller holds h.mu.
func (h *Handler) evictLocked(now time.Time) {
	cutoff := now.Add(-h.window)
	i := 0
	for ; i < len(h.timestamps); i++ {
		if h.timestamps[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		h.timestamps = append(h.timestamps[:0], h.timestamps[i:]...)
	}
}
