// Package monitor tracks pipeline performance, component health, and a
// rolling metrics snapshot. It learns about the pipeline purely through
// lifecycle events; no service calls the monitor directly.
package monitor

import (
	"context"
	"sync"
	"time"

	"slowpress/internal/types"
)

const (
	// latencyRingSize bounds the publication latency sample window.
	latencyRingSize = 100

	// Batch duration thresholds.
	batchUnhealthyAfter = 10 * time.Second
	batchDegradedAfter  = 5 * time.Second

	// Average publication latency thresholds.
	publicationUnhealthyAfter = 5 * time.Second
	publicationDegradedAfter  = 2 * time.Second
)

// EntryCounter exposes the status counts the metrics snapshot needs.
type EntryCounter interface {
	CountByStatus(ctx context.Context, status types.EntryStatus) (int, error)
}

// FaultStats is the read surface of the central error handler.
type FaultStats interface {
	Count() int
	Rate() float64
}

// FailureTable reports the size of the publication retry table.
type FailureTable interface {
	FailureCount() int
}

// Service aggregates health checks and performance metrics.
type Service struct {
	entries  EntryCounter
	faults   FaultStats
	failures FailureTable
	logger   types.Logger
	now      func() time.Time

	mu            sync.RWMutex
	checks        map[string]types.HealthCheck
	latencies     [latencyRingSize]time.Duration
	latencyCount  int
	latencyNext   int
	lastBatchTime time.Duration
	metrics       types.Metrics
}

// Config holds the dependencies for creating a Service.
type Config struct {
	Entries  EntryCounter
	Faults   FaultStats
	Failures FailureTable
	Logger   types.Logger
	Now      func() time.Time
}

// NewService creates a monitoring service.
func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		entries:  cfg.Entries,
		faults:   cfg.Faults,
		failures: cfg.Failures,
		logger:   cfg.Logger,
		now:      now,
		checks:   make(map[string]types.HealthCheck),
	}
}

// Wire subscribes the monitor to the lifecycle events it derives health
// from. Call once at startup.
func (s *Service) Wire(bus types.EventBus) {
	bus.Subscribe(types.EventBatchCompleted, s.onBatchCompleted)
	bus.Subscribe(types.EventContentPublished, s.onContentPublished)
	bus.Subscribe(types.EventContentPublicationFailed, s.onPublicationFailed)
	bus.Subscribe(types.EventErrorThresholdExceeded, s.onErrorThreshold)
}

func (s *Service) onBatchCompleted(ctx context.Context, e types.Event) {
	ms, _ := e.Details["duration_ms"].(int64)
	duration := time.Duration(ms) * time.Millisecond

	s.mu.Lock()
	s.lastBatchTime = duration
	s.mu.Unlock()

	status := types.HealthHealthy
	msg := "batch within threshold"
	switch {
	case duration > batchUnhealthyAfter:
		status = types.HealthUnhealthy
		msg = "batch duration exceeds unhealthy threshold"
	case duration > batchDegradedAfter:
		status = types.HealthDegraded
		msg = "batch duration exceeds degraded threshold"
	}
	s.UpdateHealthCheck(ctx, types.HealthCheck{
		Name:    "batch_processing",
		Status:  status,
		Message: msg,
		Details: map[string]any{"duration_ms": duration.Milliseconds()},
	})
}

func (s *Service) onContentPublished(ctx context.Context, e types.Event) {
	if e.Content == nil || e.Content.PublishAt.IsZero() {
		return
	}
	// Latency is how far past the intended instant the publish landed.
	latency := e.Content.PublishedAt.Sub(e.Content.PublishAt)
	if latency < 0 {
		latency = 0
	}
	s.RecordPublicationLatency(ctx, latency)
}

func (s *Service) onPublicationFailed(ctx context.Context, _ types.Event) {
	s.UpdateHealthCheck(ctx, types.HealthCheck{
		Name:    "publication",
		Status:  types.HealthDegraded,
		Message: "recent publication failure",
	})
}

func (s *Service) onErrorThreshold(ctx context.Context, e types.Event) {
	s.UpdateHealthCheck(ctx, types.HealthCheck{
		Name:    "errors",
		Status:  types.HealthDegraded,
		Message: "error rate exceeds the configured threshold",
		Details: e.Details,
	})
}

// RecordPublicationLatency adds a sample to the rolling latency window and
// refreshes the publication health check from the new average.
func (s *Service) RecordPublicationLatency(ctx context.Context, latency time.Duration) {
	s.mu.Lock()
	s.latencies[s.latencyNext] = latency
	s.latencyNext = (s.latencyNext + 1) % latencyRingSize
	if s.latencyCount < latencyRingSize {
		s.latencyCount++
	}
	avg := s.averageLatencyLocked()
	s.mu.Unlock()

	status := types.HealthHealthy
	msg := "publication latency within threshold"
	switch {
	case avg > publicationUnhealthyAfter:
		status = types.HealthUnhealthy
		msg = "average publication latency exceeds unhealthy threshold"
	case avg > publicationDegradedAfter:
		status = types.HealthDegraded
		msg = "average publication latency exceeds degraded threshold"
	}
	s.UpdateHealthCheck(ctx, types.HealthCheck{
		Name:    "publication",
		Status:  status,
		Message: msg,
		Details: map[string]any{"avg_latency_ms": avg.Milliseconds()},
	})
}

func (s *Service) averageLatencyLocked() time.Duration {
	if s.latencyCount == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < s.latencyCount; i++ {
		total += s.latencies[i]
	}
	return total / time.Duration(s.latencyCount)
}

// UpdateHealthCheck overwrites the named component check in place.
func (s *Service) UpdateHealthCheck(_ context.Context, check types.HealthCheck) {
	check.Timestamp = s.now()
	s.mu.Lock()
	s.checks[check.Name] = check
	s.mu.Unlock()

	if check.Status != types.HealthHealthy {
		s.logger.Warn("component health changed",
			"component", check.Name,
			"status", string(check.Status),
			"message", check.Message,
		)
	}
}

// GetHealthChecks returns the latest check per component.
func (s *Service) GetHealthChecks() []types.HealthCheck {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.HealthCheck, 0, len(s.checks))
	for _, c := range s.checks {
		out = append(out, c)
	}
	return out
}

// OverallHealth reduces the component checks to the worst status.
func (s *Service) OverallHealth() types.HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	overall := types.HealthHealthy
	for _, c := range s.checks {
		overall = overall.Worst(c.Status)
	}
	return overall
}

// CollectMetrics recomputes the rolling snapshot: status counts from the
// registry, error counts from the fault handler, and the in-memory timing
// windows. Called on the collection interval and on demand.
func (s *Service) CollectMetrics(ctx context.Context) (types.Metrics, error) {
	if s.failures != nil {
		pending := s.failures.FailureCount()
		status := types.HealthHealthy
		msg := "no pending publication failures"
		if pending > 0 {
			status = types.HealthDegraded
			msg = "publication retry table is non-empty"
		}
		s.UpdateHealthCheck(ctx, types.HealthCheck{
			Name:    "publication_retries",
			Status:  status,
			Message: msg,
			Details: map[string]any{"pending": pending},
		})
	}

	// The threshold event only fires while errors keep arriving; an empty
	// window clears the check.
	if s.faults.Count() == 0 {
		s.mu.RLock()
		_, tracked := s.checks["errors"]
		s.mu.RUnlock()
		if tracked {
			s.UpdateHealthCheck(ctx, types.HealthCheck{
				Name:    "errors",
				Status:  types.HealthHealthy,
				Message: "error window is empty",
			})
		}
	}

	scheduled, err := s.entries.CountByStatus(ctx, types.StatusScheduled)
	if err != nil {
		return types.Metrics{}, err
	}
	published, err := s.entries.CountByStatus(ctx, types.StatusPublished)
	if err != nil {
		return types.Metrics{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = types.Metrics{
		ScheduledContentCount:  scheduled,
		PublishedContentCount:  published,
		ErrorCount:             s.faults.Count(),
		ErrorRate:              s.faults.Rate(),
		BatchProcessingTime:    s.lastBatchTime,
		AveragePublicationTime: s.averageLatencyLocked(),
		CollectedAt:            s.now(),
	}
	return s.metrics, nil
}

// Metrics returns the last collected snapshot.
func (s *Service) Metrics() types.Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}
