package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowpress/internal/types"
)

type stubSource struct {
	mu      sync.Mutex
	entries []*types.ScheduledEntry
	err     error
}

func (s *stubSource) GetDue(context.Context) ([]*types.ScheduledEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.entries, nil
}

type stubPublisher struct {
	mu        sync.Mutex
	published []string
	failIDs   map[string]bool
	block     chan struct{}
}

func (p *stubPublisher) Publish(_ context.Context, entryID, contentID string, _ types.ContentType) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failIDs[contentID] {
		return errors.New("publish failed: " + contentID)
	}
	p.published = append(p.published, entryID)
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []types.Event
}

func (b *recordingBus) Publish(_ context.Context, e types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Subscribe(types.EventType, func(context.Context, types.Event)) {}
func (b *recordingBus) SubscribeAll(func(context.Context, types.Event))               {}

func (b *recordingBus) count(t types.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type nopFaults struct{}

func (nopFaults) Report(context.Context, error, types.ErrorSeverity, types.ErrorCategory, map[string]any) {
}

func dueEntries(n int) []*types.ScheduledEntry {
	out := make([]*types.ScheduledEntry, n)
	for i := range out {
		out[i] = &types.ScheduledEntry{
			ID:          fmt.Sprintf("sched_%d", i),
			ContentType: types.ContentPost,
			ContentRef:  fmt.Sprintf("post_%d", i),
			Status:      types.StatusScheduled,
		}
	}
	return out
}

func newTestProcessor(source *stubSource, pub *stubPublisher) (*Processor, *recordingBus) {
	bus := &recordingBus{}
	p := NewProcessor(Config{
		Source:    source,
		Publisher: pub,
		Bus:       bus,
		Faults:    nopFaults{},
		Logger:    types.NewSlogLogger(nil),
	})
	return p, bus
}

func TestBatchCapsAtBatchSize(t *testing.T) {
	source := &stubSource{entries: dueEntries(60)}
	pub := &stubPublisher{}
	p, bus := newTestProcessor(source, pub)

	result := p.ProcessBatch(context.Background())
	require.NotNil(t, result)

	// 50 processed this tick, 10 left for the next.
	assert.Equal(t, DefaultBatchSize, result.Processed)
	assert.Zero(t, result.Failed)
	assert.Len(t, pub.published, DefaultBatchSize)
	assert.Equal(t, 1, bus.count(types.EventBatchStarted))
	assert.Equal(t, 1, bus.count(types.EventBatchCompleted))
}

func TestBatchContinuesOnItemFailure(t *testing.T) {
	source := &stubSource{entries: dueEntries(5)}
	pub := &stubPublisher{failIDs: map[string]bool{"post_1": true, "post_3": true}}
	p, _ := newTestProcessor(source, pub)

	result := p.ProcessBatch(context.Background())
	require.NotNil(t, result)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Failed)
	assert.Len(t, result.Errors, 2)
}

func TestBatchSkipsOverlappingRun(t *testing.T) {
	source := &stubSource{entries: dueEntries(1)}
	pub := &stubPublisher{block: make(chan struct{})}
	p, _ := newTestProcessor(source, pub)

	first := make(chan *types.BatchResult)
	go func() {
		first <- p.ProcessBatch(context.Background())
	}()

	// Let the first run reach the blocking publish.
	time.Sleep(20 * time.Millisecond)

	// A tick arriving mid-run returns nil instead of queuing.
	assert.Nil(t, p.ProcessBatch(context.Background()))

	close(pub.block)
	result := <-first
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Processed)
}

func TestBatchSourceFailure(t *testing.T) {
	source := &stubSource{err: errors.New("db down")}
	p, bus := newTestProcessor(source, &stubPublisher{})

	result := p.ProcessBatch(context.Background())
	require.NotNil(t, result)
	assert.Zero(t, result.Processed)
	require.Len(t, result.Errors, 1)

	// No batch lifecycle events when the fetch itself fails.
	assert.Zero(t, bus.count(types.EventBatchStarted))
	assert.Zero(t, bus.count(types.EventBatchCompleted))
}

func TestSetIntervalWhileStopped(t *testing.T) {
	p, _ := newTestProcessor(&stubSource{}, &stubPublisher{})

	p.SetInterval(context.Background(), time.Second)
	assert.Equal(t, time.Second, p.Interval())

	// Non-positive intervals are ignored.
	p.SetInterval(context.Background(), 0)
	assert.Equal(t, time.Second, p.Interval())
}

func TestSetBatchSizeTakesEffectNextBatch(t *testing.T) {
	source := &stubSource{entries: dueEntries(20)}
	pub := &stubPublisher{}
	p, _ := newTestProcessor(source, pub)

	p.SetBatchSize(10)
	result := p.ProcessBatch(context.Background())
	require.NotNil(t, result)
	assert.Equal(t, 10, result.Processed)

	// Non-positive sizes are ignored.
	p.SetBatchSize(0)
	assert.Equal(t, 10, p.BatchSize())
}

func TestStartStopIdempotent(t *testing.T) {
	p, _ := newTestProcessor(&stubSource{}, &stubPublisher{})
	ctx := context.Background()

	p.Start(ctx)
	p.Start(ctx)
	p.Stop()
	p.Stop()
}
