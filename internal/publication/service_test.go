package publication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowpress/internal/types"
)

type memContentStore struct {
	mu       sync.Mutex
	contents map[string]*types.Content
	failWith error
	// markFailWith fails only MarkPublished, so the load succeeds first.
	markFailWith error
}

func newMemContentStore() *memContentStore {
	return &memContentStore{contents: make(map[string]*types.Content)}
}

func (m *memContentStore) put(c *types.Content) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.contents[c.ID] = &cp
}

func (m *memContentStore) FindByID(_ context.Context, id string, _ types.ContentType) (*types.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	c, ok := m.contents[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memContentStore) MarkPublished(_ context.Context, id string, _ types.ContentType, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if m.markFailWith != nil {
		return m.markFailWith
	}
	c, ok := m.contents[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundContent, "no content", nil)
	}
	c.Status = types.StatusPublished
	c.PublishedAt = publishedAt
	return nil
}

func (m *memContentStore) FindDue(_ context.Context, now time.Time) ([]types.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Content
	for _, c := range m.contents {
		if c.Status == types.StatusScheduled && !c.PublishAt.After(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memContentStore) IsDue(_ context.Context, id string, _ types.ContentType, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[id]
	if !ok {
		return false, nil
	}
	return c.Status == types.StatusScheduled && !c.PublishAt.After(now), nil
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

func (b *recordingBus) ofType(t types.EventType) []types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type nopFaults struct{}

func (nopFaults) Report(context.Context, error, types.ErrorSeverity, types.ErrorCategory, map[string]any) {
}

type memRegistry struct {
	mu        sync.Mutex
	published []string
}

func (r *memRegistry) MarkPublished(_ context.Context, entryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, entryID)
	return nil
}

func newTestService(store *memContentStore, now time.Time) (*Service, *recordingBus, *memRegistry) {
	bus := &recordingBus{}
	reg := &memRegistry{}
	svc := NewService(Config{
		Store:    store,
		Registry: reg,
		Bus:      bus,
		Faults:   nopFaults{},
		Logger:   types.NewSlogLogger(nil),
		Now:      func() time.Time { return now },
	})
	return svc, bus, reg
}

func scheduledContent(id string, publishAt time.Time) *types.Content {
	return &types.Content{
		ID:        id,
		Type:      types.ContentPost,
		AuthorID:  "author_1",
		Title:     "draft",
		Status:    types.StatusScheduled,
		PublishAt: publishAt,
	}
}

func TestPublishFlipsContentAndEmitsSnapshot(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemContentStore()
	store.put(scheduledContent("post_1", now.Add(-time.Minute)))
	svc, bus, reg := newTestService(store, now)

	err := svc.Publish(context.Background(), "sched_1", "post_1", types.ContentPost)
	require.NoError(t, err)

	stored := store.contents["post_1"]
	assert.Equal(t, types.StatusPublished, stored.Status)
	assert.True(t, stored.PublishedAt.Equal(now))

	events := bus.ofType(types.EventContentPublished)
	require.Len(t, events, 1)
	assert.Equal(t, "post_1", events[0].Content.ID)
	assert.Equal(t, types.StatusPublished, events[0].Content.Status)

	assert.Equal(t, []string{"sched_1"}, reg.published)
	assert.Zero(t, svc.FailureCount())
}

func TestPublishMissingContent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, bus, _ := newTestService(newMemContentStore(), now)

	err := svc.Publish(context.Background(), "sched_1", "post_ghost", types.ContentPost)
	require.Error(t, err)

	var pubErr *types.PublicationError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, "post_ghost", pubErr.ContentID)

	// No contentPublished, but a failure event and a retry record.
	assert.Empty(t, bus.ofType(types.EventContentPublished))
	assert.Len(t, bus.ofType(types.EventContentPublicationFailed), 1)
	assert.Equal(t, 1, svc.FailureCount())
}

func TestFailureEventNamesAuthor(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemContentStore()
	store.put(scheduledContent("post_1", now.Add(-time.Minute)))
	store.markFailWith = errors.New("write rejected")
	svc, bus, _ := newTestService(store, now)

	err := svc.Publish(context.Background(), "sched_1", "post_1", types.ContentPost)
	require.Error(t, err)

	failed := bus.ofType(types.EventContentPublicationFailed)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].Content)
	assert.Equal(t, "author_1", failed[0].Content.AuthorID)
	assert.Equal(t, "author_1", failed[0].Details["author_id"])
}

func TestRepeatedFailureIncrementsRetryCount(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemContentStore()
	store.put(scheduledContent("post_1", now.Add(-time.Minute)))
	store.failWith = errors.New("store down")
	svc, _, _ := newTestService(store, now)

	for i := 0; i < 3; i++ {
		_ = svc.Publish(context.Background(), "", "post_1", types.ContentPost)
	}

	records := svc.FailedRecords()
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].RetryCount)
}

func TestRetrySkipsRecordsAtCap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemContentStore()
	store.put(scheduledContent("post_capped", now.Add(-time.Minute)))
	store.put(scheduledContent("post_fresh", now.Add(-time.Minute)))
	store.failWith = errors.New("store down")
	svc, bus, _ := newTestService(store, now)

	// Drive post_capped to the cap, post_fresh to a single failure.
	for i := 0; i <= MaxRetries; i++ {
		_ = svc.Publish(context.Background(), "", "post_capped", types.ContentPost)
	}
	_ = svc.Publish(context.Background(), "", "post_fresh", types.ContentPost)

	// Store recovers; only the under-cap record is retried.
	store.mu.Lock()
	store.failWith = nil
	store.mu.Unlock()
	svc.RetryFailedPublications(context.Background())

	events := bus.ofType(types.EventContentPublished)
	require.Len(t, events, 1)
	assert.Equal(t, "post_fresh", events[0].Content.ID)

	// The capped record stays for the audit trail.
	records := svc.FailedRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "post_capped", records[0].ContentID)
	assert.Equal(t, MaxRetries, records[0].RetryCount)
}

func TestSuccessfulRetryClearsRecord(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemContentStore()
	store.put(scheduledContent("post_1", now.Add(-time.Minute)))
	store.failWith = errors.New("blip")
	svc, _, _ := newTestService(store, now)

	_ = svc.Publish(context.Background(), "", "post_1", types.ContentPost)
	require.Equal(t, 1, svc.FailureCount())

	store.mu.Lock()
	store.failWith = nil
	store.mu.Unlock()
	svc.RetryFailedPublications(context.Background())

	assert.Zero(t, svc.FailureCount())
}

func TestGetDueBoundaryInclusive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemContentStore()
	store.put(scheduledContent("post_exact", now))
	store.put(scheduledContent("post_future", now.Add(time.Second)))
	svc, _, _ := newTestService(store, now)

	due, err := svc.GetDue(context.Background())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "post_exact", due[0].ID)
}
