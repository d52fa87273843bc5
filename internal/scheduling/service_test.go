package scheduling

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

type memEntryStore struct {
	mu       sync.Mutex
	entries  map[string]*types.ScheduledEntry
	timers   map[string]*types.PrepublishTimer
	failWith error
}

func newMemEntryStore() *memEntryStore {
	return &memEntryStore{
		entries: make(map[string]*types.ScheduledEntry),
		timers:  make(map[string]*types.PrepublishTimer),
	}
}

func (m *memEntryStore) Create(_ context.Context, e *types.ScheduledEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memEntryStore) Update(_ context.Context, e *types.ScheduledEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.entries[e.ID]; !ok {
		return types.NewAppError(types.ErrCodeNotFoundEntry, "no entry", nil)
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memEntryStore) GetByID(_ context.Context, id string) (*types.ScheduledEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memEntryStore) GetByAuthor(_ context.Context, authorID string) ([]*types.ScheduledEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.ScheduledEntry
	for _, e := range m.entries {
		if e.AuthorID == authorID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memEntryStore) GetDue(_ context.Context, now time.Time) ([]*types.ScheduledEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []*types.ScheduledEntry
	for _, e := range m.entries {
		if e.Status == types.StatusScheduled && !e.PublishAt.After(now) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memEntryStore) UpsertTimer(_ context.Context, t *types.PrepublishTimer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.timers[t.EntryID] = &cp
	return nil
}

func (m *memEntryStore) DeleteTimer(_ context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, entryID)
	return nil
}

func (m *memEntryStore) DueTimers(_ context.Context, now time.Time) ([]*types.PrepublishTimer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.PrepublishTimer
	for _, t := range m.timers {
		if !t.Fired && !t.FiresAt.After(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memEntryStore) MarkTimerFired(_ context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[entryID]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundEntry, "no timer", nil)
	}
	t.Fired = true
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

type nopFaults struct {
	mu      sync.Mutex
	reports int
}

func (f *nopFaults) Report(_ context.Context, _ error, _ types.ErrorSeverity, _ types.ErrorCategory, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports++
}

func newTestService(t *testing.T, store *memEntryStore, now time.Time) (*Service, *recordingBus) {
	t.Helper()
	bus := &recordingBus{}
	svc := NewService(Config{
		Store:  store,
		Bus:    bus,
		Faults: &nopFaults{},
		Logger: types.NewSlogLogger(nil),
		Now:    func() time.Time { return now },
	})
	return svc, bus
}

func testContent(id string) *types.Content {
	return &types.Content{
		ID:       id,
		Type:     types.ContentPost,
		AuthorID: "author_1",
		Title:    "draft",
		Status:   types.StatusScheduled,
	}
}

func TestScheduleYieldsExactPublishAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemEntryStore()
	svc, bus := newTestService(t, store, now)

	publishAt := now.Add(24 * time.Hour)
	entry, err := svc.Schedule(context.Background(), testContent("post_1"), publishAt)
	require.NoError(t, err)

	assert.True(t, entry.PublishAt.Equal(publishAt))
	assert.Equal(t, types.StatusScheduled, entry.Status)
	assert.Equal(t, 1, entry.Version)

	events := bus.ofType(types.EventContentScheduled)
	require.Len(t, events, 1)
	assert.Equal(t, entry.ID, events[0].Entry.ID)
	assert.Equal(t, "post_1", events[0].Content.ID)
}

func TestScheduleRejectsInvalidRequest(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemEntryStore()
	svc, bus := newTestService(t, store, now)

	content := testContent("post_1")
	content.AuthorID = ""
	_, err := svc.Schedule(context.Background(), content, now.Add(time.Hour))

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInvalidRequest, appErr.Code)
	assert.Empty(t, store.entries)
	assert.Empty(t, bus.ofType(types.EventContentScheduled))

	_, err = svc.Schedule(context.Background(), nil, now.Add(time.Hour))
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInvalidRequest, appErr.Code)
}

func TestScheduleArmsTimerWithLead(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemEntryStore()
	svc, _ := newTestService(t, store, now)

	publishAt := now.Add(1 * time.Hour)
	entry, err := svc.Schedule(context.Background(), testContent("post_1"), publishAt)
	require.NoError(t, err)

	timer, ok := store.timers[entry.ID]
	require.True(t, ok)
	assert.True(t, timer.FiresAt.Equal(publishAt.Add(-DefaultPrepublishLead)))
}

func TestScheduleSkipsTimerInsideLeadWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemEntryStore()
	svc, _ := newTestService(t, store, now)

	// Two minutes out is inside the five-minute lead; no timer.
	entry, err := svc.Schedule(context.Background(), testContent("post_1"), now.Add(2*time.Minute))
	require.NoError(t, err)

	_, ok := store.timers[entry.ID]
	assert.False(t, ok)
}

func TestGetDueBoundaryInclusive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemEntryStore()
	svc, _ := newTestService(t, store, now)

	// publishAt exactly equal to now counts as due.
	_, err := svc.Schedule(context.Background(), testContent("post_exact"), now)
	require.NoError(t, err)
	_, err = svc.Schedule(context.Background(), testContent("post_future"), now.Add(time.Second))
	require.NoError(t, err)

	due, err := svc.GetDue(context.Background())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "post_exact", due[0].ContentRef)
}

func TestCancelIsIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemEntryStore()
	svc, bus := newTestService(t, store, now)

	entry, err := svc.Schedule(context.Background(), testContent("post_1"), now.Add(time.Hour))
	require.NoError(t, err)

	first, err := svc.Cancel(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, first.Status)

	second, err := svc.Cancel(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, second.Status)
	assert.Equal(t, first.Version, second.Version)

	// Only the first call transitions, so only one event.
	assert.Len(t, bus.ofType(types.EventContentCancelled), 1)

	// Timer disarmed.
	_, ok := store.timers[entry.ID]
	assert.False(t, ok)
}

func TestRescheduleRevivesCancelledEntry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemEntryStore()
	svc, bus := newTestService(t, store, now)

	entry, err := svc.Schedule(context.Background(), testContent("post_1"), now.Add(time.Hour))
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), entry.ID)
	require.NoError(t, err)

	newAt := now.Add(48 * time.Hour)
	revived, err := svc.Reschedule(context.Background(), entry.ID, newAt)
	require.NoError(t, err)

	assert.Equal(t, types.StatusScheduled, revived.Status)
	assert.True(t, revived.PublishAt.Equal(newAt))
	require.Len(t, bus.ofType(types.EventContentRescheduled), 1)

	// Timer re-armed at the new instant.
	timer, ok := store.timers[entry.ID]
	require.True(t, ok)
	assert.True(t, timer.FiresAt.Equal(newAt.Add(-DefaultPrepublishLead)))
}

func TestUpdatePublishAtReplacesTimer(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemEntryStore()
	svc, bus := newTestService(t, store, now)

	entry, err := svc.Schedule(context.Background(), testContent("post_1"), now.Add(time.Hour))
	require.NoError(t, err)

	newAt := now.Add(3 * time.Hour)
	updated, err := svc.Update(context.Background(), entry.ID, types.EntryUpdate{PublishAt: &newAt})
	require.NoError(t, err)

	assert.Equal(t, 2, updated.Version)
	assert.True(t, updated.PublishAt.Equal(newAt))
	assert.Len(t, bus.ofType(types.EventContentUpdateScheduled), 1)

	timer := store.timers[entry.ID]
	require.NotNil(t, timer)
	assert.True(t, timer.FiresAt.Equal(newAt.Add(-DefaultPrepublishLead)))
	// Only one timer per entry, whatever the history.
	assert.Len(t, store.timers, 1)
}

func TestUpdateMissingEntry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, newMemEntryStore(), now)

	at := now.Add(time.Hour)
	_, err := svc.Update(context.Background(), "sched_missing", types.EntryUpdate{PublishAt: &at})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundEntry, appErr.Code)
}

func TestScheduleStoreFailureWrapsSchedulingError(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemEntryStore()
	store.failWith = errors.New("connection reset")
	svc, bus := newTestService(t, store, now)

	_, err := svc.Schedule(context.Background(), testContent("post_1"), now.Add(time.Hour))
	require.Error(t, err)

	var schedErr *types.SchedulingError
	require.ErrorAs(t, err, &schedErr)
	assert.Equal(t, "schedule", schedErr.Op)

	// Failed schedule emits nothing.
	assert.Empty(t, bus.events)
}
