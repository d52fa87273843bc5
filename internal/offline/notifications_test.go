package offline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowpress/internal/types"
)

type flakyEmail struct {
	mu      sync.Mutex
	failing bool
	sent    []string
}

func (e *flakyEmail) Send(_ context.Context, to, _, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failing {
		return errors.New("smtp down")
	}
	e.sent = append(e.sent, to)
	return nil
}

func newNotificationService(faults types.FaultReporter, email types.EmailTransport) (*NotificationService, *testClock) {
	clock := newTestClock()
	return NewNotificationService(NotificationConfig{
		Email:  email,
		Faults: faults,
		Logger: types.NewSlogLogger(nil),
		Now:    clock.now,
	}), clock
}

func notificationPayload(t *testing.T, userID string) []byte {
	t.Helper()
	payload, err := json.Marshal(types.Notification{
		UserID:  userID,
		Title:   "Content published",
		Message: "Your post is live.",
	})
	require.NoError(t, err)
	return payload
}

func TestNotificationDrainSendsQueued(t *testing.T) {
	email := &flakyEmail{}
	svc, _ := newNotificationService(&countingFaults{}, email)
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, types.EventContentPublished, notificationPayload(t, "author_1")))
	require.NoError(t, svc.Enqueue(ctx, types.EventContentPublished, notificationPayload(t, "author_2")))
	assert.Equal(t, 2, svc.Size())

	svc.ProcessQueue(ctx)

	assert.Zero(t, svc.Size())
	assert.Equal(t, []string{"author_1", "author_2"}, email.sent)
}

func TestNotificationRetainedWhileTransportDown(t *testing.T) {
	email := &flakyEmail{failing: true}
	svc, clock := newNotificationService(&countingFaults{}, email)
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, types.EventContentPublished, notificationPayload(t, "author_1")))

	svc.ProcessQueue(ctx)
	assert.Equal(t, 1, svc.Size())

	// Transport recovers before the retry cap.
	email.mu.Lock()
	email.failing = false
	email.mu.Unlock()
	clock.advance(DefaultRetryDelay)
	svc.ProcessQueue(ctx)
	assert.Zero(t, svc.Size())
	assert.Equal(t, []string{"author_1"}, email.sent)
}

func TestNotificationDroppedAfterMaxRetries(t *testing.T) {
	email := &flakyEmail{failing: true}
	faults := &countingFaults{}
	svc, clock := newNotificationService(faults, email)
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, types.EventContentPublished, notificationPayload(t, "author_1")))

	for i := 0; i < DefaultMaxRetries; i++ {
		svc.ProcessQueue(ctx)
		clock.advance(DefaultRetryDelay)
	}

	assert.Zero(t, svc.Size())
	assert.Equal(t, 1, faults.count())
}

func TestUndecodablePayloadDroppedImmediately(t *testing.T) {
	svc, _ := newNotificationService(&countingFaults{}, &flakyEmail{})
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, types.EventContentPublished, []byte("not json")))
	svc.ProcessQueue(ctx)
	assert.Zero(t, svc.Size())
}

func TestNotificationDrainLeavesRecentAttempts(t *testing.T) {
	email := &flakyEmail{failing: true}
	svc, clock := newNotificationService(&countingFaults{}, email)
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, types.EventContentPublished, notificationPayload(t, "author_1")))

	svc.ProcessQueue(ctx)
	assert.Equal(t, 1, svc.Size())

	// Inside the retry window the envelope stays parked, even with the
	// transport back up.
	email.mu.Lock()
	email.failing = false
	email.mu.Unlock()
	clock.advance(time.Second)
	svc.ProcessQueue(ctx)
	assert.Equal(t, 1, svc.Size())
	assert.Empty(t, email.sent)

	clock.advance(DefaultRetryDelay)
	svc.ProcessQueue(ctx)
	assert.Zero(t, svc.Size())
	assert.Equal(t, []string{"author_1"}, email.sent)
}
