package types

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorFormat(t *testing.T) {
	err := NewAppError(ErrCodeNotFoundEntry, "entry not found: sched_1", nil)
	assert.Equal(t, "not_found_scheduled_entry: entry not found: sched_1", err.Error())
}

func TestAppErrorUnwrapChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAppError(ErrCodeInternalDB, "failed to load content", cause)

	assert.ErrorIs(t, err, cause)

	var appErr *AppError
	require.ErrorAs(t, error(err), &appErr)
	assert.Equal(t, ErrCodeInternalDB, appErr.Code)
}

func TestAppErrorWithDetailsDoesNotMutate(t *testing.T) {
	base := NewAppError(ErrCodeInvalidRequest, "bad input", nil).
		WithDetails(map[string]any{"field": "publish_at"})
	derived := base.WithDetails(map[string]any{"value": "zero"})

	assert.Len(t, base.Details, 1)
	assert.Len(t, derived.Details, 2)
	assert.Equal(t, "publish_at", derived.Details["field"])
}

func TestSchedulingErrorCarriesOpAndID(t *testing.T) {
	cause := errors.New("timeout")
	err := &SchedulingError{Op: "cancel", EntryID: "sched_9", Cause: cause}

	assert.Contains(t, err.Error(), "cancel")
	assert.Contains(t, err.Error(), "sched_9")
	assert.ErrorIs(t, err, cause)
}

func TestPublicationErrorCarriesContentIdentity(t *testing.T) {
	cause := errors.New("row gone")
	err := &PublicationError{ContentID: "post_3", ContentType: ContentPost, Cause: cause}

	assert.Contains(t, err.Error(), "post_3")
	assert.ErrorIs(t, err, cause)

	var pubErr *PublicationError
	require.ErrorAs(t, error(err), &pubErr)
	assert.Equal(t, ContentPost, pubErr.ContentType)
}

func TestNewIDUsesPrefix(t *testing.T) {
	id := NewID("notif")
	assert.True(t, strings.HasPrefix(id, "notif_"))
	assert.NotEqual(t, id, NewID("notif"))
}

func TestPreferencesDefaultEnabled(t *testing.T) {
	p := &NotificationPreferences{UserID: "user_1"}
	assert.True(t, p.EnabledFor(EventContentPublished))

	p.TypeEnabled = map[EventType]bool{EventContentPublished: false}
	assert.False(t, p.EnabledFor(EventContentPublished))
	assert.True(t, p.EnabledFor(EventContentScheduled))
}
