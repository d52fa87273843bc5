package events

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"slowpress/internal/types"
)

func testLogger() types.Logger {
	return types.NewSlogLogger(slog.Default())
}

func TestPublishDeliversToTypedSubscribers(t *testing.T) {
	bus := NewBus(testLogger())

	var got []types.EventType
	bus.Subscribe(types.EventContentScheduled, func(_ context.Context, e types.Event) {
		got = append(got, e.Type)
	})
	bus.Subscribe(types.EventContentPublished, func(_ context.Context, e types.Event) {
		got = append(got, e.Type)
	})

	bus.Publish(context.Background(), types.Event{Type: types.EventContentScheduled})

	assert.Equal(t, []types.EventType{types.EventContentScheduled}, got)
}

func TestPublishDeliversToCatchAll(t *testing.T) {
	bus := NewBus(testLogger())

	count := 0
	bus.SubscribeAll(func(_ context.Context, _ types.Event) { count++ })

	bus.Publish(context.Background(), types.Event{Type: types.EventContentScheduled})
	bus.Publish(context.Background(), types.Event{Type: types.EventContentCancelled})

	assert.Equal(t, 2, count)
}

func TestPublishSetsOccurredAt(t *testing.T) {
	bus := NewBus(testLogger())

	var captured types.Event
	bus.Subscribe(types.EventContentPublished, func(_ context.Context, e types.Event) {
		captured = e
	})

	bus.Publish(context.Background(), types.Event{Type: types.EventContentPublished})

	assert.False(t, captured.OccurredAt.IsZero())
}

func TestPublishRecoversSubscriberPanic(t *testing.T) {
	bus := NewBus(testLogger())

	ran := false
	bus.Subscribe(types.EventContentScheduled, func(_ context.Context, _ types.Event) {
		panic("subscriber exploded")
	})
	bus.Subscribe(types.EventContentScheduled, func(_ context.Context, _ types.Event) {
		ran = true
	})

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), types.Event{Type: types.EventContentScheduled})
	})
	assert.True(t, ran, "subscriber after the panicking one must still run")
}
