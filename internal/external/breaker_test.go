package external

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowpress/internal/types"
)

type countingTransport struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (t *countingTransport) Send(context.Context, string, string, string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return t.err
}

func TestBreakerPassesThroughOnSuccess(t *testing.T) {
	inner := &countingTransport{}
	breaker := NewBreakerTransport(inner, types.NewSlogLogger(nil))

	for i := 0; i < 10; i++ {
		require.NoError(t, breaker.Send(context.Background(), "a@example.com", "s", "b"))
	}
	assert.Equal(t, 10, inner.calls)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &countingTransport{err: errors.New("provider down")}
	breaker := NewBreakerTransport(inner, types.NewSlogLogger(nil))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.Error(t, breaker.Send(ctx, "a@example.com", "s", "b"))
	}
	assert.Equal(t, 5, inner.calls)

	// Breaker is open now; the provider is no longer touched.
	require.Error(t, breaker.Send(ctx, "a@example.com", "s", "b"))
	require.Error(t, breaker.Send(ctx, "a@example.com", "s", "b"))
	assert.Equal(t, 5, inner.calls)
}
