package external

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"slowpress/internal/types"
)

// BreakerTransport wraps an EmailTransport in a circuit breaker so a
// misbehaving mail provider cannot stall every notification. While the
// breaker is open, sends fail fast and the caller's offline queue absorbs
// them.
type BreakerTransport struct {
	inner   types.EmailTransport
	breaker *gobreaker.CircuitBreaker[any]
	logger  types.Logger
}

// NewBreakerTransport wraps the given transport. The breaker opens after
// five consecutive failures and probes again after 30 seconds.
func NewBreakerTransport(inner types.EmailTransport, logger types.Logger) *BreakerTransport {
	t := &BreakerTransport{inner: inner, logger: logger}
	t.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "email",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("email circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return t
}

// Send delivers through the breaker. An open breaker returns the
// gobreaker error immediately without touching the provider.
func (t *BreakerTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	_, err := t.breaker.Execute(func() (any, error) {
		return nil, t.inner.Send(ctx, to, subject, htmlBody)
	})
	return err
}

var _ types.EmailTransport = (*BreakerTransport)(nil)
