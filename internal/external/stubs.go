package external

import (
	"context"

	"slowpress/internal/types"
)

// LogTransport is the email transport used when outbound email is
// disabled: it logs what would have been sent and succeeds.
type LogTransport struct {
	logger types.Logger
}

// NewLogTransport creates a logging no-op transport.
func NewLogTransport(logger types.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Send logs the email instead of delivering it.
func (t *LogTransport) Send(_ context.Context, to, subject, _ string) error {
	t.logger.Info("email suppressed (transport disabled)", "to", to, "subject", subject)
	return nil
}

var _ types.EmailTransport = (*LogTransport)(nil)
