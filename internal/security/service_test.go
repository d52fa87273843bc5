package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowpress/internal/config"
	"slowpress/internal/types"
)

type memAudit struct {
	mu      sync.Mutex
	entries []*types.SecurityAuditEntry
}

func (a *memAudit) Append(_ context.Context, e *types.SecurityAuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *e
	a.entries = append(a.entries, &cp)
	return nil
}

func (a *memAudit) byType(eventType string) []*types.SecurityAuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*types.SecurityAuditEntry
	for _, e := range a.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
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

func newTestSecurity(t *testing.T, now time.Time) (*Service, *memAudit, *recordingBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	audit := &memAudit{}
	bus := &recordingBus{}
	svc := NewService(Config{
		Redis:  client,
		Audit:  audit,
		Bus:    bus,
		Faults: nopFaults{},
		Logger: types.NewSlogLogger(nil),
		Limits: config.SecurityConfig{
			APILimit: 100, APIWindow: 15 * time.Minute,
			AuthLimit: 5, AuthWindow: time.Hour,
			ContentLimit: 50, ContentWindow: 24 * time.Hour,
		},
		Now: func() time.Time { return now },
	})
	return svc, audit, bus, mr
}

func TestRateLimitAllowsUpToLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, audit, bus, _ := newTestSecurity(t, now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := svc.CheckRateLimit(ctx, "auth", "user_1", "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d should be allowed", i+1)
	}

	ok, err := svc.CheckRateLimit(ctx, "auth", "user_1", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, bus.count(types.EventRateLimitExceeded))
	assert.Len(t, audit.byType("rate_limit_exceeded"), 1)
}

func TestRateLimitIsolatesIdentities(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _, _, _ := newTestSecurity(t, now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.CheckRateLimit(ctx, "auth", "user_1", "10.0.0.1")
		require.NoError(t, err)
	}

	// A different user on the same endpoint has its own window.
	ok, err := svc.CheckRateLimit(ctx, "auth", "user_2", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimitFailsOpenOnRedisOutage(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _, _, mr := newTestSecurity(t, now)
	mr.Close()

	ok, err := svc.CheckRateLimit(context.Background(), "api", "user_1", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAbuseDetectionBlocksOnScriptInjection(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, audit, _, _ := newTestSecurity(t, now)
	ctx := context.Background()

	matched := svc.CheckForAbuse(ctx, "user_1", `hello <script>alert(1)</script>`)
	require.Len(t, matched, 1)
	assert.Equal(t, "script_injection", matched[0].Name)
	assert.Equal(t, types.AbuseBlock, matched[0].Action)

	assert.True(t, svc.IsBlocked("user_1"))
	assert.Len(t, audit.byType("abuse_pattern_matched"), 1)
	assert.Len(t, audit.byType("account_blocked"), 1)
}

func TestAbuseWarnDoesNotBlock(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _, _, _ := newTestSecurity(t, now)

	content := "BUY CHEAP PILLS RIGHT HERE TODAY ONLY FAST"
	matched := svc.CheckForAbuse(context.Background(), "user_1", content)
	require.NotEmpty(t, matched)
	assert.Equal(t, types.AbuseWarn, matched[0].Action)
	assert.False(t, svc.IsBlocked("user_1"))
}

func TestCleanContentMatchesNothing(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _, _, _ := newTestSecurity(t, now)

	matched := svc.CheckForAbuse(context.Background(), "user_1", "An ordinary post about gardening.")
	assert.Empty(t, matched)
}

func TestBlockExpiresLazily(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := NewService(Config{
		Redis:  client,
		Audit:  &memAudit{},
		Bus:    &recordingBus{},
		Faults: nopFaults{},
		Logger: types.NewSlogLogger(nil),
		Limits: config.SecurityConfig{APILimit: 100, APIWindow: time.Minute},
		Now:    func() time.Time { return clock },
	})

	svc.BlockAccount(context.Background(), "user_1", time.Hour)
	assert.True(t, svc.IsBlocked("user_1"))

	clock = base.Add(2 * time.Hour)
	assert.False(t, svc.IsBlocked("user_1"))
}

func TestUnblockAndUnrestrict(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, audit, _, _ := newTestSecurity(t, now)
	ctx := context.Background()

	svc.BlockAccount(ctx, "user_1", time.Hour)
	svc.UnblockAccount(ctx, "user_1")
	assert.False(t, svc.IsBlocked("user_1"))

	svc.RestrictIP(ctx, "10.0.0.9", time.Hour)
	assert.True(t, svc.IsRestricted("10.0.0.9"))
	svc.UnrestrictIP(ctx, "10.0.0.9")
	assert.False(t, svc.IsRestricted("10.0.0.9"))

	assert.Len(t, audit.byType("account_unblocked"), 1)
	assert.Len(t, audit.byType("ip_unrestricted"), 1)
}

func TestLogSecurityAuditStampsAndAnnounces(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, audit, bus, _ := newTestSecurity(t, now)

	svc.LogSecurityAudit(context.Background(), &types.SecurityAuditEntry{
		EventType: "manual_review",
		UserID:    "user_1",
		Severity:  types.SeverityLow,
	})

	entries := audit.byType("manual_review")
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.True(t, entries[0].CreatedAt.Equal(now))
	assert.Equal(t, 1, bus.count(types.EventSecurityAudit))
}

func TestRegisterPatternRejectsInvalidRegex(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _, _, _ := newTestSecurity(t, now)

	err := svc.RegisterPattern(types.AbusePattern{Name: "broken", Pattern: "(unclosed"})
	require.Error(t, err)
}
