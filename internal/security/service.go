// Package security enforces rate limits backed by Redis fixed-window
// counters, scans content for abuse patterns, manages time-bounded account
// and IP restrictions, and writes the durable security audit trail.
package security

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"slowpress/internal/config"
	"slowpress/internal/types"
)

// LimitRule is one named rate limit: at most Limit requests per Window.
type LimitRule struct {
	Limit  int
	Window time.Duration
}

// AuditStore is the persistence surface for the audit trail.
type AuditStore interface {
	Append(ctx context.Context, e *types.SecurityAuditEntry) error
}

// Service is the security enforcement point.
type Service struct {
	redis  *redis.Client
	audit  AuditStore
	bus    types.EventBus
	faults types.FaultReporter
	logger types.Logger
	rules  map[string]LimitRule
	now    func() time.Time

	mu            sync.Mutex
	blockedUsers  map[string]time.Time
	restrictedIPs map[string]time.Time
	abusePatterns []compiledPattern
}

type compiledPattern struct {
	types.AbusePattern
	re *regexp.Regexp
}

// Config holds the dependencies for creating a Service.
type Config struct {
	Redis  *redis.Client
	Audit  AuditStore
	Bus    types.EventBus
	Faults types.FaultReporter
	Logger types.Logger
	Limits config.SecurityConfig
	Now    func() time.Time
}

// NewService creates a security service with the default abuse pattern
// registry.
func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s := &Service{
		redis:  cfg.Redis,
		audit:  cfg.Audit,
		bus:    cfg.Bus,
		faults: cfg.Faults,
		logger: cfg.Logger,
		now:    now,
		rules: map[string]LimitRule{
			"api":     {Limit: cfg.Limits.APILimit, Window: cfg.Limits.APIWindow},
			"auth":    {Limit: cfg.Limits.AuthLimit, Window: cfg.Limits.AuthWindow},
			"content": {Limit: cfg.Limits.ContentLimit, Window: cfg.Limits.ContentWindow},
		},
		blockedUsers:  make(map[string]time.Time),
		restrictedIPs: make(map[string]time.Time),
	}
	s.registerDefaultPatterns()
	return s
}

// CheckRateLimit increments the fixed-window counter for the given scope
// and identity and reports whether the request is allowed. Unknown scopes
// fall back to the api rule. A Redis outage fails open: limiting is
// protection, not a dependency.
func (s *Service) CheckRateLimit(ctx context.Context, scope, userID, ip string) (bool, error) {
	rule, ok := s.rules[scope]
	if !ok {
		rule = s.rules["api"]
	}
	if rule.Limit <= 0 {
		return true, nil
	}

	window := s.now().Unix() / int64(rule.Window.Seconds())
	key := fmt.Sprintf("ratelimit:%s:%s:%s:%d", scope, userID, ip, window)

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		s.faults.Report(ctx, err, types.SeverityMedium, types.CategoryCache, map[string]any{"op": "rate_limit"})
		return true, nil
	}
	if count == 1 {
		s.redis.Expire(ctx, key, rule.Window)
	}

	if count > int64(rule.Limit) {
		s.bus.Publish(ctx, types.Event{
			Type: types.EventRateLimitExceeded,
			Details: map[string]any{
				"scope":   scope,
				"user_id": userID,
				"ip":      ip,
				"count":   count,
				"limit":   rule.Limit,
			},
		})
		s.LogSecurityAudit(ctx, &types.SecurityAuditEntry{
			EventType: "rate_limit_exceeded",
			UserID:    userID,
			IP:        ip,
			Endpoint:  scope,
			Severity:  types.SeverityMedium,
			Details:   map[string]any{"count": count, "limit": rule.Limit},
		})
		return false, nil
	}
	return true, nil
}

// CheckForAbuse scans content against the pattern registry and returns
// every match. Matches with a block or ban action also take effect on the
// author immediately.
func (s *Service) CheckForAbuse(ctx context.Context, userID, content string) []types.AbusePattern {
	s.mu.Lock()
	patterns := s.abusePatterns
	s.mu.Unlock()

	var matched []types.AbusePattern
	for _, p := range patterns {
		if !p.re.MatchString(content) {
			continue
		}
		matched = append(matched, p.AbusePattern)

		s.LogSecurityAudit(ctx, &types.SecurityAuditEntry{
			EventType: "abuse_pattern_matched",
			UserID:    userID,
			Severity:  p.Severity,
			Details:   map[string]any{"pattern": p.Name, "action": string(p.Action)},
		})

		switch p.Action {
		case types.AbuseBlock:
			s.BlockAccount(ctx, userID, time.Hour)
		case types.AbuseBan:
			s.BlockAccount(ctx, userID, 30*24*time.Hour)
		}
	}
	return matched
}

// RegisterPattern adds an abuse pattern to the registry. Invalid regular
// expressions are rejected.
func (s *Service) RegisterPattern(p types.AbusePattern) error {
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return types.NewAppError(types.ErrCodeInvalidRequest, "invalid abuse pattern: "+p.Name, err)
	}
	s.mu.Lock()
	s.abusePatterns = append(s.abusePatterns, compiledPattern{AbusePattern: p, re: re})
	s.mu.Unlock()
	return nil
}

func (s *Service) registerDefaultPatterns() {
	defaults := []types.AbusePattern{
		{Name: "script_injection", Pattern: `(?i)<\s*script[^>]*>`, Severity: types.SeverityHigh, Action: types.AbuseBlock},
		{Name: "event_handler_injection", Pattern: `(?i)\bon(load|error|click|mouseover)\s*=`, Severity: types.SeverityHigh, Action: types.AbuseBlock},
		{Name: "repeated_links", Pattern: `(?i)(https?://\S+\s*){8,}`, Severity: types.SeverityMedium, Action: types.AbuseWarn},
		{Name: "excessive_caps", Pattern: `\b[A-Z]{4,}(?:\s+[A-Z]{4,}){5,}`, Severity: types.SeverityLow, Action: types.AbuseWarn},
	}
	for _, p := range defaults {
		// Defaults are compile-checked constants; a failure here is a
		// programming error.
		if err := s.RegisterPattern(p); err != nil {
			panic(err)
		}
	}
}

// BlockAccount blocks a user for the given duration.
func (s *Service) BlockAccount(ctx context.Context, userID string, d time.Duration) {
	until := s.now().Add(d)
	s.mu.Lock()
	s.blockedUsers[userID] = until
	s.mu.Unlock()

	s.logger.Warn("account blocked", "user_id", userID, "until", until.Format(time.RFC3339))
	s.LogSecurityAudit(ctx, &types.SecurityAuditEntry{
		EventType: "account_blocked",
		UserID:    userID,
		Severity:  types.SeverityHigh,
		Details:   map[string]any{"until": until},
	})
}

// UnblockAccount lifts a user block early.
func (s *Service) UnblockAccount(ctx context.Context, userID string) {
	s.mu.Lock()
	delete(s.blockedUsers, userID)
	s.mu.Unlock()

	s.LogSecurityAudit(ctx, &types.SecurityAuditEntry{
		EventType: "account_unblocked",
		UserID:    userID,
		Severity:  types.SeverityLow,
	})
}

// IsBlocked reports whether the user is currently blocked. Expired blocks
// are evicted lazily on read.
func (s *Service) IsBlocked(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.blockedUsers[userID]
	if !ok {
		return false
	}
	if s.now().After(until) {
		delete(s.blockedUsers, userID)
		return false
	}
	return true
}

// RestrictIP restricts an IP for the given duration.
func (s *Service) RestrictIP(ctx context.Context, ip string, d time.Duration) {
	until := s.now().Add(d)
	s.mu.Lock()
	s.restrictedIPs[ip] = until
	s.mu.Unlock()

	s.logger.Warn("ip restricted", "ip", ip, "until", until.Format(time.RFC3339))
	s.LogSecurityAudit(ctx, &types.SecurityAuditEntry{
		EventType: "ip_restricted",
		IP:        ip,
		Severity:  types.SeverityHigh,
		Details:   map[string]any{"until": until},
	})
}

// UnrestrictIP lifts an IP restriction early.
func (s *Service) UnrestrictIP(ctx context.Context, ip string) {
	s.mu.Lock()
	delete(s.restrictedIPs, ip)
	s.mu.Unlock()

	s.LogSecurityAudit(ctx, &types.SecurityAuditEntry{
		EventType: "ip_unrestricted",
		IP:        ip,
		Severity:  types.SeverityLow,
	})
}

// IsRestricted reports whether the IP is currently restricted, evicting
// expired restrictions lazily.
func (s *Service) IsRestricted(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.restrictedIPs[ip]
	if !ok {
		return false
	}
	if s.now().After(until) {
		delete(s.restrictedIPs, ip)
		return false
	}
	return true
}

// LogSecurityAudit persists an audit entry and announces it on the bus. A
// store failure is reported but never propagated; auditing must not break
// the operation being audited.
func (s *Service) LogSecurityAudit(ctx context.Context, entry *types.SecurityAuditEntry) {
	if entry.ID == "" {
		entry.ID = types.NewID("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		s.faults.Report(ctx, err, types.SeverityHigh, types.CategorySecurity, map[string]any{"op": "audit_append"})
	}

	s.bus.Publish(ctx, types.Event{
		Type: types.EventSecurityAudit,
		Details: map[string]any{
			"audit_id":   entry.ID,
			"event_type": entry.EventType,
			"user_id":    entry.UserID,
			"severity":   string(entry.Severity),
		},
	})
}
