// Package types defines the shared domain model for the slowpress
// delayed-publication engine: scheduled entries, delay settings, notifications,
// queue envelopes, health checks, and the error taxonomy used across services.
package types

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a prefixed UUID string, e.g. NewID("sched") -> "sched_9f3c...".
// All entity identifiers in the engine use this form.
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// ScheduledEntry is the lifecycle record owned exclusively by the scheduling
// service. Entries are never physically deleted; cancellation is a status.
type ScheduledEntry struct {
	ID          string      `json:"id"`
	ContentType ContentType `json:"content_type"`
	ContentRef  string      `json:"content_ref"`
	AuthorID    string      `json:"author_id"`
	PublishAt   time.Time   `json:"publish_at"`
	Status      EntryStatus `json:"status"`
	Timezone    string      `json:"timezone"`
	Version     int         `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// EntryUpdate carries the optional fields accepted by the scheduling update
// operation. Nil fields are left untouched.
type EntryUpdate struct {
	PublishAt *time.Time
	Timezone  *string
}

// GlobalDelaySettings is the platform-wide publication delay. Seeded with a
// default on first boot if no settings document exists.
type GlobalDelaySettings struct {
	DelayHours int       `json:"delay_hours"`
	UpdatedBy  string    `json:"updated_by"`
	UpdatedAt  time.Time `json:"updated_at"`
	// RequiresVerification is persisted for sensitive settings but is not
	// enforced by any caller today.
	RequiresVerification bool `json:"requires_verification"`
}

// ContentOverride is a per-item delay exception that wins over the global
// delay. Upserts are keyed by ContentID and replace the prior override
// wholesale.
type ContentOverride struct {
	ContentID   string      `json:"content_id"`
	ContentType ContentType `json:"content_type"`
	DelayHours  int         `json:"delay_hours"`
	Reason      string      `json:"reason"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Content is the engine's view of a stored post or comment. The full document
// lives in the content store; the engine only reads and flips status fields.
type Content struct {
	ID          string      `json:"id"`
	Type        ContentType `json:"type"`
	AuthorID    string      `json:"author_id"`
	Title       string      `json:"title"`
	Status      EntryStatus `json:"status"`
	PublishAt   time.Time   `json:"publish_at"`
	PublishedAt time.Time   `json:"published_at,omitzero"`
}

// FailedPublicationRecord tracks a publication failure in the in-process
// retry table. One record per content id; RetryCount increments on repeated
// failure and the record is removed only on success.
type FailedPublicationRecord struct {
	ContentID   string      `json:"content_id"`
	ContentType ContentType `json:"content_type"`
	Error       string      `json:"error"`
	Timestamp   time.Time   `json:"timestamp"`
	RetryCount  int         `json:"retry_count"`
}

// Notification is a persisted, user-facing record of a lifecycle event.
type Notification struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Type        EventType   `json:"type"`
	Title       string      `json:"title"`
	Message     string      `json:"message"`
	ContentID   string      `json:"content_id,omitempty"`
	ContentType ContentType `json:"content_type,omitempty"`
	Read        bool        `json:"read"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// NotificationPreferences controls per-user delivery. Lazily created with all
// types enabled on first access.
type NotificationPreferences struct {
	UserID             string             `json:"user_id"`
	EmailNotifications bool               `json:"email_notifications"`
	TypeEnabled        map[EventType]bool `json:"type_enabled"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// EnabledFor reports whether notifications of the given type should be
// delivered. Types absent from the map default to enabled.
func (p *NotificationPreferences) EnabledFor(t EventType) bool {
	if p.TypeEnabled == nil {
		return true
	}
	enabled, ok := p.TypeEnabled[t]
	if !ok {
		return true
	}
	return enabled
}

// QueueEnvelope is a deferred side effect parked in an offline queue. It is
// removed on successful delivery or dropped once Attempts reaches the cap.
type QueueEnvelope struct {
	ID          string         `json:"id"`
	Operation   QueueOperation `json:"operation,omitempty"`
	Type        EventType      `json:"type,omitempty"`
	Payload     []byte         `json:"payload"`
	CreatedAt   time.Time      `json:"created_at"`
	Attempts    int            `json:"attempts"`
	LastAttempt time.Time      `json:"last_attempt,omitzero"`
	Error       string         `json:"error,omitempty"`
}

// HealthCheck summarizes one component's operational state. Checks are
// overwritten in place; only the latest value is kept.
type HealthCheck struct {
	Name      string         `json:"name"`
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// PrepublishTimer is one row of the persisted fires-at index for
// "publishing soon" notifications. Keyed by entry id so re-arming replaces
// the previous intent and cancellation deletes it.
type PrepublishTimer struct {
	EntryID  string    `json:"entry_id"`
	AuthorID string    `json:"author_id"`
	FiresAt  time.Time `json:"fires_at"`
	Fired    bool      `json:"fired"`
}

// Event is the payload fanned out to lifecycle subscribers.
type Event struct {
	Type       EventType      `json:"type"`
	Entry      *ScheduledEntry `json:"entry,omitempty"`
	Content    *Content       `json:"content,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// BatchResult aggregates the outcome of one batch tick. Individual item
// failures never abort the batch.
type BatchResult struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Errors    []string      `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}

// Metrics is the rolling performance snapshot recomputed by the monitor.
type Metrics struct {
	ScheduledContentCount  int           `json:"scheduled_content_count"`
	PublishedContentCount  int           `json:"published_content_count"`
	ErrorCount             int           `json:"error_count"`
	ErrorRate              float64       `json:"error_rate"`
	BatchProcessingTime    time.Duration `json:"batch_processing_time"`
	AveragePublicationTime time.Duration `json:"average_publication_time"`
	CollectedAt            time.Time     `json:"collected_at"`
}

// SecurityAuditEntry is a durable security event with retention TTL.
type SecurityAuditEntry struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	UserID    string         `json:"user_id,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
	Severity  ErrorSeverity  `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AbusePattern is one entry of the abuse detection registry.
type AbusePattern struct {
	Name     string        `json:"name"`
	Pattern  string        `json:"pattern"`
	Severity ErrorSeverity `json:"severity"`
	Action   AbuseAction   `json:"action"`
}
