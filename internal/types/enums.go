package types

// ContentType identifies the kind of content a scheduled entry refers to.
type ContentType string

const (
	ContentPost    ContentType = "post"
	ContentComment ContentType = "comment"
)

// EntryStatus represents the lifecycle state of a ScheduledEntry.
// CANCELLED is terminal unless the entry is explicitly rescheduled.
type EntryStatus string

const (
	StatusScheduled EntryStatus = "scheduled"
	StatusPublished EntryStatus = "published"
	StatusCancelled EntryStatus = "cancelled"
)

// EventType identifies a lifecycle event emitted by the scheduling pipeline.
// "Publishing soon" is an event only, never a persisted entry status.
type EventType string

const (
	EventContentScheduled         EventType = "contentScheduled"
	EventContentPublishingSoon    EventType = "contentPublishingSoon"
	EventContentPublished         EventType = "contentPublished"
	EventContentPublicationFailed EventType = "contentPublicationFailed"
	EventContentUpdateScheduled   EventType = "contentUpdateScheduled"
	EventContentUpdatePublished   EventType = "contentUpdatePublished"
	EventContentUpdateFailed      EventType = "contentUpdateFailed"
	EventContentUpdateSoon        EventType = "contentUpdatePublishingSoon"
	EventContentCancelled         EventType = "contentCancelled"
	EventContentRescheduled       EventType = "contentRescheduled"
	EventSystemError              EventType = "systemError"
	EventBatchStarted             EventType = "batchStarted"
	EventBatchCompleted           EventType = "batchCompleted"
	EventRateLimitExceeded        EventType = "rateLimitExceeded"
	EventSecurityAudit            EventType = "securityAudit"
	EventErrorRaised              EventType = "error"
	EventErrorThresholdExceeded   EventType = "errorThresholdExceeded"
)

// ErrorCategoryEvent returns the category-scoped variant of the error event,
// e.g. "error:database". Subscribers use it to watch one failure domain
// without filtering the generic stream.
func ErrorCategoryEvent(c ErrorCategory) EventType {
	return EventType("error:" + string(c))
}

// ErrorSeverityEvent returns the severity-scoped variant of the error event,
// e.g. "error:critical".
func ErrorSeverityEvent(s ErrorSeverity) EventType {
	return EventType("error:" + string(s))
}

// HealthStatus is the operational state reported by a health check.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Worst returns the more severe of two health statuses.
func (h HealthStatus) Worst(other HealthStatus) HealthStatus {
	if h.rank() >= other.rank() {
		return h
	}
	return other
}

func (h HealthStatus) rank() int {
	switch h {
	case HealthUnhealthy:
		return 2
	case HealthDegraded:
		return 1
	default:
		return 0
	}
}

// ErrorCategory classifies the origin of a reported error.
type ErrorCategory string

const (
	CategoryDatabase       ErrorCategory = "database"
	CategoryValidation     ErrorCategory = "validation"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryAuthorization  ErrorCategory = "authorization"
	CategoryNetwork        ErrorCategory = "network"
	CategoryCache          ErrorCategory = "cache"
	CategoryMonitoring     ErrorCategory = "monitoring"
	CategorySecurity       ErrorCategory = "security"
	CategoryUpdate         ErrorCategory = "update"
	CategoryScheduling     ErrorCategory = "scheduling"
	CategoryPublication    ErrorCategory = "publication"
	CategoryBatch          ErrorCategory = "batch"
	CategoryNotification   ErrorCategory = "notification"
	CategoryUnknown        ErrorCategory = "unknown"
)

// ErrorSeverity grades how serious a reported error is.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AbuseAction is the response taken when an abuse pattern matches.
type AbuseAction string

const (
	AbuseWarn  AbuseAction = "warn"
	AbuseBlock AbuseAction = "block"
	AbuseBan   AbuseAction = "ban"
)

// QueueOperation identifies the deferred operation carried by an offline
// content envelope.
type QueueOperation string

const (
	QueueOpCreate QueueOperation = "create"
	QueueOpUpdate QueueOperation = "update"
	QueueOpDelete QueueOperation = "delete"
)
