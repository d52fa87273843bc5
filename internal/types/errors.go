package types

import (
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Domain services MUST use these constants instead of
// hardcoded strings so the fault tracker and callers can branch on them.
const (
	// Validation
	ErrCodeInvalidDelay     ErrorCode = "validation_invalid_delay"
	ErrCodeInvalidPublishAt ErrorCode = "validation_invalid_publish_at"
	ErrCodeInvalidRequest   ErrorCode = "validation_invalid_request"

	// Not found
	ErrCodeNotFoundEntry        ErrorCode = "not_found_scheduled_entry"
	ErrCodeNotFoundContent      ErrorCode = "not_found_content"
	ErrCodeNotFoundNotification ErrorCode = "not_found_notification"
	ErrCodeConfigNotFound       ErrorCode = "not_found_delay_settings"

	// Conflict
	ErrCodeConflictVersion ErrorCode = "conflict_concurrent_modification"

	// Pipeline
	ErrCodeScheduling  ErrorCode = "scheduling_operation_failed"
	ErrCodePublication ErrorCode = "publication_failed"
	ErrCodeBatch       ErrorCode = "batch_processing_failed"

	// Security
	ErrCodeRateLimit      ErrorCode = "rate_limit_exceeded"
	ErrCodeAccountBlocked ErrorCode = "security_account_blocked"
	ErrCodeIPRestricted   ErrorCode = "security_ip_restricted"

	// Internal/Upstream
	ErrCodeInternalDB      ErrorCode = "internal_database_error"
	ErrCodeInternalQueue   ErrorCode = "internal_queue_error"
	ErrCodeInternalCache   ErrorCode = "internal_cache_error"
	ErrCodeUpstreamEmail   ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeInternalUnknown ErrorCode = "internal_unexpected_error"
)

// AppError is the standard application error type used throughout the engine.
// All domain errors should be expressed as AppError to enable consistent
// formatting, fault categorization, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
// Useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// PublicationError is raised by the publication service when a state flip
// fails. It carries the content identity so callers and the failure table can
// key on it.
type PublicationError struct {
	ContentID   string
	ContentType ContentType
	Cause       error
}

// Error implements the error interface.
func (e *PublicationError) Error() string {
	return fmt.Sprintf("publication failed for %s %s: %v", e.ContentType, e.ContentID, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *PublicationError) Unwrap() error {
	return e.Cause
}

// SchedulingError wraps a store failure during a scheduling mutation with the
// operation name and the affected entry id.
type SchedulingError struct {
	Op      string
	EntryID string
	Cause   error
}

// Error implements the error interface.
func (e *SchedulingError) Error() string {
	return fmt.Sprintf("scheduling %s failed for entry %s: %v", e.Op, e.EntryID, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *SchedulingError) Unwrap() error {
	return e.Cause
}
