// Package handlers error codes.
//
// Codes are lowercase snake_case. Generic codes mirror HTTP status
// semantics; the rest name a condition the status alone cannot convey.
// Clients branch on the code, never on the message.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Guard monitoring:
	ErrCodeUnknownTier      = "unknown_tier"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeAuditDisabled    = "audit_disabled"
	ErrCodeInvalidEventType = "invalid_event_type"
	ErrCodeMonitorDisabled  = "monitor_disabled"
	ErrCodeValidationFailed = "validation_failed"
)
