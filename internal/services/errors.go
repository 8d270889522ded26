// Package services holds the security event sinks and the audit query
// service. This file centralizes the service-level error values so handlers
// and guardctl can map them consistently.
package services

import "errors"

var (
	// ErrAuditDisabled is returned by AuditService when no audit database
	// is configured.
	ErrAuditDisabled = errors.New("audit trail disabled")

	// ErrInvalidEventType is returned when a filter names an unknown event
	// type.
	ErrInvalidEventType = errors.New("unknown event type")

	// ErrInvalidRetention is returned when a prune cutoff is not positive.
	ErrInvalidRetention = errors.New("retention must be positive")
)
