// Package domain defines the persistence models shared by the audit
// repository and the security event sinks.
package domain

import "time"

// Security event types.
const (
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventRequestAllowed    = "request_allowed"
	EventInjectionBlocked  = "injection_blocked"
	EventGuardError        = "guard_error"
)

// EventTypes lists every known event type.
var EventTypes = []string{
	EventRateLimitExceeded,
	EventRequestAllowed,
	EventInjectionBlocked,
	EventGuardError,
}

// SecurityEvent is one guard outcome. IdentityKey is always the hashed or
// prefixed stable key (never a raw API key or address), and Snippet is the
// truncated decoded excerpt for injection events.
//
// Extra holds a small JSON object with event-specific details (tier,
// period, retry_after, detection method, error text).
type SecurityEvent struct {
	ID          string    `json:"id"           gorm:"type:TEXT NOT NULL;primaryKey"`
	EventType   string    `json:"event_type"   gorm:"type:TEXT NOT NULL;index:idx_events_type_time,priority:1"`
	IdentityKey string    `json:"identity_key" gorm:"type:TEXT NOT NULL;index"`
	Path        string    `json:"path"         gorm:"type:TEXT NOT NULL"`
	Method      string    `json:"method"       gorm:"type:TEXT NOT NULL"`
	Field       string    `json:"field,omitempty"            gorm:"type:TEXT"`
	Detection   string    `json:"detection_method,omitempty" gorm:"type:TEXT"`
	Snippet     string    `json:"snippet,omitempty"          gorm:"type:TEXT"`
	Extra       string    `json:"extra,omitempty"            gorm:"type:TEXT"`
	CreatedAt   time.Time `json:"timestamp"    gorm:"type:DATETIME NOT NULL;index:idx_events_type_time,priority:2;index"`
}

// TableName implements the GORM tabler interface.
func (SecurityEvent) TableName() string { return "security_events" }

// KnownEventType reports whether t is one of EventTypes.
func KnownEventType(t string) bool {
	for _, k := range EventTypes {
		if k == t {
			return true
		}
	}
	return false
}
