package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/crm-guard/internal/domain"
	"github.com/tbourn/crm-guard/internal/repo"
)

// AuditService is the read side of the audit trail used by the monitoring
// endpoints and guardctl. A nil DB makes every call return ErrAuditDisabled.
type AuditService struct {
	DB *gorm.DB
}

// EventPage is one page of events plus the total matching count.
type EventPage struct {
	Events []domain.SecurityEvent `json:"events"`
	Total  int64                  `json:"total"`
	Offset int                    `json:"offset"`
	Limit  int                    `json:"limit"`
}

// List returns events of the given type (empty for all), newest first.
func (s *AuditService) List(ctx context.Context, eventType string, offset, limit int) (EventPage, error) {
	if s == nil || s.DB == nil {
		return EventPage{}, ErrAuditDisabled
	}
	if eventType != "" && !domain.KnownEventType(eventType) {
		return EventPage{}, ErrInvalidEventType
	}
	f := repo.EventFilter{EventType: eventType}
	total, err := repo.CountSecurityEvents(ctx, s.DB, f)
	if err != nil {
		return EventPage{}, err
	}
	events, err := repo.ListSecurityEvents(ctx, s.DB, f, offset, limit)
	if err != nil {
		return EventPage{}, err
	}
	if events == nil {
		events = []domain.SecurityEvent{}
	}
	return EventPage{Events: events, Total: total, Offset: offset, Limit: limit}, nil
}

// Summary returns per-type totals over the trailing window (zero for all
// time).
func (s *AuditService) Summary(ctx context.Context, window time.Duration) (map[string]int64, error) {
	if s == nil || s.DB == nil {
		return nil, ErrAuditDisabled
	}
	var since time.Time
	if window > 0 {
		since = time.Now().Add(-window)
	}
	return repo.CountByType(ctx, s.DB, since)
}

// Prune deletes events older than retention and returns how many went.
func (s *AuditService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, ErrAuditDisabled
	}
	if retention <= 0 {
		return 0, ErrInvalidRetention
	}
	return repo.PruneSecurityEvents(ctx, s.DB, time.Now().Add(-retention))
}
