// Package repo: security event persistence.
//
// The guard only ever calls CreateSecurityEvent; the list, count and prune
// helpers back the monitoring endpoints and guardctl.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/crm-guard/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// EventFilter narrows ListSecurityEvents and CountSecurityEvents. Zero
// fields do not filter.
type EventFilter struct {
	EventType   string
	IdentityKey string
	Since       time.Time
}

func (f EventFilter) apply(q *gorm.DB) *gorm.DB {
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.IdentityKey != "" {
		q = q.Where("identity_key = ?", f.IdentityKey)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	return q
}

// CreateSecurityEvent inserts ev, assigning an ID and timestamp when unset.
func CreateSecurityEvent(ctx context.Context, db *gorm.DB, ev *domain.SecurityEvent) error {
	if ev == nil {
		return errors.New("repo: nil security event")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(ev).Error
}

// GetSecurityEvent fetches one event by id, or ErrNotFound.
func GetSecurityEvent(ctx context.Context, db *gorm.DB, id string) (*domain.SecurityEvent, error) {
	var ev domain.SecurityEvent
	if err := db.WithContext(ctx).First(&ev, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListSecurityEvents returns a page of events, newest first.
func ListSecurityEvents(ctx context.Context, db *gorm.DB, f EventFilter, offset, limit int) ([]domain.SecurityEvent, error) {
	var out []domain.SecurityEvent
	q := f.apply(db.WithContext(ctx).Model(&domain.SecurityEvent{})).
		Order("created_at DESC").
		Order("id")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountSecurityEvents returns how many events match f.
func CountSecurityEvents(ctx context.Context, db *gorm.DB, f EventFilter) (int64, error) {
	var n int64
	err := f.apply(db.WithContext(ctx).Model(&domain.SecurityEvent{})).Count(&n).Error
	return n, err
}

// CountByType returns per event type totals since the given time (zero
// means all time). Types with no rows are omitted.
func CountByType(ctx context.Context, db *gorm.DB, since time.Time) (map[string]int64, error) {
	var rows []struct {
		EventType string
		N         int64
	}
	q := EventFilter{Since: since}.apply(db.WithContext(ctx).Model(&domain.SecurityEvent{}))
	if err := q.Select("event_type, COUNT(*) AS n").Group("event_type").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.EventType] = r.N
	}
	return out, nil
}

// PruneSecurityEvents deletes events created before the cutoff and
// returns the number of rows removed.
func PruneSecurityEvents(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("created_at < ?", before.UTC()).Delete(&domain.SecurityEvent{})
	return res.RowsAffected, res.Error
}
