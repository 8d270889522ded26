package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/crm-guard/internal/domain"
	"github.com/tbourn/crm-guard/internal/repo"
)

// Event is a guard outcome before it is rendered by a sink.
type Event struct {
	Type        string
	IdentityKey string
	Path        string
	Method      string
	RequestID   string
	Field       string
	Detection   string
	Snippet     string
	Extra       map[string]any
	Time        time.Time
}

// Record converts e to its persisted form.
func (e Event) Record() domain.SecurityEvent {
	rec := domain.SecurityEvent{
		EventType:   e.Type,
		IdentityKey: e.IdentityKey,
		Path:        e.Path,
		Method:      e.Method,
		Field:       e.Field,
		Detection:   e.Detection,
		Snippet:     e.Snippet,
		CreatedAt:   e.Time.UTC(),
	}
	if len(e.Extra) > 0 {
		if b, err := json.Marshal(e.Extra); err == nil {
			rec.Extra = string(b)
		}
	}
	return rec
}

// EventSink receives security events. Implementations must be safe for
// concurrent use; the guard calls Emit on the request goroutine.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// EventLogger writes events to a zerolog logger tagged logger=security.
// Denials log at warn, allowed requests at debug, guard failures at error.
type EventLogger struct {
	lg zerolog.Logger
}

// NewEventLogger derives the security logger from base.
func NewEventLogger(base zerolog.Logger) *EventLogger {
	return &EventLogger{lg: base.With().Str("logger", "security").Logger()}
}

// Emit implements EventSink. It never fails.
func (l *EventLogger) Emit(_ context.Context, ev Event) error {
	var e *zerolog.Event
	switch ev.Type {
	case domain.EventRequestAllowed:
		e = l.lg.Debug()
	case domain.EventGuardError:
		e = l.lg.Error()
	default:
		e = l.lg.Warn()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e = e.Str("event_type", ev.Type).
		Str("identity_key", ev.IdentityKey).
		Str("path", ev.Path).
		Str("method", ev.Method).
		Time("timestamp", ev.Time.UTC())
	if ev.RequestID != "" {
		e = e.Str("request_id", ev.RequestID)
	}
	if ev.Field != "" {
		e = e.Str("field", ev.Field)
	}
	if ev.Detection != "" {
		e = e.Str("detection_method", ev.Detection)
	}
	if ev.Snippet != "" {
		e = e.Str("snippet", ev.Snippet)
	}
	if len(ev.Extra) > 0 {
		e = e.Fields(ev.Extra)
	}
	e.Msg("security event")
	return nil
}

// AuditSink persists events to the audit table. Allowed requests are not
// stored unless IncludeAllowed is set.
type AuditSink struct {
	DB             *gorm.DB
	IncludeAllowed bool
	// Timeout bounds each insert; zero means 250ms.
	Timeout time.Duration
}

// Emit implements EventSink.
func (s *AuditSink) Emit(ctx context.Context, ev Event) error {
	if s == nil || s.DB == nil {
		return nil
	}
	if ev.Type == domain.EventRequestAllowed && !s.IncludeAllowed {
		return nil
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	rec := ev.Record()
	return repo.CreateSecurityEvent(ctx, s.DB, &rec)
}

// Multi fans an event out to every sink and joins their errors.
type Multi []EventSink

// Emit implements EventSink.
func (m Multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard EventSink = discard{}

type discard struct{}

func (discard) Emit(context.Context, Event) error { return nil }
