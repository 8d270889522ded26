// Monitoring HTTP handlers.
//
// Operator endpoints for the request guard:
//   - GET    /monitoring/ratelimit/status  (usage of one identity)
//   - DELETE /monitoring/ratelimit         (clear one identity's windows)
//   - GET    /monitoring/threats/stats     (detector counters + audit summary)
//   - GET    /monitoring/events            (audit trail page)
//
// The /monitoring/ prefix is exempt from the guard, so reading status never
// consumes the allowance it reports.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/crm-guard/internal/http/middleware"
	"github.com/tbourn/crm-guard/internal/ratelimit"
	"github.com/tbourn/crm-guard/internal/services"
	"github.com/tbourn/crm-guard/internal/threat"
	"github.com/tbourn/crm-guard/internal/utils"
)

// RateLimitAdmin is the subset of *ratelimit.Limiter the monitor needs.
type RateLimitAdmin interface {
	Tier(name string) (ratelimit.Tier, bool)
	TierFor(path string, id ratelimit.Identity, caller ratelimit.CallerContext) ratelimit.Tier
	Status(ctx context.Context, id ratelimit.Identity, tier ratelimit.Tier) (ratelimit.Status, error)
	Reset(ctx context.Context, id ratelimit.Identity) error
}

// ThreatCounter exposes detector counters.
type ThreatCounter interface {
	Stats() threat.Stats
}

// AuditReader is the read side of the audit trail.
type AuditReader interface {
	List(ctx context.Context, eventType string, offset, limit int) (services.EventPage, error)
	Summary(ctx context.Context, window time.Duration) (map[string]int64, error)
}

// Monitor serves the monitoring endpoints. Any dependency may be nil; the
// matching endpoints then answer 503.
type Monitor struct {
	limiter RateLimitAdmin
	threats ThreatCounter
	audit   AuditReader
}

// NewMonitor binds the monitoring endpoints to their collaborators.
func NewMonitor(l RateLimitAdmin, t ThreatCounter, a AuditReader) *Monitor {
	return &Monitor{limiter: l, threats: t, audit: a}
}

// ThreatStatsResponse combines live detector counters with audit totals.
type ThreatStatsResponse struct {
	Detector threat.Stats     `json:"detector"`
	Events   map[string]int64 `json:"events,omitempty"` // nil when the audit trail is disabled
	Window   string           `json:"window,omitempty"`
}

const (
	defaultEventLimit   = 50
	maxEventLimit       = 500
	defaultStatsWindow  = 24 * time.Hour
	statsWindowQueryKey = "window"
)

// target selects the identity an operator asks about: ?api_key, ?user or
// ?ip in that order, else the caller's own identity.
func target(c *gin.Context) (ratelimit.Identity, ratelimit.CallerContext, bool) {
	if k := strings.TrimSpace(c.Query("api_key")); k != "" {
		return ratelimit.APIKeyIdentity(k), ratelimit.CallerContext{APIKey: k}, true
	}
	if u := strings.TrimSpace(c.Query("user")); u != "" {
		cc := ratelimit.CallerContext{UserID: u, Role: strings.ToLower(c.Query("role"))}
		return ratelimit.UserIdentity(u), cc, true
	}
	if ip := strings.TrimSpace(c.Query("ip")); ip != "" {
		return ratelimit.IPIdentity(ip), ratelimit.CallerContext{}, true
	}
	caller := middleware.CallerFrom(c)
	return ratelimit.Resolve(c.Request, caller), caller, false
}

// RateLimitStatus godoc
// @ID          rateLimitStatus
// @Summary     Rate limit usage for one identity
// @Description Reports used/remaining per window without counting a request. Without a selector the caller's own identity is used.
// @Tags        Monitoring
// @Produce     json
//
// @Param       api_key  query  string  false  "API key to inspect"
// @Param       user     query  string  false  "User id to inspect"
// @Param       role     query  string  false  "Role of the user (selects the role tier)"
// @Param       ip       query  string  false  "Client IP to inspect"
// @Param       tier     query  string  false  "Explicit tier name"  example(login)
//
// @Success     200  {object}  ratelimit.Status
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown tier"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /monitoring/ratelimit/status [get]
func (m *Monitor) RateLimitStatus(c *gin.Context) {
	if m.limiter == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeMonitorDisabled, "rate limiting disabled")
		return
	}
	id, caller, _ := target(c)

	tier := m.limiter.TierFor("", id, caller)
	if name := strings.TrimSpace(c.Query("tier")); name != "" {
		t, found := m.limiter.Tier(name)
		if !found {
			fail(c, http.StatusBadRequest, ErrCodeUnknownTier, "unknown tier "+name)
			return
		}
		tier = t
	}

	st, err := m.limiter.Status(c.Request.Context(), id, tier)
	if err != nil {
		storeFailure(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// ResetRateLimit godoc
// @ID          resetRateLimit
// @Summary     Clear rate limit windows
// @Description Deletes every window counter of the selected identity. A selector is required.
// @Tags        Monitoring
//
// @Param       api_key  query  string  false  "API key"
// @Param       user     query  string  false  "User id"
// @Param       ip       query  string  false  "Client IP"
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "No selector"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /monitoring/ratelimit [delete]
func (m *Monitor) ResetRateLimit(c *gin.Context) {
	if m.limiter == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeMonitorDisabled, "rate limiting disabled")
		return
	}
	id, _, explicit := target(c)
	if !explicit {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "one of api_key, user or ip is required")
		return
	}
	if err := m.limiter.Reset(c.Request.Context(), id); err != nil {
		storeFailure(c, err)
		return
	}
	middleware.LoggerFrom(c).Info().
		Str("identity_key", id.StableKey).
		Msg("rate limit windows cleared")
	noContent(c)
}

// ThreatStats godoc
// @ID          threatStats
// @Summary     Threat detection statistics
// @Description Live detector counters since start plus audit totals by event type over a trailing window.
// @Tags        Monitoring
// @Produce     json
//
// @Param       window  query  string  false  "Audit window (Go duration)"  default(24h)
//
// @Success     200  {object}  handlers.ThreatStatsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad window"
// @Failure     503  {object}  handlers.ErrorResponse  "Detector disabled"
// @Router      /monitoring/threats/stats [get]
func (m *Monitor) ThreatStats(c *gin.Context) {
	if m.threats == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeMonitorDisabled, "threat detection disabled")
		return
	}
	window := defaultStatsWindow
	if v := c.Query(statsWindowQueryKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "window must be a non-negative duration")
			return
		}
		window = d
	}

	resp := ThreatStatsResponse{Detector: m.threats.Stats()}
	if m.audit != nil {
		counts, err := m.audit.Summary(c.Request.Context(), window)
		switch {
		case err == nil:
			resp.Events = counts
			resp.Window = window.String()
		case errors.Is(err, services.ErrAuditDisabled):
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
			return
		}
	}
	ok(c, http.StatusOK, resp)
}

// ListEvents godoc
// @ID          listSecurityEvents
// @Summary     Security audit trail
// @Description Returns recorded security events, newest first.
// @Tags        Monitoring
// @Produce     json
//
// @Param       type    query  string  false  "Event type"  Enums(rate_limit_exceeded, request_allowed, injection_blocked, guard_error)
// @Param       offset  query  int     false  "Offset"      minimum(0) default(0)
// @Param       limit   query  int     false  "Page size"   minimum(1) maximum(500) default(50)
//
// @Success     200  {object}  services.EventPage
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown event type"
// @Failure     503  {object}  handlers.ErrorResponse  "Audit disabled"
// @Router      /monitoring/events [get]
func (m *Monitor) ListEvents(c *gin.Context) {
	if m.audit == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeAuditDisabled, services.ErrAuditDisabled.Error())
		return
	}
	offset, limit := utils.ParsePage(c.Query("offset"), c.Query("limit"), defaultEventLimit, maxEventLimit)

	page, err := m.audit.List(c.Request.Context(), c.Query("type"), offset, limit)
	switch {
	case err == nil:
		ok(c, http.StatusOK, page)
	case errors.Is(err, services.ErrAuditDisabled):
		fail(c, http.StatusServiceUnavailable, ErrCodeAuditDisabled, err.Error())
	case errors.Is(err, services.ErrInvalidEventType):
		fail(c, http.StatusBadRequest, ErrCodeInvalidEventType, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

func storeFailure(c *gin.Context, err error) {
	if errors.Is(err, ratelimit.ErrStoreUnavailable) {
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "counter store unavailable")
		return
	}
	fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
}
