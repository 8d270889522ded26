// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides RequestGuard, which rate limits each caller over fixed
// minute/hour/day windows and rejects requests carrying SQL injection
// payloads. Every request gets exactly one outcome: 429, 400 or
// pass-through.
//
//   - Exempt requests (health, monitoring, static, loopback marker) skip
//     both checks and are counted only in guard_decisions_total.
//   - The optional burst limiter runs first, then the windowed limiter for
//     the caller's tier, then the scan of query parameters, body fields and
//     the User-Agent, Referer, X-Forwarded-For and X-Real-IP headers.
//   - A 429 carries Retry-After and X-RateLimit-* headers; a 400 names the
//     offending field and a detail line chosen by the detection method. Both
//     emit a security event and a span event (guard.rate_limited,
//     guard.threat_blocked).
//
// Design notes:
//   - Failures inside either check, including panics, become guard_error
//     events and the request continues.
//   - Only JSON, urlencoded and multipart bodies are buffered. A body above
//     ScanBytes is a guard_error and passes through unscanned; buffered
//     bodies are restored so handlers can still bind them.
//   - Mount after RequestID, the logger and TrustedCallerHeaders so events
//     carry the request ID and the caller's role.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/crm-guard/internal/domain"
	"github.com/tbourn/crm-guard/internal/ratelimit"
	"github.com/tbourn/crm-guard/internal/services"
	"github.com/tbourn/crm-guard/internal/threat"
)

// DefaultScanBytes caps how much of a request body is buffered for scanning.
const DefaultScanBytes int64 = 1 << 20

// identityKey is the Gin context key holding the caller's stable key.
const identityKey = "guard.identity"

// scannedHeaders are inspected without a field context.
var scannedHeaders = []string{"User-Agent", "Referer", "X-Forwarded-For", "X-Real-IP"}

// GuardOptions wires RequestGuard. A nil Limiter or Detector disables that
// half of the guard.
type GuardOptions struct {
	Limiter  *ratelimit.Limiter
	Detector *threat.Detector
	Events   services.EventSink
	// Exempt overrides Limiter.IsExempt. Exempt requests skip both checks.
	Exempt func(*http.Request) bool
	// Burst, when set, runs before the windowed limiter.
	Burst *ratelimit.BurstLimiter
	// ScanBytes caps body buffering; zero means DefaultScanBytes. Larger
	// bodies are passed through unscanned.
	ScanBytes int64
	// Now is used for X-RateLimit-Reset; nil means time.Now.
	Now func() time.Time
}

type guard struct {
	GuardOptions
}

// RequestGuard returns the combined rate-limit and injection middleware.
func RequestGuard(opts GuardOptions) gin.HandlerFunc {
	if opts.Events == nil {
		opts.Events = services.Discard
	}
	if opts.Exempt == nil {
		if opts.Limiter != nil {
			opts.Exempt = opts.Limiter.IsExempt
		} else {
			opts.Exempt = func(*http.Request) bool { return false }
		}
	}
	if opts.ScanBytes <= 0 {
		opts.ScanBytes = DefaultScanBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	g := &guard{GuardOptions: opts}
	return g.handle
}

func (g *guard) handle(c *gin.Context) {
	r := c.Request
	if g.Exempt(r) {
		observeDecision(outcomeExempt)
		c.Next()
		return
	}

	caller := CallerFrom(c)
	id := ratelimit.Resolve(r, caller)
	c.Set(identityKey, id.StableKey)

	if g.Burst != nil {
		if ok, wait := g.Burst.Allow(id.StableKey); !ok {
			observeDecision(outcomeBurstLimited)
			g.rateLimited(c, id, "burst", "burst", uint64(g.Burst.Size()), wait)
			return
		}
	}

	if g.Limiter != nil {
		tier := g.Limiter.TierFor(r.URL.Path, id, caller)
		d, err := g.check(r.Context(), id, tier)
		switch {
		case err != nil:
			g.guardError(c, id, "rate_limit", err)
		case !d.Allowed:
			observeDecision(outcomeRateLimited)
			g.rateLimited(c, id, d.Tier.Name, string(d.Period), d.Limit, d.RetryAfter)
			return
		}
	}

	if g.Detector != nil {
		f, err := g.scan(c)
		switch {
		case err != nil:
			g.guardError(c, id, "threat_scan", err)
		case f != nil:
			observeDecision(outcomeThreatBlocked)
			observeThreat(f.Method)
			g.threatBlocked(c, id, f)
			return
		}
	}

	observeDecision(outcomeAllowed)
	g.emit(c, services.Event{Type: domain.EventRequestAllowed, IdentityKey: id.StableKey})
	c.Next()
}

// check runs the limiter and converts a panic into an error.
func (g *guard) check(ctx context.Context, id ratelimit.Identity, tier ratelimit.Tier) (d ratelimit.Decision, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d, err = ratelimit.Decision{Allowed: true}, fmt.Errorf("rate limit check panicked: %v", rec)
		}
	}()
	d, err = g.Limiter.CheckIdentity(ctx, id, tier)
	if errors.Is(err, ratelimit.ErrStoreUnavailable) {
		observeStoreError()
	}
	return d, err
}

// scan inspects query parameters, then the body, then headers and returns
// the first finding.
func (g *guard) scan(c *gin.Context) (f *threat.Finding, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			f, err = nil, fmt.Errorf("threat scan panicked: %v", rec)
		}
	}()
	r := c.Request

	if q := r.URL.Query(); len(q) > 0 {
		if found := g.Detector.ScanBatch(q); len(found) > 0 {
			return &found[0], nil
		}
	}

	payload, err := g.readBody(r)
	if err != nil {
		LoggerFrom(c).Warn().Err(err).Msg("guard: body not scanned")
	} else if payload != nil {
		if found := g.Detector.ScanBatch(payload); len(found) > 0 {
			return &found[0], nil
		}
	}

	for _, h := range scannedHeaders {
		if v := r.Header.Get(h); v != "" {
			if f := g.Detector.Scan(v, h, threat.ContextNone); f != nil {
				return f, nil
			}
		}
	}
	return nil, nil
}

// readBody buffers at most ScanBytes of the body, restores it for the
// handler and decodes JSON, urlencoded or multipart text fields. Other
// content types and malformed JSON yield a nil payload. A body over the cap
// is restored untouched and reported as an error.
func (g *guard) readBody(r *http.Request) (any, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
	case mediaType == "application/x-www-form-urlencoded":
	case mediaType == "multipart/form-data" && params["boundary"] != "":
	default:
		return nil, nil
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, g.ScanBytes+1))
	if err != nil {
		r.Body = restored(buf, r.Body)
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(buf)) > g.ScanBytes {
		r.Body = restored(buf, r.Body)
		return nil, fmt.Errorf("body exceeds %d bytes", g.ScanBytes)
	}
	r.Body = restored(buf, nil)
	if len(buf) == 0 {
		return nil, nil
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		vals, err := url.ParseQuery(string(buf))
		if err != nil {
			return nil, nil
		}
		return vals, nil
	case "multipart/form-data":
		return multipartFields(buf, params["boundary"], g.ScanBytes), nil
	}
	var v any
	if err := json.Unmarshal(buf, &v); err != nil {
		return nil, nil
	}
	return v, nil
}

// restored rebuilds a request body from the buffered prefix and whatever
// remains unread in rest.
func restored(prefix []byte, rest io.ReadCloser) io.ReadCloser {
	if rest == nil {
		return io.NopCloser(bytes.NewReader(prefix))
	}
	return struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(prefix), rest), rest}
}

// multipartFields collects the non-file parts of a multipart body.
func multipartFields(buf []byte, boundary string, max int64) url.Values {
	vals := url.Values{}
	mr := multipart.NewReader(bytes.NewReader(buf), boundary)
	for {
		part, err := mr.NextPart()
		if err != nil {
			return vals
		}
		if part.FileName() != "" || part.FormName() == "" {
			continue
		}
		b, err := io.ReadAll(io.LimitReader(part, max))
		if err != nil {
			return vals
		}
		vals.Add(part.FormName(), string(b))
	}
}

func (g *guard) rateLimited(c *gin.Context, id ratelimit.Identity, tier, period string, limit uint64, retryAfter time.Duration) {
	secs := int64(retryAfter / time.Second)
	reset := g.Now().Add(retryAfter).Unix()

	h := c.Writer.Header()
	h.Set("Retry-After", strconv.FormatInt(secs, 10))
	h.Set("X-RateLimit-Limit", strconv.FormatUint(limit, 10))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

	trace.SpanFromContext(c.Request.Context()).AddEvent("guard.rate_limited", trace.WithAttributes(
		attribute.String("guard.tier", tier),
		attribute.String("guard.period", period),
		attribute.Int64("guard.retry_after", secs),
	))
	g.emit(c, services.Event{
		Type:        domain.EventRateLimitExceeded,
		IdentityKey: id.StableKey,
		Extra: map[string]any{
			"tier":        tier,
			"period":      period,
			"limit":       limit,
			"retry_after": secs,
		},
	})

	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":          "Rate limit exceeded",
		"message":        "Too many requests. Please try again later.",
		"retry_after":    secs,
		"rate_limit_key": keyPrefix(id.StableKey),
	})
}

func (g *guard) threatBlocked(c *gin.Context, id ratelimit.Identity, f *threat.Finding) {
	trace.SpanFromContext(c.Request.Context()).AddEvent("guard.threat_blocked", trace.WithAttributes(
		attribute.String("guard.field", f.Field),
		attribute.String("guard.method", string(f.Method)),
	))
	g.emit(c, services.Event{
		Type:        domain.EventInjectionBlocked,
		IdentityKey: id.StableKey,
		Field:       f.Field,
		Detection:   string(f.Method),
		Snippet:     f.Snippet,
	})

	var field any
	if f.Field != "" {
		field = f.Field
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":  "SQL injection attempt detected",
		"code":   "sql_injection_blocked",
		"detail": f.Message(),
		"field":  field,
	})
}

func (g *guard) guardError(c *gin.Context, id ratelimit.Identity, stage string, err error) {
	observeDecision(outcomeError)
	LoggerFrom(c).Error().Err(err).Str("stage", stage).Msg("guard check failed; allowing request")
	g.emit(c, services.Event{
		Type:        domain.EventGuardError,
		IdentityKey: id.StableKey,
		Extra:       map[string]any{"stage": stage, "error": err.Error()},
	})
}

func (g *guard) emit(c *gin.Context, ev services.Event) {
	rid, _ := c.Get(requestIDKey)
	ev.Path = c.Request.URL.Path
	ev.Method = c.Request.Method
	ev.RequestID = asString(rid)
	ev.Time = g.Now()
	if err := g.Events.Emit(c.Request.Context(), ev); err != nil {
		LoggerFrom(c).Error().Err(err).Str("event_type", ev.Type).Msg("security event not recorded")
	}
}

// IdentityFrom returns the stable key the guard resolved for this request.
func IdentityFrom(c *gin.Context) string {
	v, _ := c.Get(identityKey)
	return asString(v)
}

// keyPrefix exposes only the first 8 characters of a stable key.
func keyPrefix(k string) string {
	if len(k) > 8 {
		k = k[:8]
	}
	return k + "..."
}
