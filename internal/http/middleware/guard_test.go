package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/crm-guard/internal/domain"
	"github.com/tbourn/crm-guard/internal/ratelimit"
	"github.com/tbourn/crm-guard/internal/services"
	"github.com/tbourn/crm-guard/internal/threat"
)

type recordingSink struct {
	mu     sync.Mutex
	events []services.Event
}

func (s *recordingSink) Emit(_ context.Context, ev services.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) ofType(t string) []services.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []services.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (uint64, error) { return 0, errors.New("dial tcp: refused") }
func (failingStore) Incr(context.Context, string, time.Duration) (uint64, error) {
	return 0, errors.New("dial tcp: refused")
}
func (failingStore) TTL(context.Context, string) (time.Duration, error) { return 0, nil }
func (failingStore) Delete(context.Context, ...string) error          { return nil }

type panickingStore struct{ failingStore }

func (panickingStore) Get(context.Context, string) (uint64, error) { panic("store exploded") }

var fixedNow = time.Unix(1_760_000_000, 0)

type guardHarness struct {
	engine *gin.Engine
	store  *ratelimit.MemoryStore
	sink   *recordingSink
}

func newGuardHarness(t *testing.T, store ratelimit.Store, mutate func(*GuardOptions)) *guardHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem, _ := store.(*ratelimit.MemoryStore)
	lim, err := ratelimit.New(store, ratelimit.Config{ExemptPaths: []string{"/health/", "/api/v1/monitoring/"}})
	require.NoError(t, err)
	det, err := threat.New(threat.Options{})
	require.NoError(t, err)
	sink := &recordingSink{}

	opts := GuardOptions{Limiter: lim, Detector: det, Events: sink, Now: func() time.Time { return fixedNow }}
	if mutate != nil {
		mutate(&opts)
	}

	r := gin.New()
	r.Use(RequestID(), TrustedCallerHeaders(), RequestGuard(opts))
	echo := func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.Data(http.StatusOK, "text/plain", body)
	}
	r.GET("/api/v1/contacts/", echo)
	r.POST("/api/v1/contacts/", echo)
	r.POST("/api/v1/auth/login/", echo)
	r.GET("/health/", echo)
	return &guardHarness{engine: r, store: mem, sink: sink}
}

func (h *guardHarness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func anonGet(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.7:5555"
	return req
}

func jsonPost(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.8:5555"
	return req
}

func TestRequestGuard_AnonymousMinuteLimit(t *testing.T) {
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), nil)

	for i := 0; i < 20; i++ {
		w := h.do(anonGet("/api/v1/contacts/"))
		require.Equalf(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := h.do(anonGet("/api/v1/contacts/"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "20", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(fixedNow.Unix()+60, 10), w.Header().Get("X-RateLimit-Reset"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.Equal(t, "Too many requests. Please try again later.", body["message"])
	assert.EqualValues(t, 60, body["retry_after"])
	key, _ := body["rate_limit_key"].(string)
	want := ratelimit.IPIdentity("203.0.113.7").StableKey[:8] + "..."
	assert.Equal(t, want, key)
	assert.Len(t, body, 4)

	limited := h.sink.ofType(domain.EventRateLimitExceeded)
	require.Len(t, limited, 1)
	assert.Equal(t, "anonymous", limited[0].Extra["tier"])
	assert.Equal(t, "per_minute", limited[0].Extra["period"])
	assert.Equal(t, "/api/v1/contacts/", limited[0].Path)
	assert.NotEmpty(t, limited[0].RequestID)
	assert.Len(t, h.sink.ofType(domain.EventRequestAllowed), 20)

	other := anonGet("/api/v1/contacts/")
	other.RemoteAddr = "198.51.100.1:1"
	assert.Equal(t, http.StatusOK, h.do(other).Code, "other callers are unaffected")
}

func TestRequestGuard_LoginEndpointTier(t *testing.T) {
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), nil)
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, h.do(jsonPost("/api/v1/auth/login/", `{"username":"ann"}`)).Code)
	}
	w := h.do(jsonPost("/api/v1/auth/login/", `{"username":"ann"}`))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
}

func TestRequestGuard_TrustedUserHeaders(t *testing.T) {
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), nil)
	req := anonGet("/api/v1/contacts/")
	req.Header.Set(HeaderUserID, "42")
	req.Header.Set(HeaderUserRole, "Admin")
	require.Equal(t, http.StatusOK, h.do(req).Code)

	allowed := h.sink.ofType(domain.EventRequestAllowed)
	require.Len(t, allowed, 1)
	assert.Equal(t, "user:42", allowed[0].IdentityKey)
}

func TestRequestGuard_ExemptNeverCounts(t *testing.T) {
	mem := ratelimit.NewMemoryStore(time.Minute)
	h := newGuardHarness(t, mem, nil)

	for i := 0; i < 30; i++ {
		require.Equal(t, http.StatusOK, h.do(anonGet("/health/")).Code)
	}
	loop := anonGet("/api/v1/contacts/?q=" + url.QueryEscape("' OR 1=1--"))
	loop.Header.Set("X-Forwarded-For", " 127.0.0.1 ")
	assert.Equal(t, http.StatusOK, h.do(loop).Code, "loopback marker skips both checks")
	assert.Zero(t, mem.ItemCount())
	assert.Empty(t, h.sink.events)
}

func TestRequestGuard_InjectionInQuery(t *testing.T) {
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), nil)
	req := anonGet("/api/v1/contacts/?" + url.Values{"notes": {"x' OR 1=1--"}}.Encode())
	w := h.do(req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{
		"error":  "SQL injection attempt detected",
		"code":   "sql_injection_blocked",
		"detail": "SQL injection pattern detected in field 'notes'",
		"field":  "notes",
	}, body)

	blocked := h.sink.ofType(domain.EventInjectionBlocked)
	require.Len(t, blocked, 1)
	assert.Equal(t, "notes", blocked[0].Field)
	assert.Equal(t, string(threat.MethodPattern), blocked[0].Detection)
}

func TestRequestGuard_InjectionInNestedJSON(t *testing.T) {
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), nil)
	w := h.do(jsonPost("/api/v1/contacts/", `{"contact":{"tags":["ok","'; DROP TABLE users;--"]}}`))

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "contact.tags[1]", body["field"])
}

func TestRequestGuard_ScalarJSONBodyHasNullField(t *testing.T) {
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), nil)
	w := h.do(jsonPost("/api/v1/contacts/", `"1 UNION SELECT password FROM users"`))

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	v, ok := body["field"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestRequestGuard_ContextRuleOnTopLevelField(t *testing.T) {
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), nil)
	w := h.do(jsonPost("/api/v1/contacts/", `{"email":"not-an-email","last_name":"O'Brien-Selectman"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Input violates context rules for field 'email'")

	ok := h.do(jsonPost("/api/v1/contacts/", `{"email":"ann@example.com","last_name":"O'Brien-Selectman"}`))
	assert.Equal(t, http.StatusOK, ok.Code)
}

func TestRequestGuard_InjectionInHeader(t *testing.T) {
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), nil)
	req := anonGet("/api/v1/contacts/")
	req.Header.Set("User-Agent", "sqlmap' AND SLEEP(5)--")
	w := h.do(req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"User-Agent"`)
}

func TestRequestGuard_BodyRestoredForHandler(t *testing.T) {
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), nil)
	payload := `{"first_name":"Ann","notes":"call back tomorrow"}`
	w := h.do(jsonPost("/api/v1/contacts/", payload))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.String())

	bad := h.do(jsonPost("/api/v1/contacts/", `{"notes": "x' OR 1=1--"`))
	assert.Equal(t, http.StatusOK, bad.Code, "malformed JSON is left to the handler")
}

func TestRequestGuard_FormBodies(t *testing.T) {
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), nil)

	form := httptest.NewRequest(http.MethodPost, "/api/v1/contacts/",
		strings.NewReader(url.Values{"company": {"Acme"}, "notes": {"1; drop table contacts"}}.Encode()))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := h.do(form)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"notes"`)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("company", "Acme"))
	require.NoError(t, mw.WriteField("search", "x' UNION SELECT 1--"))
	fw, err := mw.CreateFormFile("attachment", "notes.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("' OR 1=1-- inside a file is not scanned"))
	require.NoError(t, mw.Close())

	mp := httptest.NewRequest(http.MethodPost, "/api/v1/contacts/", bytes.NewReader(buf.Bytes()))
	mp.Header.Set("Content-Type", mw.FormDataContentType())
	w = h.do(mp)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"search"`)
}

func TestRequestGuard_OversizedBodyPassesUnscanned(t *testing.T) {
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), func(o *GuardOptions) { o.ScanBytes = 16 })
	payload := `{"notes":"x' OR 1=1-- and then a lot more text"}`
	w := h.do(jsonPost("/api/v1/contacts/", payload))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.String(), "body is restored intact")
}

func TestRequestGuard_FailOpenOnStoreError(t *testing.T) {
	base := testutil.ToFloat64(guardStoreErrors)
	h := newGuardHarness(t, failingStore{}, nil)

	w := h.do(anonGet("/api/v1/contacts/"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, base+1, testutil.ToFloat64(guardStoreErrors))

	errs := h.sink.ofType(domain.EventGuardError)
	require.Len(t, errs, 1)
	assert.Equal(t, "rate_limit", errs[0].Extra["stage"])
	assert.Contains(t, errs[0].Extra["error"], "refused")

	// Threat detection still runs when the store is down.
	blocked := h.do(anonGet("/api/v1/contacts/?q=" + url.QueryEscape("1 UNION SELECT 1")))
	assert.Equal(t, http.StatusBadRequest, blocked.Code)
}

func TestRequestGuard_FailOpenOnPanic(t *testing.T) {
	h := newGuardHarness(t, panickingStore{}, nil)
	w := h.do(anonGet("/api/v1/contacts/"))
	assert.Equal(t, http.StatusOK, w.Code)
	errs := h.sink.ofType(domain.EventGuardError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Extra["error"], "panicked")
}

func TestRequestGuard_Burst(t *testing.T) {
	burst := ratelimit.NewBurstLimiter(0.001, 2)
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), func(o *GuardOptions) { o.Burst = burst })

	require.Equal(t, http.StatusOK, h.do(anonGet("/api/v1/contacts/")).Code)
	require.Equal(t, http.StatusOK, h.do(anonGet("/api/v1/contacts/")).Code)
	w := h.do(anonGet("/api/v1/contacts/"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.NotEqual(t, "0", w.Header().Get("Retry-After"))

	limited := h.sink.ofType(domain.EventRateLimitExceeded)
	require.Len(t, limited, 1)
	assert.Equal(t, "burst", limited[0].Extra["period"])
}

func TestRequestGuard_DisabledHalves(t *testing.T) {
	h := newGuardHarness(t, ratelimit.NewMemoryStore(time.Minute), func(o *GuardOptions) {
		o.Detector = nil
	})
	w := h.do(anonGet("/api/v1/contacts/?q=" + url.QueryEscape("1 UNION SELECT 1")))
	assert.Equal(t, http.StatusOK, w.Code, "no detector, no scanning")

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestGuard(GuardOptions{}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "ip:01234...", keyPrefix("ip:0123456789abcdef"))
	assert.Equal(t, "user:1...", keyPrefix("user:1"))
}
