package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/api/v1/contacts/", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFrom(c))
	})

	atLimit := strings.Repeat("r", maxRequestIDLength)
	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when absent", "", false},
		{"propagated", "crm-7f3a", true},
		{"kept at the length limit", atLimit, true},
		{"replaced when oversized", atLimit + "r", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/contacts/", nil)
			if tc.incoming != "" {
				req.Header.Set(strings.ToLower(requestIDHeader), tc.incoming)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if got != w.Body.String() {
				t.Fatalf("header %q and context %q disagree", got, w.Body.String())
			}
			if tc.keep && got != tc.incoming {
				t.Fatalf("expected %q to be kept, got %q", tc.incoming, got)
			}
			if !tc.keep && len(got) != 36 {
				t.Fatalf("expected a generated uuid, got %q", got)
			}
		})
	}
}

func TestRecovery_EnvelopeAndLog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}), Recovery())
	r.POST("/api/v1/contacts/", func(c *gin.Context) { panic("nil owner") })

	req := httptest.NewRequest(http.MethodPost, "/api/v1/contacts/", nil)
	req.Header.Set(requestIDHeader, "rid-panic")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	want := map[string]string{"request_id": "rid-panic", "code": "internal_error", "message": "internal server error"}
	for k, v := range want {
		if body[k] != v {
			t.Fatalf("body[%q] = %q; want %q", k, body[k], v)
		}
	}

	var sawPanic, sawAccess bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		switch m["message"] {
		case "panic recovered":
			sawPanic = m["request_id"] == "rid-panic" && m["stack"] != nil
		case "http_request":
			sawAccess = m["level"] == "error" && m["status"] == float64(500)
		}
	}
	if !sawPanic || !sawAccess {
		t.Fatalf("missing panic or access line (panic=%v access=%v):\n%s", sawPanic, sawAccess, buf.String())
	}
}

func TestRecovery_AfterWriteKeepsBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/api/v1/exports/", func(c *gin.Context) {
		c.String(http.StatusOK, "id,email\n")
		panic("writer closed")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/exports/", nil))

	if strings.Contains(w.Header().Get("Content-Type"), "application/json") || strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("no envelope expected after the body started; got CT=%q body=%q", w.Header().Get("Content-Type"), w.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("expected panic log, got:\n%s", buf.String())
	}
}

func TestLoggerFrom(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("global fallback", func(t *testing.T) {
		buf := captureLogger(t)
		r := gin.New()
		r.Use(RequestID())
		r.GET("/x", func(c *gin.Context) {
			LoggerFrom(c).Info().Msg("fallback")
			c.Status(http.StatusOK)
		})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
		if !strings.Contains(buf.String(), `"message":"fallback"`) || strings.Contains(buf.String(), `"request_id"`) {
			t.Fatalf("unexpected fallback output: %s", buf.String())
		}
	})

	t.Run("request scoped", func(t *testing.T) {
		buf := captureLogger(t)
		r := gin.New()
		r.Use(RequestID(), RedactingLogger(RedactOptions{}))
		r.GET("/x", func(c *gin.Context) {
			LoggerFrom(c).Info().Msg("scoped")
			c.Status(http.StatusOK)
		})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
		first := strings.SplitN(buf.String(), "\n", 2)[0]
		if !strings.Contains(first, `"message":"scoped"`) || !strings.Contains(first, `"request_id"`) {
			t.Fatalf("expected request_id on scoped line, got %s", first)
		}
	})
}

func TestTruncateAndAsString(t *testing.T) {
	for _, tc := range []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"abcdefgh", 5, "abcde…"},
		{"abc", 0, "abc"},
	} {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Fatalf("truncate(%q, %d) = %q; want %q", tc.in, tc.max, got, tc.want)
		}
	}
	if asString("x") != "x" || asString(42) != "" {
		t.Fatalf("asString")
	}
}
