package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_Precedence(t *testing.T) {
	longKey := strings.Repeat("k", 101)

	cases := []struct {
		name    string
		headers map[string]string
		caller  CallerContext
		kind    IdentityKind
		raw     string
	}{
		{"long bearer is api key", map[string]string{"Authorization": "Bearer " + longKey}, CallerContext{UserID: "9"}, KindAPIKey, longKey},
		{"x-api-key header", map[string]string{"X-API-Key": "abc"}, CallerContext{UserID: "9"}, KindAPIKey, "abc"},
		{"short bearer is a session", map[string]string{"Authorization": "Bearer " + strings.Repeat("s", 100)}, CallerContext{UserID: "9"}, KindUser, "9"},
		{"caller api key", nil, CallerContext{APIKey: "from-auth"}, KindAPIKey, "from-auth"},
		{"user", nil, CallerContext{UserID: "9", Role: "admin"}, KindUser, "9"},
		{"xff first entry", map[string]string{"X-Forwarded-For": " 203.0.113.5 , 10.0.0.1"}, CallerContext{}, KindIP, "203.0.113.5"},
		{"remote addr", nil, CallerContext{}, KindIP, "192.0.2.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = "192.0.2.1:4321"
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			id := Resolve(r, tc.caller)
			assert.Equal(t, tc.kind, id.Kind)
			assert.Equal(t, tc.raw, id.Raw)
		})
	}
}

func TestIdentity_StableKeys(t *testing.T) {
	ip := IPIdentity("203.0.113.5")
	assert.True(t, strings.HasPrefix(ip.StableKey, "ip:"))
	assert.Len(t, strings.TrimPrefix(ip.StableKey, "ip:"), 16)
	assert.NotContains(t, ip.StableKey, "203.0.113.5")
	assert.Equal(t, ip, IPIdentity("203.0.113.5"), "hashing is deterministic")

	key := APIKeyIdentity("secret-key")
	assert.True(t, strings.HasPrefix(key.StableKey, "api_key:"))
	assert.Len(t, strings.TrimPrefix(key.StableKey, "api_key:"), 16)
	assert.NotContains(t, key.StableKey, "secret")

	assert.Equal(t, "user:42", UserIdentity("42").StableKey)
	assert.Equal(t, "rate_limit:user:42:per_hour", UserIdentity("42").CounterKey(PerHour))
}

func TestClientIP_RemoteAddrWithoutPort(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "2001:db8::1"
	assert.Equal(t, "2001:db8::1", ClientIP(r))

	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientIP(r))
}
