package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// IdentityKind distinguishes the three ways a caller can be keyed.
type IdentityKind string

const (
	KindAPIKey IdentityKind = "api_key"
	KindUser   IdentityKind = "user"
	KindIP     IdentityKind = "ip"
)

// APIKeyHeader carries long-lived API keys.
const APIKeyHeader = "X-API-Key"

// apiKeyMinLen separates API keys from short-lived session tokens in a
// Bearer header: only tokens longer than this are treated as API keys.
const apiKeyMinLen = 100

// hashLen is the number of hex characters kept from the SHA-256 digest.
const hashLen = 16

// CallerContext is populated by the authentication layer before the guard
// runs. UserID is set only for resolved, active principals.
type CallerContext struct {
	UserID string
	Role   string
	APIKey string
}

// Identity is the per-request caller key. Raw is never written to the store.
type Identity struct {
	Kind      IdentityKind
	Raw       string
	StableKey string
}

// CounterKey returns the store key for period p.
func (id Identity) CounterKey(p Period) string {
	return "rate_limit:" + id.StableKey + ":" + string(p)
}

// APIKeyIdentity keys a caller by a hash of its API key.
func APIKeyIdentity(key string) Identity {
	return Identity{Kind: KindAPIKey, Raw: key, StableKey: "api_key:" + digest(key)}
}

// UserIdentity keys a caller by its user id, unhashed.
func UserIdentity(id string) Identity {
	return Identity{Kind: KindUser, Raw: id, StableKey: "user:" + id}
}

// IPIdentity keys an anonymous caller by a hash of its address.
func IPIdentity(ip string) Identity {
	return Identity{Kind: KindIP, Raw: ip, StableKey: "ip:" + digest(ip)}
}

// Resolve derives the caller identity: API key, then authenticated user,
// then client IP.
func Resolve(r *http.Request, caller CallerContext) Identity {
	if key := ExtractAPIKey(r); key != "" {
		return APIKeyIdentity(key)
	}
	if caller.APIKey != "" {
		return APIKeyIdentity(caller.APIKey)
	}
	if caller.UserID != "" {
		return UserIdentity(caller.UserID)
	}
	return IPIdentity(ClientIP(r))
}

// ExtractAPIKey returns the API key carried by r, if any. A Bearer token
// qualifies only when it is longer than the session-token threshold.
func ExtractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if tok := strings.TrimSpace(auth[len("Bearer "):]); len(tok) > apiKeyMinLen {
			return tok
		}
	}
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

// ClientIP returns the first X-Forwarded-For entry, falling back to the host
// part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}
