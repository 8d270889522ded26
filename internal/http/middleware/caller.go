package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/crm-guard/internal/ratelimit"
)

const (
	callerKey = "guard.caller"
	// userIDKey matches the key the access logger reads.
	userIDKey = "userID"

	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// SetCaller records the authenticated caller for the guard. Authentication
// middleware calls this before RequestGuard runs.
func SetCaller(c *gin.Context, caller ratelimit.CallerContext) {
	c.Set(callerKey, caller)
	if caller.UserID != "" {
		c.Set(userIDKey, caller.UserID)
	}
}

// CallerFrom returns the caller stored by SetCaller, or the zero value for
// anonymous requests.
func CallerFrom(c *gin.Context) ratelimit.CallerContext {
	if v, ok := c.Get(callerKey); ok {
		if cc, ok := v.(ratelimit.CallerContext); ok {
			return cc
		}
	}
	return ratelimit.CallerContext{}
}

// TrustedCallerHeaders populates the caller from X-User-ID and X-User-Role.
// Only mount it behind a gateway that strips these headers from client
// traffic; otherwise any client can pick its own tier.
func TrustedCallerHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if uid != "" {
			SetCaller(c, ratelimit.CallerContext{
				UserID: uid,
				Role:   strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole))),
			})
		}
		c.Next()
	}
}

// RequireRole rejects callers whose role is not in roles: 401 when no caller
// is set, 403 for the wrong role. Roles compare case-insensitively.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[strings.ToLower(r)] = struct{}{}
	}
	return func(c *gin.Context) {
		caller := CallerFrom(c)
		if caller.UserID == "" && caller.APIKey == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if _, ok := allowed[strings.ToLower(caller.Role)]; !ok {
			abortJSON(c, http.StatusForbidden, "forbidden", "insufficient role")
			return
		}
		c.Next()
	}
}

func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"message":    msg,
	})
}
