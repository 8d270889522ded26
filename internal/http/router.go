// Package httpapi wires the HTTP transport (Gin) to the request guard,
// shared middleware and route handlers.
//
// Middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers (so 429/400 answers carry them too)
//  8. Caller resolution (trusted gateway headers, when enabled)
//  9. RequestGuard: rate limits, then injection scan
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/crm-guard/internal/config"
	"github.com/tbourn/crm-guard/internal/docs"
	"github.com/tbourn/crm-guard/internal/http/handlers"
	"github.com/tbourn/crm-guard/internal/http/middleware"
	"github.com/tbourn/crm-guard/internal/ratelimit"
	"github.com/tbourn/crm-guard/internal/services"
	"github.com/tbourn/crm-guard/internal/threat"
)

// Deps are the guard collaborators built by the caller. Nil Limiter or
// Detector disables that half of the guard; nil Audit disables the events
// endpoint.
type Deps struct {
	Limiter  *ratelimit.Limiter
	Detector *threat.Detector
	Burst    *ratelimit.BurstLimiter
	Events   services.EventSink
	Audit    *services.AuditService
}

var corsAllowHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization",
	ratelimit.APIKeyHeader, middleware.HeaderUserID, middleware.HeaderUserRole,
}

// RegisterRoutes attaches all middleware and endpoints to r.
func RegisterRoutes(r *gin.Engine, cfg config.Config, deps Deps) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	if cfg.MaxBodyBytes > 0 {
		r.Use(limitBody(cfg.MaxBodyBytes))
	}

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (allow all if none configured) and security headers
	useCORS(r, cfg.CORS.AllowedOrigins)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	// 8) Caller identity from the gateway
	if cfg.Guard.TrustUserHeaders {
		r.Use(middleware.TrustedCallerHeaders())
	}

	// Liveness/health, registered ahead of the guard so probes are never
	// counted or scanned
	health := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
	r.GET("/health", health)
	r.GET("/health/", health)

	// 9) Request guard
	if cfg.Guard.Enabled {
		r.Use(middleware.RequestGuard(middleware.GuardOptions{
			Limiter:   deps.Limiter,
			Detector:  deps.Detector,
			Events:    deps.Events,
			Burst:     deps.Burst,
			ScanBytes: cfg.MaxBodyBytes,
		}))
	}

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/api/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := groupWithPrefix(r, cfg.APIBasePath)

	// Monitoring: JSON only, compressed, admin callers
	mon := handlers.NewMonitor(rateLimitAdmin(deps.Limiter), threatCounter(deps.Detector), auditReader(deps.Audit))
	m := api.Group("/monitoring", gzip.Gzip(gzip.DefaultCompression), middleware.RequireRole(ratelimit.TierAdmin))
	{
		m.GET("/ratelimit/status", mon.RateLimitStatus)
		m.DELETE("/ratelimit", mon.ResetRateLimit)
		m.GET("/threats/stats", mon.ThreatStats)
		m.GET("/events", mon.ListEvents)
	}

	// Guarded CRM surface
	crm := handlers.NewCRM()
	{
		api.GET("/contacts/", crm.ListContacts)
		api.POST("/contacts/", crm.CreateContact)
		api.POST("/auth/login/", crm.Login)
		api.GET("/exports/", crm.Export)
	}
}

func useCORS(r *gin.Engine, origins []string) {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     corsAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		// Force ACAO: * even without an Origin header (health checks, 429s).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		base.AllowAllOrigins = true
		r.Use(cors.New(base))
		return
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	base.AllowOrigins = origins
	r.Use(cors.New(base))
}

// The helpers below keep typed nil pointers out of the handler interfaces.

func rateLimitAdmin(l *ratelimit.Limiter) handlers.RateLimitAdmin {
	if l == nil {
		return nil
	}
	return l
}

func threatCounter(d *threat.Detector) handlers.ThreatCounter {
	if d == nil {
		return nil
	}
	return d
}

func auditReader(a *services.AuditService) handlers.AuditReader {
	if a == nil {
		return nil
	}
	return a
}

// limitBody caps the request body at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
