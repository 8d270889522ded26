// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes the Prometheus collectors: HTTP traffic (request count,
// latency, in-flight gauge, response size) labelled by method, route and
// status, plus the guard's own counters. The route label is the registered
// Gin path so cardinality stays bounded.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/crm-guard/internal/threat"
)

// Guard outcomes used as the "outcome" label of guard_decisions_total.
const (
	outcomeAllowed       = "allowed"
	outcomeExempt        = "exempt"
	outcomeRateLimited   = "rate_limited"
	outcomeBurstLimited  = "burst_limited"
	outcomeThreatBlocked = "threat_blocked"
	outcomeError         = "error"
)

// unmatchedRoute labels requests that hit no registered route.
const unmatchedRoute = "unmatched"

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// Status is left out to keep histogram cardinality down.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes.",
			Buckets: []float64{200, 500, 1 << 10, 5 << 10, 10 << 10, 50 << 10, 100 << 10, 500 << 10, 1 << 20},
		},
		[]string{"method", "path"},
	)

	guardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_decisions_total",
			Help: "Request guard outcomes.",
		},
		[]string{"outcome"},
	)

	guardThreats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_threats_total",
			Help: "Blocked injection attempts by detection method.",
		},
		[]string{"method"},
	)

	guardStoreErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guard_store_errors_total",
			Help: "Rate limit store failures (requests were allowed).",
		},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize,
		guardDecisions, guardThreats, guardStoreErrors)

	// Pre-create series so dashboards show zeros before the first event.
	for _, o := range []string{outcomeAllowed, outcomeExempt, outcomeRateLimited, outcomeBurstLimited, outcomeThreatBlocked, outcomeError} {
		guardDecisions.WithLabelValues(o)
	}
	for _, m := range threat.Methods {
		guardThreats.WithLabelValues(string(m))
	}
}

func observeDecision(outcome string) { guardDecisions.WithLabelValues(outcome).Inc() }

func observeThreat(m threat.Method) { guardThreats.WithLabelValues(string(m)).Inc() }

func observeStoreError() { guardStoreErrors.Inc() }

// Metrics instruments every request. Mount /metrics with promhttp.Handler().
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// Size is -1 for hijacked connections.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
