// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, and request instrumentation.
//
// Middleware ordering matters and is enforced in internal/api/router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → SecurityHeaders → RateLimit → Auth → RequireRole → Handler
//
// Security headers and metrics run before auth so they cover all responses
// including rejections. Rate limiting runs before auth to block brute-force
// attacks before any DB work. Auth populates the actor in the request context;
// RequireRole reads from that context and records a suspicious audit entry
// before aborting role-gated requests.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tickhole/tickhole/internal/telemetry"
)

// MetricsMiddleware returns a Gin handler that records two Prometheus metrics for every
// request that passes through the router.
//
// Recorded metrics:
//   - http_requests_total{method, path, status}    — CounterVec
//   - http_request_duration_seconds{method, path}  — HistogramVec
//
// The path label is set from c.FullPath(), which returns the matched Gin route template
// (e.g. /api/v1/issues/:id/comments) rather than the raw URL, keeping label cardinality
// bounded by the number of registered routes. Requests that do not match any registered
// route (404/405) use the literal string "<no-route>" so unhandled paths do not inflate
// label cardinality.
//
// This middleware must be registered AFTER gin.Recovery() and RequestIDMiddleware so that
// the response status set by error handlers is captured correctly.
//
// See telemetry.HTTPRequestsTotal and telemetry.HTTPRequestDuration for example PromQL
// queries and alert rules.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Resolve the route template; fall back for 404/405 situations.
		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := fmt.Sprintf("%d", c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}
