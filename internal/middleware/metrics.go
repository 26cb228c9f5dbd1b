package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/content-scheduler/content-scheduler/internal/telemetry"
)

// noRoute is the path label for requests that matched no route (404/405), so
// unknown URLs do not inflate label cardinality.
const noRoute = "<no-route>"

// MetricsMiddleware records request count, latency and in-flight requests.
// The path label is the matched route template (e.g. /api/v1/scheduled_posts/:id),
// never the raw URL, so post IDs do not become label values.
//
// Register it after gin.Recovery() and RequestIDMiddleware so statuses written
// by recovery are captured.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		telemetry.HTTPRequestsInFlight.Inc()
		defer telemetry.HTTPRequestsInFlight.Dec()

		c.Next()

		path := routeLabel(c)
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

func routeLabel(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return noRoute
}
