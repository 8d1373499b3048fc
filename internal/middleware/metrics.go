package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPRecorder observes inbound request latency per route.
type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
}

// RequestMetrics records one latency observation per request, keyed by the
// matched route template so path parameters don't explode the label space.
func RequestMetrics(recorder HTTPRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		recorder.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
