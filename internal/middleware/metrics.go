package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pengadaan/api/internal/metrics"
)

// Metrics records request counts and latency per route template, so path
// parameters do not explode label cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPStarted()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPFinished(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
