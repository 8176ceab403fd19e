// README: Prometheus request counters for the dev store routes.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridesync/internal/observability"
)

// Metrics records count and latency per route. Labels use the route
// template, not the raw path.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		observability.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		observability.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
