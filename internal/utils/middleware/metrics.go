package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kohakuhub/server/internal/shared/metrics"
)

// Metrics returns a middleware that records request counts and latency.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			// NoRoute-dispatched paths (git, resolve) have no gin route; use a
			// stable label instead of the raw path to bound cardinality.
			route = "dynamic"
		}

		m.HTTPRequests.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).
			Observe(time.Since(start).Seconds())
	}
}
