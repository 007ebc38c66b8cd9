package middleware

import (
	"time"

	"gateway/internal/metrics"

	"github.com/gin-gonic/gin"
)

// Metrics records count, latency and in-flight requests per route.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		m.RequestStarted()
		c.Next()
		m.RequestFinished(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
