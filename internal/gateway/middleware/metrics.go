package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nullstack-gw/nexusgate/internal/metrics"
)

// Metrics tracks per-route request counters and latency histograms, and
// the number of requests currently in flight. Grounded on the teacher's
// middleware.Metrics, dropping its server_label dimension since this
// gateway exposes one unified surface rather than the teacher's
// multi-server setup.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.HTTPInFlight.Inc()
		c.Next()
		metrics.HTTPInFlight.Dec()

		durSec := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		sc := metrics.StatusClass(c.Writer.Status())

		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, sc).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, sc).Observe(durSec)
	}
}
