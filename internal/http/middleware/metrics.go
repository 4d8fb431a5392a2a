package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/shifu-backend/internal/observability"
)

const unmatchedRoute = "unmatched"

// Metrics records per-route request counts, latency and in-flight requests. Routes
// are labelled by their pattern so bids do not explode cardinality. A long SSE run
// counts as in flight until its stream closes.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		m.APIInflight(1)
		defer m.APIInflight(-1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		m.ObserveAPI(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
