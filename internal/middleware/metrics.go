package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-sync-api/internal/service"
)

const unmatchedRoute = "unmatched"

// Metrics records request latency per route template and, for view routes,
// how the payload was served. Requests that match no route share one label.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
		if meta, ok := SyncMetaFromContext(c); ok {
			metricsSvc.ObserveViewResponse(route, meta)
		}
	}
}
