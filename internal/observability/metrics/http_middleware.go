package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware times each request and feeds the HTTP latency histogram,
// labeled by method, route template and status.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// Unmatched requests have no route template; fall back to the raw
		// path so 404 traffic stays visible.
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
