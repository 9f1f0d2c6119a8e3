package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/httprate"
)

// RateLimit limits requests per client IP to limit per window. A zero limit
// disables the middleware.
func RateLimit(limit int, window time.Duration) gin.HandlerFunc {
	if limit <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := httprate.NewRateLimiter(limit, window)

	return func(c *gin.Context) {
		key := c.ClientIP()
		if limiter.OnLimit(c.Writer, c.Request, key) {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.String(http.StatusTooManyRequests, "Too many requests. Please try again later.")
			c.Abort()
			return
		}
		c.Next()
	}
}
