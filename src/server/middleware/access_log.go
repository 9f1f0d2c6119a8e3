package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AccessLogger logs every HTTP request to the access stream
func AccessLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		}
		event.
			Str("request_id", GetRequestID(c)).
			Str("ip", c.ClientIP()).
			Str("user", c.GetString(UsernameContextKey)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("proto", c.Request.Proto).
			Int("status", status).
			Int("size", c.Writer.Size()).
			Dur("latency", duration).
			Str("referer", c.Request.Referer()).
			Str("user_agent", c.Request.UserAgent()).
			Msg("request")

		if duration > time.Second {
			logger.Warn().Str("path", c.Request.URL.Path).Dur("latency", duration).Msg("slow request")
		}
	}
}
