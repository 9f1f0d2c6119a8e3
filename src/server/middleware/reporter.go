package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/apimgr/devrestore/src/server/service"
)

// Reporter sends rejected requests to the security log and the audit trail
type Reporter struct {
	Security zerolog.Logger
	Audit    *service.AuditLogger
}

// ActorFromContext describes the caller of the current request
func ActorFromContext(c *gin.Context) service.Actor {
	actor := service.Actor{
		Type:      "anonymous",
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if sess := CurrentSession(c); sess != nil {
		actor.Type = "admin"
		actor.ID = sess.Username
	}
	return actor
}

// Reject records a refused request
func (r Reporter) Reject(c *gin.Context, event service.EventType, reason string) {
	actor := ActorFromContext(c)
	r.Security.Warn().
		Str("event", string(event)).
		Str("request_id", GetRequestID(c)).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Str("ip", actor.IP).
		Str("user", actor.ID).
		Msg(reason)

	if err := r.Audit.LogFailure(event, service.CategorySecurity, actor, GetRequestID(c), reason,
		map[string]interface{}{"method": c.Request.Method, "path": c.Request.URL.Path}); err != nil {
		r.Security.Error().Err(err).Msg("failed to write audit event")
	}
}
