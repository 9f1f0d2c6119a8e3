package middleware

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/devrestore/src/server/metrics"
	models "github.com/apimgr/devrestore/src/server/model"
	"github.com/apimgr/devrestore/src/server/service"
)

// ResolvePrivilege derives the caller's privilege from its session.
// Missing, expired or malformed sessions resolve to PrivilegeNone.
func ResolvePrivilege(sess *models.Session) models.PrivilegeLevel {
	if sess == nil || sess.Expired(time.Now()) || !sess.Privilege.Valid() {
		return models.PrivilegeNone
	}
	return sess.Privilege
}

// RequirePrivilege sends callers below min to the login page. GET requests
// keep their target in ?next=, anything else is discarded.
func RequirePrivilege(min models.PrivilegeLevel, loginPath string, rep Reporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ResolvePrivilege(CurrentSession(c)).AtLeast(min) {
			c.Next()
			return
		}

		// An anonymous visitor is routine; a logged-in operator without the level is not
		if CurrentSession(c) != nil {
			rep.Reject(c, service.EventSecurityUnauthorized, "insufficient privilege for "+min.String()+" action")
		}
		metrics.AuthorizationRejections.WithLabelValues(c.FullPath()).Inc()

		RedirectToLogin(c, loginPath)
	}
}

// RedirectToLogin aborts the request with a redirect to loginPath
func RedirectToLogin(c *gin.Context, loginPath string) {
	if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
		target := loginPath + "?next=" + url.QueryEscape(c.Request.URL.RequestURI())
		c.Redirect(http.StatusFound, target)
	} else {
		c.Redirect(http.StatusSeeOther, loginPath)
	}
	c.Abort()
}
