package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/devrestore/src/server/metrics"
	models "github.com/apimgr/devrestore/src/server/model"
	"github.com/apimgr/devrestore/src/server/service"
)

// CSRFFieldName is the form field carrying the anti-forgery token
const CSRFFieldName = "csrf_token"

// CSRFHeaderName may carry the token for non-form clients
const CSRFHeaderName = "X-CSRF-Token"

// CSRF validates the per-session anti-forgery token. The token is created
// with the session and is not rotated by validation.
type CSRF struct {
	TokenLength int
	Reporter    Reporter
}

// CurrentToken returns the session's token, creating one if the session has
// none. generated tells the caller the session must be saved.
func (v CSRF) CurrentToken(sess *models.Session) (token string, generated bool, err error) {
	if sess.CSRFToken != "" {
		return sess.CSRFToken, false, nil
	}
	token, err = models.GenerateSecureToken(v.TokenLength)
	if err != nil {
		return "", false, err
	}
	sess.CSRFToken = token
	return token, true, nil
}

// Validate compares the presented token with the session's in constant time.
// An empty token on either side never validates.
func (v CSRF) Validate(sess *models.Session, presented string) bool {
	if sess == nil || sess.CSRFToken == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sess.CSRFToken), []byte(presented)) == 1
}

// RequireCSRF rejects state-changing requests whose token does not match the
// session. The submission is discarded and the client goes to loginPath.
func (v CSRF) RequireCSRF(loginPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		presented := c.PostForm(CSRFFieldName)
		if presented == "" {
			presented = c.GetHeader(CSRFHeaderName)
		}

		if v.Validate(CurrentSession(c), presented) {
			c.Next()
			return
		}

		reason := "anti-forgery token mismatch"
		if presented == "" {
			reason = "anti-forgery token missing"
		}
		v.Reporter.Reject(c, service.EventSecurityCSRFDetected, reason)
		metrics.CSRFRejections.Inc()

		c.Redirect(http.StatusSeeOther, loginPath)
		c.Abort()
	}
}
