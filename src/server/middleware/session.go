package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	models "github.com/apimgr/devrestore/src/server/model"
	"github.com/apimgr/devrestore/src/server/store"
)

const (
	// SessionContextKey holds the *models.Session of the request, if any
	SessionContextKey = "session"
	// UsernameContextKey holds the session username for the access log
	UsernameContextKey = "username"
)

// CookieConfig describes the session cookie
type CookieConfig struct {
	Name string
	// always, never, auto
	Secure string
}

// secure reports whether the cookie gets the Secure attribute for this request
func (cc CookieConfig) secure(c *gin.Context) bool {
	switch cc.Secure {
	case "always", "true":
		return true
	case "never", "false":
		return false
	default:
		return c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
	}
}

// LoadSession looks up the session named by the cookie and stores it on the
// context. Unknown or expired sessions clear the cookie and continue anonymously.
func LoadSession(st store.SessionStore, cookie CookieConfig, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(cookie.Name)
		if err != nil || id == "" {
			c.Next()
			return
		}

		sess, err := st.Get(c.Request.Context(), id)
		switch {
		case err == nil:
			c.Set(SessionContextKey, sess)
			c.Set(UsernameContextKey, sess.Username)
		case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionExpired):
			ClearSessionCookie(c, cookie)
		default:
			logger.Error().Err(err).Str("request_id", GetRequestID(c)).Msg("session lookup failed")
		}

		c.Next()
	}
}

// CurrentSession returns the session loaded for this request, or nil
func CurrentSession(c *gin.Context) *models.Session {
	if v, ok := c.Get(SessionContextKey); ok {
		if sess, ok := v.(*models.Session); ok {
			return sess
		}
	}
	return nil
}

// SetSessionCookie issues the session cookie
func SetSessionCookie(c *gin.Context, cookie CookieConfig, sess *models.Session) {
	maxAge := int(sess.ExpiresAt.Sub(sess.CreatedAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookie.Name, sess.ID, maxAge, "/", "", cookie.secure(c), true)
}

// ClearSessionCookie expires the session cookie
func ClearSessionCookie(c *gin.Context, cookie CookieConfig) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookie.Name, "", -1, "/", "", cookie.secure(c), true)
}
