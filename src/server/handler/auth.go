package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"

	"github.com/apimgr/devrestore/src/server/metrics"
	"github.com/apimgr/devrestore/src/server/middleware"
	models "github.com/apimgr/devrestore/src/server/model"
	"github.com/apimgr/devrestore/src/server/service"
	"github.com/apimgr/devrestore/src/utils"
)

// LoginPage handles GET on the login path
func (h *Handler) LoginPage(c *gin.Context) {
	next := safeNext(c.Query("next"))
	if sess := middleware.CurrentSession(c); sess != nil && middleware.ResolvePrivilege(sess) != models.PrivilegeNone {
		c.Redirect(http.StatusFound, h.nextOrDefault(next))
		return
	}
	h.renderLogin(c, http.StatusOK, next, "", "")
}

// Login handles POST on the login path
func (h *Handler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	username := utils.NormalizeUsername(c.PostForm("username"))
	password := c.PostForm("password")
	code := strings.TrimSpace(c.PostForm("totp"))
	next := safeNext(c.PostForm("next"))
	actor := service.Actor{Type: "admin", ID: username, IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}

	admin, err := h.Admins.Authenticate(ctx, username, password)
	if err == nil && admin.HasTOTP() && !totp.Validate(code, admin.TOTPSecret) {
		err = errors.New("invalid authentication code")
	}
	if err != nil {
		if !errors.Is(err, models.ErrInvalidCredentials) && admin == nil {
			h.serverError(c, "failed to authenticate admin", err)
			return
		}
		metrics.RecordAuthAttempt("password", "failure")
		h.Logger.Security.Warn().Str("user", username).Str("ip", actor.IP).
			Str("request_id", middleware.GetRequestID(c)).Msg("failed login")
		h.Audit.LogFailure(service.EventAdminLoginFailed, service.CategoryAuthentication, actor,
			middleware.GetRequestID(c), "invalid credentials", nil)
		h.renderLogin(c, http.StatusUnauthorized, next, username, "Invalid username, password or authentication code.")
		return
	}

	// A new login always starts a new session
	if old := middleware.CurrentSession(c); old != nil {
		if err := h.Sessions.Delete(ctx, old.ID); err != nil {
			h.Logger.Server.Warn().Err(err).Msg("failed to delete previous session")
		}
	}

	sess, err := models.NewSession(admin.Username, admin.Privilege, h.Config.Session.Timeout, h.Config.Session.CSRFTokenLength)
	if err != nil {
		h.serverError(c, "failed to create session", err)
		return
	}
	sess.IPAddress = c.ClientIP()
	sess.UserAgent = c.Request.UserAgent()
	if err := h.Sessions.Create(ctx, sess); err != nil {
		h.serverError(c, "failed to store session", err)
		return
	}
	middleware.SetSessionCookie(c, h.Cookie(), sess)

	if err := h.Admins.UpdateLastLogin(ctx, admin.Username, time.Now()); err != nil {
		h.Logger.Server.Warn().Err(err).Msg("failed to update last login")
	}

	metrics.RecordAuthAttempt("password", "success")
	h.Logger.Server.Info().Str("user", admin.Username).Str("privilege", admin.Privilege.String()).
		Str("ip", actor.IP).Msg("admin logged in")
	h.Audit.LogSuccess(service.EventAdminLogin, service.CategoryAuthentication, actor,
		middleware.GetRequestID(c), map[string]interface{}{"privilege": admin.Privilege.String()})

	c.Redirect(http.StatusSeeOther, h.nextOrDefault(next))
}

// Logout handles POST /logout
func (h *Handler) Logout(c *gin.Context) {
	if sess := middleware.CurrentSession(c); sess != nil {
		if err := h.Sessions.Delete(c.Request.Context(), sess.ID); err != nil {
			h.Logger.Server.Warn().Err(err).Msg("failed to delete session")
		}
		h.Audit.LogSuccess(service.EventAdminLogout, service.CategoryAuthentication,
			middleware.ActorFromContext(c), middleware.GetRequestID(c), nil)
	}
	middleware.ClearSessionCookie(c, h.Cookie())
	c.Redirect(http.StatusSeeOther, h.Config.Paths.Login)
}

func (h *Handler) renderLogin(c *gin.Context, status int, next, username, msg string) {
	c.HTML(status, "login.tmpl", h.page(nil, "Log in", gin.H{
		"LoginPath":    h.Config.Paths.Login,
		"Next":         next,
		"FormUsername": username,
		"Error":        msg,
	}))
}

func (h *Handler) nextOrDefault(next string) string {
	if next == "" {
		return h.Config.Paths.Restore
	}
	return next
}

// safeNext accepts only same-site absolute paths as a post-login target
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return next
}
