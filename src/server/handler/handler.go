// Package handler serves the operator pages of the device administration server
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/devrestore/src/config"
	"github.com/apimgr/devrestore/src/server/middleware"
	models "github.com/apimgr/devrestore/src/server/model"
	"github.com/apimgr/devrestore/src/server/restore"
	"github.com/apimgr/devrestore/src/server/service"
	"github.com/apimgr/devrestore/src/server/store"
	"github.com/apimgr/devrestore/src/utils"
)

// DeviceController is the part of the device the pages talk to
type DeviceController interface {
	Mode(ctx context.Context) string
	ScheduleReboot() bool
}

// OperationLister lists recent restore operations
type OperationLister interface {
	Recent(ctx context.Context, limit int) ([]*models.OperationRecord, error)
}

// Handler serves login, restore and reboot confirmation pages
type Handler struct {
	Config   *config.Config
	Sessions store.SessionStore
	Admins   *models.AdminModel
	History  OperationLister
	Restore  *restore.Service
	Device   DeviceController
	CSRF     middleware.CSRF
	Audit    *service.AuditLogger
	Logger   *utils.Logger
	Version  string
}

// Cookie returns the session cookie settings
func (h *Handler) Cookie() middleware.CookieConfig {
	return middleware.CookieConfig{Name: h.Config.Session.CookieName, Secure: h.Config.Session.SecureCookie}
}

// page builds the template data shared by every page
func (h *Handler) page(sess *models.Session, name string, extra gin.H) gin.H {
	data := gin.H{
		"Title":     h.Config.Server.Title,
		"Page":      name,
		"Username":  "",
		"CSRFToken": "",
	}
	if sess != nil {
		data["Username"] = sess.Username
		data["CSRFToken"] = sess.CSRFToken
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

func (h *Handler) caller(c *gin.Context) restore.Caller {
	return restore.Caller{Actor: middleware.ActorFromContext(c), RequestID: middleware.GetRequestID(c)}
}

// serverError logs err and answers with a plain 500
func (h *Handler) serverError(c *gin.Context, msg string, err error) {
	h.Logger.Server.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg(msg)
	c.String(http.StatusInternalServerError, "Internal server error")
}
