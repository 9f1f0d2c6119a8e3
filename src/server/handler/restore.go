package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/devrestore/src/server/middleware"
	models "github.com/apimgr/devrestore/src/server/model"
	"github.com/apimgr/devrestore/src/server/restore"
)

const historyOnPage = 10

// RestorePage handles GET on the restore path
func (h *Handler) RestorePage(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	if err := h.ensureToken(c.Request.Context(), sess); err != nil {
		h.serverError(c, "failed to issue anti-forgery token", err)
		return
	}
	h.renderRestore(c, http.StatusOK, sess, false)
}

// RestoreSubmit handles POST on the restore path. Privilege and anti-forgery
// checks have already passed when it runs.
func (h *Handler) RestoreSubmit(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "Bad request")
		return
	}

	action := restore.Dispatch(restore.ParseRequest(c.Request.PostForm))
	if action == restore.ActionNone {
		h.renderRestore(c, http.StatusOK, sess, false)
		return
	}

	// A dropped connection must not interrupt a half-applied restore;
	// the invoker's own timeout bounds it.
	ctx := context.WithoutCancel(c.Request.Context())

	rec, err := h.Restore.Execute(ctx, action, h.caller(c))
	switch {
	case errors.Is(err, restore.ErrBusy):
		h.renderRestore(c, http.StatusConflict, sess, true)
		return
	case err != nil:
		h.renderFailure(c, sess, action, rec, err)
		return
	}

	target := restore.OnSuccess(sess, action, rec.ID, time.Now(), h.Config.Paths.Confirm)
	if err := h.Sessions.Save(ctx, sess); err != nil {
		h.Logger.Server.Error().Err(err).Str("operation_id", rec.ID).Msg("restore completed but the session could not be updated")
		sess.Pending = nil
		h.renderFailure(c, sess, action, rec, errors.New("the restore completed but the reboot could not be scheduled; reboot the device manually"))
		return
	}

	c.Redirect(http.StatusSeeOther, target)
}

// ensureToken makes sure the session carries an anti-forgery token
func (h *Handler) ensureToken(ctx context.Context, sess *models.Session) error {
	_, generated, err := h.CSRF.CurrentToken(sess)
	if err != nil {
		return err
	}
	if generated {
		return h.Sessions.Save(ctx, sess)
	}
	return nil
}

func (h *Handler) renderRestore(c *gin.Context, status int, sess *models.Session, busy bool) {
	ctx := c.Request.Context()

	history, err := h.History.Recent(ctx, historyOnPage)
	if err != nil {
		h.Logger.Server.Warn().Err(err).Msg("failed to load operation history")
	}

	c.HTML(status, "restore.tmpl", h.page(sess, "Restore Configuration", gin.H{
		"RestorePath": h.Config.Paths.Restore,
		"DeviceMode":  h.Device.Mode(ctx),
		"Busy":        busy,
		"History":     history,
	}))
}

func (h *Handler) renderFailure(c *gin.Context, sess *models.Session, action restore.Action, rec *models.OperationRecord, err error) {
	data := gin.H{
		"RestorePath": h.Config.Paths.Restore,
		"Action":      action.String(),
		"OperationID": "",
		"Output":      "",
		"Error":       err.Error(),
	}
	if rec != nil {
		data["OperationID"] = rec.ID
		data["Output"] = rec.Output
	}
	c.HTML(http.StatusInternalServerError, "restore_failed.tmpl", h.page(sess, "Restore Failed", data))
}
