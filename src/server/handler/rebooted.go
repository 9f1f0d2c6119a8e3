package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/devrestore/src/server/middleware"
	"github.com/apimgr/devrestore/src/server/service"
)

// RebootedPage handles GET on the confirmation path. It shows only after a
// real restore: the pending operation is consumed, the reboot scheduled, and
// a second visit goes back to the restore page.
func (h *Handler) RebootedPage(c *gin.Context) {
	ctx := c.Request.Context()
	sess := middleware.CurrentSession(c)
	if !sess.RebootPending() {
		c.Redirect(http.StatusFound, h.Config.Paths.Restore)
		return
	}

	pending := sess.ConsumePending()
	if err := h.Sessions.Save(ctx, sess); err != nil {
		h.serverError(c, "failed to clear pending operation", err)
		return
	}

	scheduled := h.Device.ScheduleReboot()
	h.Logger.Server.Warn().Str("operation_id", pending.ID).Str("kind", pending.Kind).
		Bool("reboot_scheduled", scheduled).Msg("reboot confirmed")
	h.Audit.Log(service.AuditEvent{
		RequestID: middleware.GetRequestID(c),
		Event:     service.EventSystemRebootRequested,
		Category:  service.CategorySystem,
		Actor:     middleware.ActorFromContext(c),
		Target:    &service.Target{Type: "operation", ID: pending.ID},
		Details:   map[string]interface{}{"kind": pending.Kind, "scheduled": scheduled},
		Result:    "success",
	})

	c.HTML(http.StatusOK, "rebooted.tmpl", h.page(sess, "System Rebooting", gin.H{
		"Action":          pending.Kind,
		"OperationID":     pending.ID,
		"RebootScheduled": scheduled,
	}))
}
