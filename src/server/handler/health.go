package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startedAt = time.Now()

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	health := gin.H{
		"status":              "OK",
		"version":             h.Version,
		"uptime":              time.Since(startedAt).Round(time.Second).String(),
		"session_store":       "ok",
		"restore_in_progress": h.Restore.Guard.Busy(),
	}

	if err := h.Sessions.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		health["status"] = "Degraded"
		health["session_store"] = err.Error()
	}

	c.JSON(status, health)
}
