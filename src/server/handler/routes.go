package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/devrestore/src/server/middleware"
	models "github.com/apimgr/devrestore/src/server/model"
)

// Register mounts the pages and the API on r. Session loading, request IDs
// and logging are expected to be installed on r already.
func (h *Handler) Register(r gin.IRouter, rep middleware.Reporter) error {
	cfg := h.Config
	min, err := models.ParsePrivilege(cfg.Restore.MinPrivilege)
	if err != nil {
		return err
	}
	if min == models.PrivilegeNone {
		return fmt.Errorf("restore.min_privilege must be at least guest")
	}

	loginLimit := middleware.RateLimit(cfg.RateLimit.LoginRequests, cfg.RateLimit.LoginWindow)
	restoreLimit := middleware.RateLimit(cfg.RateLimit.RestoreRequests, cfg.RateLimit.RestoreWindow)
	requireCSRF := h.CSRF.RequireCSRF(cfg.Paths.Login)
	requireRestore := middleware.RequirePrivilege(min, cfg.Paths.Login, rep)

	r.GET("/healthz", h.HealthCheck)

	r.GET(cfg.Paths.Login, h.LoginPage)
	r.POST(cfg.Paths.Login, loginLimit, h.Login)
	r.POST("/logout", middleware.RequirePrivilege(models.PrivilegeGuest, cfg.Paths.Login, rep), requireCSRF, h.Logout)

	r.GET(cfg.Paths.Restore, requireRestore, h.RestorePage)
	r.POST(cfg.Paths.Restore, restoreLimit, requireRestore, requireCSRF, h.RestoreSubmit)
	r.GET(cfg.Paths.Confirm, requireRestore, h.RebootedPage)

	gh, err := h.NewGraphQL()
	if err != nil {
		return fmt.Errorf("failed to build GraphQL schema: %w", err)
	}
	api := r.Group("/api", middleware.SecurityHeadersAPI(), requireRestore)
	api.GET("/graphql", GraphQLHandler(gh))
	// POST queries are read-only but still carry the session cookie
	api.POST("/graphql", requireCSRF, GraphQLHandler(gh))

	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, cfg.Paths.Restore)
	})
	return nil
}
