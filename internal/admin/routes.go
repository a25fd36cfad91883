package admin

import (
	"keygate/internal/auth"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router gin.IRouter, handler *Handler, adminPassword string) {
	adminGroup := router.Group("/admin")
	adminGroup.Use(auth.AdminAuthMiddleware(adminPassword))
	{
		keysGroup := adminGroup.Group("/keys")
		{
			keysGroup.GET("", handler.ListKeysHandler)
			keysGroup.POST("", handler.CreateKeysHandler)
			keysGroup.POST("/:key/renew", handler.RenewKeyHandler)
		}

		rolesGroup := adminGroup.Group("/roles")
		{
			rolesGroup.GET("", handler.ListRolesHandler)
			rolesGroup.PUT("", handler.SyncRolesHandler)
			rolesGroup.PUT("/:name", handler.UpsertRoleHandler)
		}

		adminGroup.POST("/sessions/sweep", handler.SweepSessionsHandler)
	}
}
