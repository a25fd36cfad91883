package dashboard

import (
	"keygate/internal/config"

	"github.com/gin-gonic/gin"
)

// SetupRoutes mounts the endpoints enabled in cfg.
func SetupRoutes(router gin.IRouter, handler *Handler, cfg config.DashboardConfig) {
	if cfg.Expose {
		path := handler.opts.Path
		router.GET(path, handler.DashboardHandler)
		router.GET(path+"/login", handler.LoginPageHandler)
		router.POST(path+"/login", handler.LoginHandler)
		router.GET(path+"/logout", handler.LogoutHandler)
	}
	if cfg.ExposeStats {
		router.GET(cfg.StatsPath, handler.StatsHandler)
	}
	if cfg.ExposeStatus {
		router.GET(cfg.StatusPath, handler.StatusHandler)
	}
}
