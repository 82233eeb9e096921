package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/lensfusion/internal/handlers"
)

func registerSessionRoutes(api *gin.RouterGroup, handler *handlers.SessionHandler, monitor *handlers.SessionMonitorHandler) {
	sessions := api.Group("/sessions")
	{
		sessions.POST("", handler.Create)
		sessions.GET("", handler.List)
		sessions.GET("/terminations", handler.Terminations)
		sessions.GET("/monitor", monitor.Serve)
		sessions.POST("/terminate_all", handler.TerminateAll)
		sessions.DELETE("/:id", handler.Delete)
	}
}
