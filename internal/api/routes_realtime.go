package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/lensfusion/internal/handlers"
)

func registerRealtimeRoutes(api *gin.RouterGroup, handler *handlers.RealtimeHandler) {
	api.GET("/realtime", handler.Stream)
	api.GET("/realtime/:stream", handler.Stream)
}
