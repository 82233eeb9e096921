package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/lensfusion/internal/handlers"
)

func registerAuthRoutes(api *gin.RouterGroup, handler *handlers.AuthHandler) {
	api.GET("/auth/me", handler.Me)
	api.POST("/auth/logout", handler.Logout)
}
