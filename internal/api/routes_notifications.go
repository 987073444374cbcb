package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/parkpal/internal/handlers"
)

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.DELETE("/:id", handler.Delete)
	}
}
