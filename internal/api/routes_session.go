package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/parkpal/internal/handlers"
)

func registerSessionRoutes(api *gin.RouterGroup, handler *handlers.SessionHandler, limiter gin.HandlerFunc) {
	group := api.Group("/session")
	{
		group.GET("", handler.Get)
		group.POST("/location", limiter, handler.UpdateLocation)
		group.DELETE("", handler.End)
	}
}
