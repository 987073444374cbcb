package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/parkpal/internal/handlers"
)

func registerReportRoutes(api *gin.RouterGroup, handler *handlers.ReportHandler, limiter gin.HandlerFunc) {
	group := api.Group("/reports")
	{
		group.GET("", handler.List)
		group.POST("", limiter, handler.Create)
		group.PATCH("/:id", handler.Update)
		group.DELETE("/:id", handler.Delete)
	}
	api.GET("/analytics", handler.Analytics)
}
