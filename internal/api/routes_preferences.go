package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/parkpal/internal/handlers"
)

func registerPreferenceRoutes(api *gin.RouterGroup, handler *handlers.PreferenceHandler) {
	api.GET("/preferences", handler.Get)
	api.PUT("/preferences", handler.Update)
}
