package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/parkpal/pkg/errors"
	"github.com/charlesng35/parkpal/pkg/response"
)

var errDatabaseUnavailable = errors.New("DATABASE_UNAVAILABLE", "Database is unavailable", http.StatusServiceUnavailable)

// Health returns a simple status payload useful for readiness checks. When db
// is provided it must answer a ping.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(requestContext(c))
			}
			if err != nil {
				response.Error(c, errDatabaseUnavailable.WithInternal(err))
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
