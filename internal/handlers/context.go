package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/parkpal/internal/geofence"
	"github.com/charlesng35/parkpal/internal/middleware"
	"github.com/charlesng35/parkpal/pkg/errors"
	"github.com/charlesng35/parkpal/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentSession returns the caller's session. When the auth middleware did not
// run an unauthorized response is written and false is returned.
func currentSession(c *gin.Context) (geofence.Session, bool) {
	userID := strings.TrimSpace(c.GetString(middleware.CtxUserIDKey))
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return geofence.Session{}, false
	}
	return geofence.Session{UserID: userID}, true
}
