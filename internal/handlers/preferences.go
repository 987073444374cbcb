package handlers

import (
	stdErrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/parkpal/internal/services"
	"github.com/charlesng35/parkpal/pkg/response"
)

// PreferenceHandler exposes the notification preference endpoints.
type PreferenceHandler struct {
	service *services.PreferenceService
}

// NewPreferenceHandler constructs a preference handler.
func NewPreferenceHandler(service *services.PreferenceService) (*PreferenceHandler, error) {
	if service == nil {
		return nil, stdErrors.New("preference handler: service is required")
	}
	if err := registerValidators(); err != nil {
		return nil, err
	}
	return &PreferenceHandler{service: service}, nil
}

type updatePreferencesRequest struct {
	Radius               *float64 `json:"radius" validate:"omitempty,radius_preset"`
	NotificationsEnabled *bool    `json:"notifications_enabled"`
}

// Get returns the caller's preferences, falling back to the defaults.
func (h *PreferenceHandler) Get(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}

	prefs, err := h.service.Get(requestContext(c), session.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, prefs)
}

// Update changes the radius and/or the notification switch. Running sessions
// pick the change up immediately.
func (h *PreferenceHandler) Update(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}

	var req updatePreferencesRequest
	if !bindAndValidate(c, &req) {
		return
	}

	prefs, err := h.service.Update(requestContext(c), session.UserID, services.UpdatePreferencesInput{
		Radius:               req.Radius,
		NotificationsEnabled: req.NotificationsEnabled,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, prefs)
}
