package handlers

import (
	"context"
	stdErrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/parkpal/internal/geofence"
	"github.com/charlesng35/parkpal/pkg/errors"
	"github.com/charlesng35/parkpal/pkg/response"
)

// sessionStopTimeout bounds how long ending a session waits for in-flight
// history writes and pushes.
const sessionStopTimeout = 10 * time.Second

var errSessionsUnavailable = errors.New("SESSIONS_UNAVAILABLE", "Location sessions are not accepted right now", http.StatusServiceUnavailable)

// SessionHandler feeds live positions into the caller's geofence session.
type SessionHandler struct {
	manager     *geofence.Manager
	stopTimeout time.Duration
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(manager *geofence.Manager) (*SessionHandler, error) {
	if manager == nil {
		return nil, stdErrors.New("session handler: manager is required")
	}
	return &SessionHandler{manager: manager, stopTimeout: sessionStopTimeout}, nil
}

type updateLocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

// SessionStatus describes the caller's geofence session.
type SessionStatus struct {
	Active     bool               `json:"active"`
	Location   *geofence.Location `json:"location,omitempty"`
	Membership []string           `json:"membership"`
}

// UpdateLocation starts the caller's session if needed and records a new position.
func (h *SessionHandler) UpdateLocation(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}

	var req updateLocationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	loc := geofence.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := h.manager.UpdateLocation(requestContext(c), session, loc); err != nil {
		if stdErrors.Is(err, geofence.ErrManagerClosed) {
			response.Error(c, errSessionsUnavailable)
			return
		}
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusAccepted, h.status(session.UserID))
}

// Get reports whether the caller has a running session and what it tracks.
func (h *SessionHandler) Get(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, h.status(session.UserID))
}

// End stops the caller's session. Ending a session that is not running succeeds.
// The stop outlives the request so a client hanging up does not cut off the
// last cycle's side effects.
func (h *SessionHandler) End(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(requestContext(c)), h.stopTimeout)
	defer cancel()
	if err := h.manager.Stop(ctx, session.UserID); err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, SessionStatus{Membership: []string{}})
}

func (h *SessionHandler) status(userID string) SessionStatus {
	status := SessionStatus{Membership: []string{}}
	if loc, ok := h.manager.Location(userID); ok {
		status.Active = true
		status.Location = &loc
	}
	if ids := h.manager.Membership(userID); ids != nil {
		status.Membership = ids
	}
	return status
}
