package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/parkpal/internal/geofence"
	"github.com/charlesng35/parkpal/internal/services"
	"github.com/charlesng35/parkpal/pkg/response"
)

// PositionLookup resolves the live position of a signed-in user.
type PositionLookup interface {
	Location(userID string) (geofence.Location, bool)
}

// ReportHandler exposes the parking report endpoints.
type ReportHandler struct {
	service   *services.ReportService
	positions PositionLookup
}

// NewReportHandler constructs a report handler.
func NewReportHandler(service *services.ReportService, positions PositionLookup) (*ReportHandler, error) {
	if service == nil {
		return nil, errors.New("report handler: service is required")
	}
	if positions == nil {
		return nil, errors.New("report handler: position lookup is required")
	}
	return &ReportHandler{service: service, positions: positions}, nil
}

type createReportRequest struct {
	IsAvailable *bool    `json:"is_available" validate:"required"`
	Latitude    *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude   *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

type updateReportRequest struct {
	IsAvailable *bool `json:"is_available" validate:"required"`
}

// List returns every report that has not expired.
func (h *ReportHandler) List(c *gin.Context) {
	reports, err := h.service.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, reports, &response.Meta{Count: len(reports)})
}

// Create places a report at the supplied coordinates, or at the caller's live
// position when none are given.
func (h *ReportHandler) Create(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}

	var req createReportRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input := services.SubmitReportInput{
		ReporterID:  session.UserID,
		IsAvailable: *req.IsAvailable,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	}
	if loc, ok := h.positions.Location(session.UserID); ok {
		input.Position = &loc
	}

	report, err := h.service.Submit(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, report)
}

// Update marks a report open or taken.
func (h *ReportHandler) Update(c *gin.Context) {
	if _, ok := currentSession(c); !ok {
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	var req updateReportRequest
	if !bindAndValidate(c, &req) {
		return
	}

	report, err := h.service.SetAvailability(requestContext(c), id, *req.IsAvailable)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// Delete removes a report the caller is allowed to remove.
func (h *ReportHandler) Delete(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if err := h.service.Remove(requestContext(c), session.UserID, id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// Analytics returns the caller's report counters.
func (h *ReportHandler) Analytics(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}

	counters, err := h.service.AnalyticsCounters(requestContext(c), session.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, counters)
}
