package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/parkpal/internal/database/testutil"
	"github.com/charlesng35/parkpal/internal/geofence"
	"github.com/charlesng35/parkpal/internal/middleware"
	"github.com/charlesng35/parkpal/internal/realtime"
	"github.com/charlesng35/parkpal/internal/services"
)

func newSessionTestManager(t *testing.T) *geofence.Manager {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	hub := realtime.NewHub()
	reports, err := services.NewReportService(db, hub)
	require.NoError(t, err)
	prefs, err := services.NewPreferenceService(db)
	require.NoError(t, err)
	history, err := services.NewNotificationService(db, hub)
	require.NoError(t, err)
	pusher, err := realtime.NewHubPusher(hub)
	require.NoError(t, err)

	manager, err := geofence.NewManager(reports, prefs, history, pusher, geofence.ManagerConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })
	return manager
}

func TestSessionHandlerEndOutlivesCancelledRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	manager := newSessionTestManager(t)
	handler, err := NewSessionHandler(manager)
	require.NoError(t, err)

	session := geofence.Session{UserID: "user-session"}
	require.NoError(t, manager.UpdateLocation(context.Background(), session, geofence.Location{Latitude: 43.0731, Longitude: -89.4012}))
	require.Equal(t, 1, manager.ActiveSessions())

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodDelete, "/api/session", nil).WithContext(reqCtx)
	c.Set(middleware.CtxUserIDKey, session.UserID)
	handler.End(c)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Zero(t, manager.ActiveSessions())
}

func TestSessionHandlerEndWithoutSession(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler, err := NewSessionHandler(newSessionTestManager(t))
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	handler.End(c)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	c.Set(middleware.CtxUserIDKey, "user-idle")
	handler.End(c)
	require.Equal(t, http.StatusOK, recorder.Code)
}
