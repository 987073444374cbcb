package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/parkpal/internal/app"
	iauth "github.com/charlesng35/parkpal/internal/auth"
	"github.com/charlesng35/parkpal/internal/geofence"
	"github.com/charlesng35/parkpal/internal/handlers"
	"github.com/charlesng35/parkpal/internal/middleware"
	"github.com/charlesng35/parkpal/internal/realtime"
	"github.com/charlesng35/parkpal/internal/services"
)

// Dependencies are the long-lived collaborators served by the HTTP API.
type Dependencies struct {
	DB            *gorm.DB
	JWT           *iauth.JWTService
	Config        *app.Config
	Hub           *realtime.Hub
	Reports       *services.ReportService
	Preferences   *services.PreferenceService
	Notifications *services.NotificationService
	Manager       *geofence.Manager
	RateStore     middleware.RateStore
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Config == nil:
		return fmt.Errorf("config must be provided")
	case d.Hub == nil:
		return fmt.Errorf("realtime hub must be provided")
	case d.Reports == nil || d.Preferences == nil || d.Notifications == nil:
		return fmt.Errorf("report, preference and notification services must be provided")
	case d.Manager == nil:
		return fmt.Errorf("geofence manager must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	registerHealthRoutes(r, cfg, deps.DB)

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	limiter := writeLimiter(cfg, deps.RateStore)

	sessionHandler, err := handlers.NewSessionHandler(deps.Manager)
	if err != nil {
		return nil, err
	}
	registerSessionRoutes(api, sessionHandler, limiter)

	reportHandler, err := handlers.NewReportHandler(deps.Reports, deps.Manager)
	if err != nil {
		return nil, err
	}
	registerReportRoutes(api, reportHandler, limiter)

	preferenceHandler, err := handlers.NewPreferenceHandler(deps.Preferences)
	if err != nil {
		return nil, err
	}
	registerPreferenceRoutes(api, preferenceHandler)

	notificationHandler, err := handlers.NewNotificationHandler(deps.Notifications)
	if err != nil {
		return nil, err
	}
	registerNotificationRoutes(api, notificationHandler)

	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, cfg.Realtime.AllowedStreams()...)
	registerRealtimeRoutes(api, realtimeHandler)

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

// writeLimiter returns the rate limit applied to write endpoints, or a
// pass-through handler when rate limiting is disabled.
func writeLimiter(cfg *app.Config, store middleware.RateStore) gin.HandlerFunc {
	if !cfg.RateLimit.Enabled || store == nil || cfg.RateLimit.Requests <= 0 || cfg.RateLimit.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RateLimit(store, cfg.RateLimit.Requests, cfg.RateLimit.Window)
}
