package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/parkpal/internal/api"
	"github.com/charlesng35/parkpal/internal/app"
	"github.com/charlesng35/parkpal/internal/app/maintenance"
	iauth "github.com/charlesng35/parkpal/internal/auth"
	"github.com/charlesng35/parkpal/internal/cache"
	"github.com/charlesng35/parkpal/internal/database"
	"github.com/charlesng35/parkpal/internal/geofence"
	"github.com/charlesng35/parkpal/internal/middleware"
	"github.com/charlesng35/parkpal/internal/realtime"
	"github.com/charlesng35/parkpal/internal/services"
	"github.com/charlesng35/parkpal/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB            *gorm.DB
	Hub           *realtime.Hub
	Reports       *services.ReportService
	Preferences   *services.PreferenceService
	Notifications *services.NotificationService
	Manager       *geofence.Manager
	Cleaner       *maintenance.Cleaner
	RateStore     middleware.RateStore
	Router        *gin.Engine

	stopPolling context.CancelFunc
}

// bootstrapRuntime initialises the database, services, geofence sessions and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false
	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Hub = realtime.NewHub()

	reportOpts := []services.ReportServiceOption{}
	if cfg.Geofence.MaxReportDistance > 0 {
		reportOpts = append(reportOpts, services.WithMaxReportDistance(cfg.Geofence.MaxReportDistance))
	}
	if cfg.Geofence.RetentionWindow > 0 {
		reportOpts = append(reportOpts, services.WithReportRetention(cfg.Geofence.RetentionWindow))
	}
	stack.Reports, err = services.NewReportService(stack.DB, stack.Hub, reportOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise report service: %w", err)
	}

	stack.Preferences, err = services.NewPreferenceService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise preference service: %w", err)
	}

	stack.Notifications, err = services.NewNotificationService(stack.DB, stack.Hub)
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	pusher, err := realtime.NewHubPusher(stack.Hub)
	if err != nil {
		return nil, fmt.Errorf("initialise push delivery: %w", err)
	}

	stack.Manager, err = geofence.NewManager(stack.Reports, stack.Preferences, stack.Notifications, pusher, cfg.Geofence.ManagerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise geofence manager: %w", err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	stack.stopPolling = cancel
	go stack.Reports.Poll(pollCtx, cfg.Geofence.PollInterval)

	stack.RateStore, err = newRateStore(cfg.RateLimit, stack.DB)
	if err != nil {
		return nil, err
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.Reports, stack.Manager,
			maintenance.WithIdleTimeout(cfg.Geofence.IdleTimeout),
			maintenance.WithRatePruner(stack.RateStore),
			maintenance.WithExpirySchedule(cfg.Maintenance.ExpirySpec),
			maintenance.WithIdleReapSchedule(cfg.Maintenance.IdleReapSpec),
			maintenance.WithRateStoreSchedule(cfg.Maintenance.RateStoreSpec),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:            stack.DB,
		JWT:           jwtSvc,
		Config:        cfg,
		Hub:           stack.Hub,
		Reports:       stack.Reports,
		Preferences:   stack.Preferences,
		Notifications: stack.Notifications,
		Manager:       stack.Manager,
		RateStore:     stack.RateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs, ends every geofence session and
// releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
	}

	if s.stopPolling != nil {
		s.stopPolling()
	}

	if s.Manager != nil {
		if err := s.Manager.Shutdown(ctx); err != nil {
			log.Warn("geofence shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("prepare database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if err := database.Close(db); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}

func newRateStore(cfg app.RateLimitConfig, db *gorm.DB) (middleware.RateStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", "memory":
		return middleware.NewMemoryRateStore(), nil
	case "database", "db":
		return middleware.NewDatabaseRateStore(cache.NewDatabaseStore(db)), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit store %q", cfg.Store)
	}
}
