package geofence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/charlesng35/parkpal/pkg/logger"
	"github.com/charlesng35/parkpal/pkg/metrics"
)

// ErrManagerClosed is returned when a session is started after Shutdown.
var ErrManagerClosed = errors.New("geofence: manager is shut down")

// ReportFeed is what the manager needs from the report store.
type ReportFeed interface {
	ReportSource
	ReportDeleter
}

// ManagerConfig carries the tuning knobs shared by every session.
type ManagerConfig struct {
	RetentionWindow time.Duration
	PushConcurrency int
	Retry           RetryOptions
	// MinMoveMeters filters position jitter; zero evaluates every update.
	MinMoveMeters float64
}

// Manager owns one Engine per active user session. Engines share only the
// expiry filter, so an expired report is requested for deletion once no matter
// how many sessions see it.
type Manager struct {
	reports ReportFeed
	prefs   PreferenceStore
	history HistoryStore
	pusher  Pusher
	expiry  *ExpiryFilter
	cfg     ManagerConfig
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Engine
	closed   bool
}

// NewManager wires the collaborators used by every session.
func NewManager(reports ReportFeed, prefs PreferenceStore, history HistoryStore, pusher Pusher, cfg ManagerConfig) (*Manager, error) {
	if reports == nil {
		return nil, errors.New("geofence: report store is required")
	}
	if prefs == nil {
		return nil, errors.New("geofence: preference store is required")
	}
	if history == nil {
		return nil, errors.New("geofence: history store is required")
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = RetentionWindow
	}
	if cfg.Retry == (RetryOptions{}) {
		cfg.Retry = DefaultRetryOptions()
	}
	return &Manager{
		reports:  reports,
		prefs:    prefs,
		history:  history,
		pusher:   pusher,
		expiry:   NewExpiryFilter(reports, WithRetentionWindow(cfg.RetentionWindow)),
		cfg:      cfg,
		log:      logger.WithModule("geofence.manager"),
		sessions: make(map[string]*Engine),
	}, nil
}

// Start returns the engine of session, creating and subscribing it on first use.
func (m *Manager) Start(ctx context.Context, session Session) (*Engine, error) {
	if session.UserID == "" {
		return nil, errors.New("geofence: session user id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if engine, ok := m.sessions[session.UserID]; ok {
		return engine, nil
	}

	notifier, err := NewNotifier(m.history, m.pusher,
		WithRetryOptions(m.cfg.Retry),
		WithPushConcurrency(m.cfg.PushConcurrency),
	)
	if err != nil {
		return nil, err
	}
	engine := NewEngine(session, m.expiry, notifier,
		WithSeedMembership(m.recordedMembership(ctx, session.UserID)),
		WithMinMove(m.cfg.MinMoveMeters),
	)

	unsubscribePrefs, err := m.prefs.SubscribePreferences(ctx, session.UserID, engine.UpdatePreferences)
	if err != nil {
		_ = engine.Close(ctx)
		return nil, fmt.Errorf("geofence: subscribe preferences: %w", err)
	}
	engine.Bind(unsubscribePrefs)

	unsubscribeReports, err := m.reports.SubscribeReports(ctx, engine.UpdateReports)
	if err != nil {
		_ = engine.Close(ctx)
		return nil, fmt.Errorf("geofence: subscribe reports: %w", err)
	}
	engine.Bind(unsubscribeReports)

	m.sessions[session.UserID] = engine
	metrics.ActiveSessions.Inc()
	m.log.Info("geofence session started", zap.String("user_id", session.UserID))
	return engine, nil
}

// UpdateLocation feeds a position into the session, starting it if needed.
func (m *Manager) UpdateLocation(ctx context.Context, session Session, loc Location) error {
	if !loc.Valid() {
		return fmt.Errorf("geofence: invalid location %.6f,%.6f", loc.Latitude, loc.Longitude)
	}
	engine, err := m.Start(ctx, session)
	if err != nil {
		return err
	}
	engine.UpdateLocation(loc)
	return nil
}

// Location returns the last known position of userID's active session.
func (m *Manager) Location(userID string) (Location, bool) {
	engine := m.engine(userID)
	if engine == nil {
		return Location{}, false
	}
	return engine.Location()
}

// Membership returns the report ids inside userID's radius, or nil without a session.
func (m *Manager) Membership(userID string) []string {
	engine := m.engine(userID)
	if engine == nil {
		return nil
	}
	return engine.Membership()
}

// ActiveSessions returns the number of running sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stop ends userID's session. Stopping an unknown session is a no-op.
func (m *Manager) Stop(ctx context.Context, userID string) error {
	m.mu.Lock()
	engine, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	metrics.ActiveSessions.Dec()
	m.log.Info("geofence session stopped", zap.String("user_id", userID))
	return engine.Close(ctx)
}

// ReapIdle stops sessions without a position update for longer than maxIdle and
// returns how many were stopped.
func (m *Manager) ReapIdle(ctx context.Context, maxIdle time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	var idle []string
	for userID, engine := range m.sessions {
		if now.Sub(engine.LastActivity()) > maxIdle {
			idle = append(idle, userID)
		}
	}
	m.mu.Unlock()

	var errs error
	for _, userID := range idle {
		errs = multierr.Append(errs, m.Stop(ctx, userID))
	}
	return len(idle), errs
}

// Shutdown stops every session and rejects new ones.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	engines := m.sessions
	m.sessions = make(map[string]*Engine)
	m.mu.Unlock()

	var g errgroup.Group
	for _, engine := range engines {
		g.Go(func() error {
			metrics.ActiveSessions.Dec()
			return engine.Close(ctx)
		})
	}
	return g.Wait()
}

// recordedMembership lists the reports userID still holds history records for.
// Records survive a session, so a new session starts from them and retracts
// the ones no longer in range on its first evaluation.
func (m *Manager) recordedMembership(ctx context.Context, userID string) []string {
	index, err := m.history.IndexByReport(ctx, userID)
	if err != nil {
		m.log.Warn("failed to load notification history for session",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil
	}
	ids := make([]string, 0, len(index))
	for reportID := range index {
		ids = append(ids, reportID)
	}
	return ids
}

func (m *Manager) engine(userID string) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID]
}
