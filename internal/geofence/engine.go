package geofence

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/parkpal/internal/models"
	"github.com/charlesng35/parkpal/pkg/geo"
	"github.com/charlesng35/parkpal/pkg/logger"
	"github.com/charlesng35/parkpal/pkg/metrics"
)

// DefaultMinMoveMeters is how far a device has to move before a new position
// triggers an evaluation.
const DefaultMinMoveMeters = 10.0

// DefaultPreferences apply until the preference store delivers real values.
var DefaultPreferences = Preferences{Radius: 0.3, NotificationsEnabled: true}

// Engine evaluates one user session. Triggers only record the latest input and
// wake the worker goroutine, which runs one evaluation cycle at a time; triggers
// arriving during a cycle collapse into a single follow-up cycle.
type Engine struct {
	session  Session
	tracker  *Tracker
	expiry   *ExpiryFilter
	notifier *Notifier
	log      *zap.Logger

	mu           sync.Mutex
	location     *Location
	snapshot     Snapshot
	hasSnapshot  bool
	prefs        Preferences
	lastActivity time.Time
	closed       bool
	releases     []func()

	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce     sync.Once
	evaluated     func(Delta)
	minMoveMeters float64
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithInitialPreferences sets the preferences used before the first update.
func WithInitialPreferences(prefs Preferences) EngineOption {
	return func(e *Engine) {
		e.prefs = prefs
	}
}

// WithSeedMembership starts the tracker with ids already considered inside the
// radius, typically the reports a previous session left history records for.
func WithSeedMembership(ids []string) EngineOption {
	return func(e *Engine) {
		e.tracker.Seed(ids)
	}
}

// WithMinMove ignores position updates closer than meters to the last accepted
// position. They still count as session activity.
func WithMinMove(meters float64) EngineOption {
	return func(e *Engine) {
		if meters > 0 {
			e.minMoveMeters = meters
		}
	}
}

// WithEvaluationHook registers fn to run after every evaluation cycle with the
// delta it produced.
func WithEvaluationHook(fn func(Delta)) EngineOption {
	return func(e *Engine) {
		e.evaluated = fn
	}
}

// NewEngine starts the worker goroutine of session. Callers must Close the engine.
func NewEngine(session Session, expiry *ExpiryFilter, notifier *Notifier, opts ...EngineOption) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		session:      session,
		tracker:      NewTracker(),
		expiry:       expiry,
		notifier:     notifier,
		log:          logger.WithUser("geofence.engine", session.UserID),
		prefs:        DefaultPreferences,
		lastActivity: time.Now(),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.run()
	return e
}

// Session returns the session the engine evaluates.
func (e *Engine) Session() Session {
	return e.session
}

// UpdateLocation records the latest device position. Moves shorter than the
// configured minimum keep the previous position and do not wake the worker.
func (e *Engine) UpdateLocation(loc Location) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.lastActivity = time.Now()
	if e.location != nil && e.minMoveMeters > 0 &&
		geo.MilesToMeters(geo.DistanceBetween(*e.location, loc)) < e.minMoveMeters {
		e.mu.Unlock()
		return
	}
	e.location = &loc
	e.mu.Unlock()
	e.trigger()
}

// UpdateReports records a report snapshot. Snapshots older than the newest one
// already accepted are discarded.
func (e *Engine) UpdateReports(snapshot Snapshot) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.hasSnapshot && snapshot.Seq < e.snapshot.Seq {
		e.mu.Unlock()
		e.log.Debug("discarding superseded report snapshot",
			zap.Uint64("seq", snapshot.Seq),
			zap.Uint64("current_seq", e.snapshot.Seq),
		)
		return
	}
	e.snapshot = snapshot
	e.hasSnapshot = true
	e.mu.Unlock()
	e.trigger()
}

// UpdatePreferences records new notification preferences.
func (e *Engine) UpdatePreferences(prefs Preferences) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.prefs = prefs
	e.mu.Unlock()
	e.trigger()
}

// Location returns the last known position.
func (e *Engine) Location() (Location, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.location == nil {
		return Location{}, false
	}
	return *e.location, true
}

// Membership returns the report ids currently inside the radius.
func (e *Engine) Membership() []string {
	return e.tracker.Membership()
}

// LastActivity returns when the session last reported a position.
func (e *Engine) LastActivity() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActivity
}

// Bind attaches a release function, typically a store unsubscribe, that runs on Close.
func (e *Engine) Bind(release func()) {
	if release == nil {
		return
	}
	e.mu.Lock()
	if !e.closed {
		e.releases = append(e.releases, release)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	release()
}

// Close releases subscriptions and stops the worker. An in-flight cycle is
// allowed to finish until ctx is done, after which its side effects are
// cancelled. No push is requested after Close returns.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		releases := e.releases
		e.releases = nil
		e.mu.Unlock()

		for _, release := range releases {
			release()
		}

		close(e.stop)
		select {
		case <-e.done:
		case <-ctx.Done():
			e.cancel()
			<-e.done
			err = fmt.Errorf("geofence: close session %s: %w", e.session.UserID, ctx.Err())
		}
		e.cancel()
		e.tracker.Reset()
	})
	return err
}

func (e *Engine) trigger() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case <-e.wake:
			select {
			case <-e.stop:
				return
			default:
			}
			e.evaluate()
		}
	}
}

func (e *Engine) evaluate() {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.GeofenceEvaluations.WithLabelValues("error").Inc()
			e.log.Error("geofence evaluation panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	e.mu.Lock()
	var loc *Location
	if e.location != nil {
		current := *e.location
		loc = &current
	}
	reports := e.snapshot.Reports
	prefs := e.prefs
	e.mu.Unlock()

	fresh, err := e.filter(reports)
	if err != nil {
		e.log.Warn("expiry filter reported errors", zap.Error(err))
	}

	delta := e.tracker.Evaluate(loc, fresh, prefs.Radius, prefs.NotificationsEnabled)

	result := "ok"
	if delta.Empty() {
		result = "skipped"
	} else if e.notifier != nil {
		if err := e.notifier.Apply(e.ctx, e.session, delta); err != nil {
			result = "error"
			e.log.Error("failed to apply membership delta",
				zap.Strings("entered", delta.Entered),
				zap.Strings("left", delta.Left),
				zap.Error(err),
			)
		}
	}

	metrics.GeofenceEvaluations.WithLabelValues(result).Inc()
	metrics.EvaluationLatency.Observe(time.Since(start).Seconds())

	if e.evaluated != nil {
		e.evaluated(delta)
	}
}

func (e *Engine) filter(reports []models.ParkingReport) ([]models.ParkingReport, error) {
	if e.expiry == nil {
		return reports, nil
	}
	return e.expiry.Apply(e.ctx, reports)
}
