package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/parkpal/pkg/logger"
)

const (
	defaultExpirySpec    = "@every 5m"
	defaultIdleReapSpec  = "@every 1m"
	defaultRateStoreSpec = "@every 10m"
	defaultIdleTimeout   = 30 * time.Minute
)

// ReportSweeper deletes reports past the retention window.
type ReportSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionReaper stops geofence sessions that stopped sending positions.
type SessionReaper interface {
	ReapIdle(ctx context.Context, maxIdle time.Duration, now time.Time) (int, error)
}

// RatePruner drops stale rate limit windows.
type RatePruner interface {
	Prune(ctx context.Context) error
}

// Cleaner coordinates background maintenance: sweeping expired reports so they
// disappear even when nobody is online, stopping idle sessions and pruning
// rate limit state.
type Cleaner struct {
	reports     ReportSweeper
	sessions    SessionReaper
	rates       RatePruner
	cron        *cron.Cron
	now         func() time.Time
	log         *zap.Logger
	enabled     bool
	idleTimeout time.Duration

	expirySchedule    string
	idleReapSchedule  string
	rateStoreSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithIdleTimeout sets how long a session may go without a position update.
func WithIdleTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.idleTimeout = d
		}
	}
}

// WithRatePruner enables pruning of rate limit state.
func WithRatePruner(p RatePruner) Option {
	return func(cleaner *Cleaner) {
		cleaner.rates = p
	}
}

// WithExpirySchedule overrides the cron specification for the report sweep.
func WithExpirySchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.expirySchedule = spec
		}
	}
}

// WithIdleReapSchedule overrides the cron specification for idle session reaping.
func WithIdleReapSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.idleReapSchedule = spec
		}
	}
}

// WithRateStoreSchedule overrides the cron specification for rate store pruning.
func WithRateStoreSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.rateStoreSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding cleanup job being skipped.
func NewCleaner(reports ReportSweeper, sessions SessionReaper, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		reports:           reports,
		sessions:          sessions,
		now:               time.Now,
		idleTimeout:       defaultIdleTimeout,
		expirySchedule:    defaultExpirySpec,
		idleReapSchedule:  defaultIdleReapSpec,
		rateStoreSchedule: defaultRateStoreSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.reports != nil || cleaner.sessions != nil || cleaner.rates != nil

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.reports != nil {
		if _, err := c.cron.AddFunc(c.expirySchedule, func() {
			if err := c.sweepReports(context.Background()); err != nil {
				c.log.Warn("report expiry sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.idleReapSchedule, func() {
			if err := c.reapSessions(context.Background()); err != nil {
				c.log.Warn("idle session reap failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.rates != nil {
		if _, err := c.cron.AddFunc(c.rateStoreSchedule, func() {
			if err := c.rates.Prune(context.Background()); err != nil {
				c.log.Warn("rate store prune failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.reports != nil {
		errs = multierr.Append(errs, c.sweepReports(ctx))
	}

	if c.sessions != nil {
		errs = multierr.Append(errs, c.reapSessions(ctx))
	}

	if c.rates != nil {
		errs = multierr.Append(errs, c.rates.Prune(ctx))
	}

	return errs
}

func (c *Cleaner) sweepReports(ctx context.Context) error {
	deleted, err := c.reports.DeleteExpired(ctx, c.now())
	if deleted > 0 {
		c.log.Info("expired reports deleted", zap.Int64("count", deleted))
	}
	return err
}

func (c *Cleaner) reapSessions(ctx context.Context) error {
	stopped, err := c.sessions.ReapIdle(ctx, c.idleTimeout, c.now())
	if stopped > 0 {
		c.log.Info("idle sessions stopped", zap.Int("count", stopped))
	}
	return err
}
