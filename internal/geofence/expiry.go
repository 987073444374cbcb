package geofence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/parkpal/internal/models"
	"github.com/charlesng35/parkpal/pkg/logger"
	"github.com/charlesng35/parkpal/pkg/metrics"
)

// RetentionWindow is how long a timestamped report stays visible.
const RetentionWindow = 2 * time.Hour

// IsExpired reports whether report is older than window at now. Reports without
// a timestamp never expire.
func IsExpired(report models.ParkingReport, now time.Time, window time.Duration) bool {
	if report.Timestamp == nil {
		return false
	}
	return now.Sub(time.UnixMilli(*report.Timestamp)) > window
}

// ExpiryFilter drops expired reports from snapshots and asks the store to delete
// them. Each expired id is requested once for as long as it keeps showing up.
type ExpiryFilter struct {
	deleter ReportDeleter
	window  time.Duration
	now     func() time.Time
	log     *zap.Logger

	mu        sync.Mutex
	requested map[string]struct{}
}

// ExpiryOption customises an ExpiryFilter.
type ExpiryOption func(*ExpiryFilter)

// WithExpiryClock overrides the clock used by Apply.
func WithExpiryClock(now func() time.Time) ExpiryOption {
	return func(f *ExpiryFilter) {
		if now != nil {
			f.now = now
		}
	}
}

// WithRetentionWindow overrides RetentionWindow.
func WithRetentionWindow(window time.Duration) ExpiryOption {
	return func(f *ExpiryFilter) {
		if window > 0 {
			f.window = window
		}
	}
}

// NewExpiryFilter builds a filter deleting through deleter. A nil deleter only filters.
func NewExpiryFilter(deleter ReportDeleter, opts ...ExpiryOption) *ExpiryFilter {
	f := &ExpiryFilter{
		deleter:   deleter,
		window:    RetentionWindow,
		now:       time.Now,
		log:       logger.WithModule("geofence.expiry"),
		requested: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Partition splits reports into fresh and expired at now. Input order is kept.
func (f *ExpiryFilter) Partition(reports []models.ParkingReport, now time.Time) (fresh, expired []models.ParkingReport) {
	fresh = make([]models.ParkingReport, 0, len(reports))
	for _, report := range reports {
		if IsExpired(report, now, f.window) {
			expired = append(expired, report)
			continue
		}
		fresh = append(fresh, report)
	}
	return fresh, expired
}

// Apply returns the fresh reports and requests deletion of expired ones that were
// not requested before. Deletion failures are returned but never hide fresh reports.
func (f *ExpiryFilter) Apply(ctx context.Context, reports []models.ParkingReport) ([]models.ParkingReport, error) {
	fresh, expired := f.Partition(reports, f.now())

	f.mu.Lock()
	defer f.mu.Unlock()

	f.forgetVanished(reports)

	if f.deleter == nil {
		return fresh, nil
	}

	var errs error
	for _, report := range expired {
		if report.ID == "" {
			continue
		}
		if _, ok := f.requested[report.ID]; ok {
			continue
		}
		if err := f.deleter.DeleteReport(ctx, report.ID); err != nil {
			f.log.Warn("failed to delete expired report", zap.String("report_id", report.ID), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("delete expired report %s: %w", report.ID, err))
			continue
		}
		f.requested[report.ID] = struct{}{}
		metrics.ReportsExpired.Inc()
		f.log.Debug("expired report deletion requested", zap.String("report_id", report.ID))
	}

	return fresh, errs
}

// forgetVanished drops remembered ids that are absent from the snapshot.
func (f *ExpiryFilter) forgetVanished(reports []models.ParkingReport) {
	if len(f.requested) == 0 {
		return
	}
	present := make(map[string]struct{}, len(reports))
	for _, report := range reports {
		present[report.ID] = struct{}{}
	}
	for id := range f.requested {
		if _, ok := present[id]; !ok {
			delete(f.requested, id)
		}
	}
}
