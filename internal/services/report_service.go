package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/parkpal/internal/geofence"
	"github.com/charlesng35/parkpal/internal/models"
	"github.com/charlesng35/parkpal/internal/realtime"
	apperrors "github.com/charlesng35/parkpal/pkg/errors"
	"github.com/charlesng35/parkpal/pkg/geo"
	"github.com/charlesng35/parkpal/pkg/logger"
	"github.com/charlesng35/parkpal/pkg/metrics"
)

// DefaultMaxReportDistance is how far, in miles, a report may be placed from the reporter.
const DefaultMaxReportDistance = 0.5

// SubmitReportInput describes a report created through the API. When Latitude
// and Longitude are omitted the report is placed at Position.
type SubmitReportInput struct {
	ReporterID  string
	IsAvailable bool
	Latitude    *float64
	Longitude   *float64
	// Position is the reporter's live location, nil when unknown.
	Position *geofence.Location
}

// ReportSnapshotPayload is broadcast on the reports realtime stream.
type ReportSnapshotPayload struct {
	Seq     uint64                 `json:"seq"`
	Reports []models.ParkingReport `json:"reports"`
}

// ReportServiceOption customises a ReportService.
type ReportServiceOption func(*ReportService)

// WithReportClock overrides the clock used for timestamps and expiry.
func WithReportClock(now func() time.Time) ReportServiceOption {
	return func(s *ReportService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxReportDistance overrides DefaultMaxReportDistance.
func WithMaxReportDistance(miles float64) ReportServiceOption {
	return func(s *ReportService) {
		if miles > 0 {
			s.maxDistance = miles
		}
	}
}

// WithReportRetention overrides geofence.RetentionWindow.
func WithReportRetention(window time.Duration) ReportServiceOption {
	return func(s *ReportService) {
		if window > 0 {
			s.retention = window
		}
	}
}

// ReportService persists parking reports and publishes full snapshots of the
// collection to subscribers after every change.
type ReportService struct {
	db          *gorm.DB
	hub         *realtime.Hub
	now         func() time.Time
	maxDistance float64
	retention   time.Duration
	log         *zap.Logger

	// publishMu orders snapshot loads so subscribers see increasing sequence numbers.
	publishMu sync.Mutex
	seq       uint64

	subMu       sync.Mutex
	subscribers map[uint64]func(geofence.Snapshot)
	nextSub     uint64
}

// NewReportService constructs a ReportService.
func NewReportService(db *gorm.DB, hub *realtime.Hub, opts ...ReportServiceOption) (*ReportService, error) {
	if db == nil {
		return nil, errors.New("report service: db is required")
	}
	s := &ReportService{
		db:          db,
		hub:         hub,
		now:         time.Now,
		maxDistance: DefaultMaxReportDistance,
		retention:   geofence.RetentionWindow,
		log:         logger.WithModule("reports"),
		subscribers: make(map[uint64]func(geofence.Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SubscribeReports implements geofence.ReportSource.
func (s *ReportService) SubscribeReports(ctx context.Context, fn func(geofence.Snapshot)) (func(), error) {
	if fn == nil {
		return nil, errors.New("report service: subscriber callback is required")
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	reports, err := s.load(ensureContext(ctx))
	if err != nil {
		return nil, err
	}

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	fn(geofence.Snapshot{Seq: s.seq, Reports: reports})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
		})
	}, nil
}

// Snapshot returns every stored report, expired ones included.
func (s *ReportService) Snapshot(ctx context.Context) ([]models.ParkingReport, error) {
	return s.load(ensureContext(ctx))
}

// List returns the reports that have not expired yet.
func (s *ReportService) List(ctx context.Context) ([]models.ParkingReport, error) {
	reports, err := s.load(ensureContext(ctx))
	if err != nil {
		return nil, err
	}
	now := s.now()
	fresh := reports[:0]
	for _, report := range reports {
		if !geofence.IsExpired(report, now, s.retention) {
			fresh = append(fresh, report)
		}
	}
	return fresh, nil
}

// Get loads a single report.
func (s *ReportService) Get(ctx context.Context, id string) (*models.ParkingReport, error) {
	ctx = ensureContext(ctx)
	id, ok := requireID(id)
	if !ok {
		return nil, apperrors.NewBadRequest("report id is required")
	}
	var report models.ParkingReport
	if err := s.db.WithContext(ctx).First(&report, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("report service: load report: %w", err)
	}
	return &report, nil
}

// CreateReport implements geofence.ReportStore. A missing timestamp is set to now.
func (s *ReportService) CreateReport(ctx context.Context, report *models.ParkingReport) (string, error) {
	ctx = ensureContext(ctx)
	if report == nil {
		return "", errors.New("report service: report is required")
	}
	if report.Latitude == nil || report.Longitude == nil {
		return "", apperrors.NewBadRequest("report coordinates are required")
	}
	if !(geo.Point{Latitude: *report.Latitude, Longitude: *report.Longitude}).Valid() {
		return "", apperrors.NewBadRequest("report coordinates are out of range")
	}
	if report.Timestamp == nil {
		ts := s.now().UnixMilli()
		report.Timestamp = &ts
	}

	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return "", fmt.Errorf("report service: create report: %w", err)
	}

	s.log.Info("parking report created",
		zap.String("report_id", report.ID),
		zap.Bool("is_available", report.IsAvailable),
	)
	s.publish(ctx)
	return report.ID, nil
}

// UpdateReport implements geofence.ReportStore.
func (s *ReportService) UpdateReport(ctx context.Context, id string, patch geofence.ReportPatch) error {
	ctx = ensureContext(ctx)
	id, ok := requireID(id)
	if !ok {
		return apperrors.NewBadRequest("report id is required")
	}
	if patch.IsAvailable == nil {
		return nil
	}

	result := s.db.WithContext(ctx).
		Model(&models.ParkingReport{}).
		Where("id = ?", id).
		Update("is_available", *patch.IsAvailable)
	if result.Error != nil {
		return fmt.Errorf("report service: update report: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}

	s.publish(ctx)
	return nil
}

// DeleteReport implements geofence.ReportDeleter. Unknown ids are ignored.
func (s *ReportService) DeleteReport(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	id, ok := requireID(id)
	if !ok {
		return nil
	}
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ParkingReport{})
	if result.Error != nil {
		return fmt.Errorf("report service: delete report: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.publish(ctx)
	}
	return nil
}

// AnalyticsCounters implements geofence.ReportStore. Users without reports get zero counters.
func (s *ReportService) AnalyticsCounters(ctx context.Context, userID string) (models.ReportAnalytics, error) {
	ctx = ensureContext(ctx)
	userID, ok := requireID(userID)
	if !ok {
		return models.ReportAnalytics{}, apperrors.NewBadRequest("user id is required")
	}

	counters := models.ReportAnalytics{UserID: userID}
	err := s.db.WithContext(ctx).First(&counters, "user_id = ?", userID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ReportAnalytics{}, fmt.Errorf("report service: load analytics: %w", err)
	}
	return counters, nil
}

// IncrementAnalyticsCounters implements geofence.ReportStore.
func (s *ReportService) IncrementAnalyticsCounters(ctx context.Context, userID string, delta geofence.AnalyticsDelta) error {
	ctx = ensureContext(ctx)
	userID, ok := requireID(userID)
	if !ok {
		return apperrors.NewBadRequest("user id is required")
	}

	now := s.now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := models.ReportAnalytics{UserID: userID, LastReport: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("report service: seed analytics: %w", err)
		}
		if err := tx.Model(&models.ReportAnalytics{}).
			Where("user_id = ?", userID).
			Updates(map[string]any{
				"total":       gorm.Expr("total + ?", delta.Total),
				"available":   gorm.Expr("available + ?", delta.Available),
				"unavailable": gorm.Expr("unavailable + ?", delta.Unavailable),
				"last_report": now,
			}).Error; err != nil {
			return fmt.Errorf("report service: increment analytics: %w", err)
		}
		return nil
	})
}

// Submit creates a report for a signed-in user near their live position and
// records it in their analytics.
func (s *ReportService) Submit(ctx context.Context, input SubmitReportInput) (*models.ParkingReport, error) {
	ctx = ensureContext(ctx)
	if input.Position == nil {
		return nil, apperrors.ErrLocationUnavailable
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		return nil, apperrors.NewBadRequest("latitude and longitude must be provided together")
	}

	lat, lon := input.Position.Latitude, input.Position.Longitude
	if input.Latitude != nil {
		lat, lon = *input.Latitude, *input.Longitude
	}
	if geo.Distance(input.Position.Latitude, input.Position.Longitude, lat, lon) > s.maxDistance {
		return nil, apperrors.ErrTooFarFromLocation
	}

	report := &models.ParkingReport{
		Latitude:    &lat,
		Longitude:   &lon,
		IsAvailable: input.IsAvailable,
		ReporterID:  input.ReporterID,
	}
	if _, err := s.CreateReport(ctx, report); err != nil {
		return nil, err
	}

	if input.ReporterID != "" {
		delta := geofence.AnalyticsDelta{Total: 1, Unavailable: 1}
		if input.IsAvailable {
			delta = geofence.AnalyticsDelta{Total: 1, Available: 1}
		}
		if err := s.IncrementAnalyticsCounters(ctx, input.ReporterID, delta); err != nil {
			s.log.Warn("failed to update report analytics", zap.String("user_id", input.ReporterID), zap.Error(err))
		}
	}
	return report, nil
}

// SetAvailability marks a report open or taken. Any signed-in user may do so.
func (s *ReportService) SetAvailability(ctx context.Context, id string, available bool) (*models.ParkingReport, error) {
	if err := s.UpdateReport(ctx, id, geofence.ReportPatch{IsAvailable: &available}); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Remove deletes a report on behalf of userID. Reports with a reporter may only
// be removed by that reporter; anonymous reports may be removed by anyone.
func (s *ReportService) Remove(ctx context.Context, userID, id string) error {
	report, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if report.ReporterID != "" && report.ReporterID != userID {
		return apperrors.ErrForbidden
	}
	return s.DeleteReport(ctx, report.ID)
}

// DeleteExpired removes every report older than the retention window and
// returns how many were deleted.
func (s *ReportService) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	cutoff := now.Add(-s.retention).UnixMilli()
	result := s.db.WithContext(ctx).
		Where("timestamp IS NOT NULL AND timestamp < ?", cutoff).
		Delete(&models.ParkingReport{})
	if result.Error != nil {
		return 0, fmt.Errorf("report service: delete expired reports: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		metrics.ReportsExpired.Add(float64(result.RowsAffected))
		s.publish(ctx)
	}
	return result.RowsAffected, nil
}

// Poll republishes a snapshot every interval until ctx is done so writes made
// by other processes reach subscribers.
func (s *ReportService) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.subscriberCount() > 0 {
				s.publish(ctx)
			}
		}
	}
}

func (s *ReportService) load(ctx context.Context) ([]models.ParkingReport, error) {
	var reports []models.ParkingReport
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("report service: load reports: %w", err)
	}
	return reports, nil
}

func (s *ReportService) subscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subscribers)
}

func (s *ReportService) publish(ctx context.Context) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	reports, err := s.load(context.WithoutCancel(ctx))
	if err != nil {
		s.log.Error("failed to load report snapshot", zap.Error(err))
		return
	}
	s.seq++
	snapshot := geofence.Snapshot{Seq: s.seq, Reports: reports}

	s.subMu.Lock()
	subscribers := make([]func(geofence.Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subscribers {
		fn(snapshot)
	}

	if s.hub != nil {
		s.hub.BroadcastStream(realtime.StreamReports, realtime.Message{
			Event: "reports.snapshot",
			Data:  ReportSnapshotPayload{Seq: snapshot.Seq, Reports: reports},
		})
	}
}

var _ geofence.ReportStore = (*ReportService)(nil)
