package geofence

import (
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/parkpal/internal/models"
	"github.com/charlesng35/parkpal/pkg/geo"
	"github.com/charlesng35/parkpal/pkg/logger"
)

// Tracker remembers which reports were inside the user's radius at the last
// evaluation and reports the difference on the next one.
type Tracker struct {
	mu       sync.Mutex
	previous map[string]struct{}
	log      *zap.Logger
}

// NewTracker returns a tracker with empty membership.
func NewTracker() *Tracker {
	return &Tracker{
		previous: make(map[string]struct{}),
		log:      logger.WithModule("geofence.tracker"),
	}
}

// Evaluate computes the reports entering and leaving radius miles of loc.
//
// When notifications are disabled, the location is unknown or reports is empty
// the delta is empty and the remembered membership is left untouched.
func (t *Tracker) Evaluate(loc *Location, reports []models.ParkingReport, radius float64, enabled bool) Delta {
	if !enabled || loc == nil || len(reports) == 0 {
		return Delta{}
	}

	current := make(map[string]struct{}, len(reports))
	for _, report := range reports {
		if !report.IsAvailable {
			continue
		}
		point, ok := t.position(report)
		if !ok {
			continue
		}
		if geo.DistanceBetween(*loc, point) <= radius {
			current[report.ID] = struct{}{}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entered := make(map[string]struct{})
	for id := range current {
		if _, ok := t.previous[id]; !ok {
			entered[id] = struct{}{}
		}
	}
	left := make(map[string]struct{})
	for id := range t.previous {
		if _, ok := current[id]; !ok {
			left[id] = struct{}{}
		}
	}
	t.previous = current

	return Delta{Entered: sortedKeys(entered), Left: sortedKeys(left)}
}

// Membership returns the sorted ids currently inside the radius.
func (t *Tracker) Membership() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.previous)
}

// Seed replaces the remembered membership with ids, so the next evaluation
// reports those no longer in range as left.
func (t *Tracker) Seed(ids []string) {
	previous := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			previous[id] = struct{}{}
		}
	}
	t.mu.Lock()
	t.previous = previous
	t.mu.Unlock()
}

// Reset forgets the remembered membership.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.previous = make(map[string]struct{})
	t.mu.Unlock()
}

func (t *Tracker) position(report models.ParkingReport) (Location, bool) {
	if report.ID == "" || report.Latitude == nil || report.Longitude == nil {
		t.log.Warn("skipping malformed report", zap.String("report_id", report.ID))
		return Location{}, false
	}
	point := Location{Latitude: *report.Latitude, Longitude: *report.Longitude}
	if !point.Valid() {
		t.log.Warn("skipping report with out of range coordinates",
			zap.String("report_id", report.ID),
			zap.Float64("latitude", point.Latitude),
			zap.Float64("longitude", point.Longitude),
		)
		return Location{}, false
	}
	return point, true
}
