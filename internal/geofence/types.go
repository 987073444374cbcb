// Package geofence turns a user's live position and the live set of parking
// reports into proximity notifications.
//
// A per-user Engine serialises three kinds of triggers (position updates, report
// snapshots, preference changes) and runs one evaluation cycle at a time:
// expired reports are filtered and purged, radius membership is diffed against
// the previous cycle, and the resulting delta drives notification history and
// push requests.
package geofence

import (
	"context"
	"errors"
	"sort"

	"github.com/charlesng35/parkpal/internal/models"
	"github.com/charlesng35/parkpal/pkg/geo"
)

// ErrDuplicateRecord is returned by a HistoryStore when a record for the same
// (user, report) pair already exists.
var ErrDuplicateRecord = errors.New("geofence: notification record already exists")

// Session identifies the user an operation is performed for.
type Session struct {
	UserID string
}

// Location is the device position of a session.
type Location = geo.Point

// Preferences are the notification settings that gate membership evaluation.
type Preferences struct {
	Radius               float64 `json:"radius"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
}

// Snapshot is a full replacement of the live report collection. Seq increases
// with every snapshot a store publishes.
type Snapshot struct {
	Seq     uint64
	Reports []models.ParkingReport
}

// ReportPatch lists the mutable fields of a report.
type ReportPatch struct {
	IsAvailable *bool
}

// AnalyticsDelta is added to a user's report counters.
type AnalyticsDelta struct {
	Total       int64
	Available   int64
	Unavailable int64
}

// ReportSource publishes live report snapshots. The callback runs once with the
// current state before SubscribeReports returns and again after every change.
type ReportSource interface {
	SubscribeReports(ctx context.Context, fn func(Snapshot)) (unsubscribe func(), err error)
}

// ReportDeleter removes reports. Deleting an id that no longer exists is not an error.
type ReportDeleter interface {
	DeleteReport(ctx context.Context, id string) error
}

// ReportStore is the full contract of the report collection adapter.
type ReportStore interface {
	ReportSource
	ReportDeleter
	CreateReport(ctx context.Context, report *models.ParkingReport) (string, error)
	UpdateReport(ctx context.Context, id string, patch ReportPatch) error
	AnalyticsCounters(ctx context.Context, userID string) (models.ReportAnalytics, error)
	IncrementAnalyticsCounters(ctx context.Context, userID string, delta AnalyticsDelta) error
}

// PreferenceStore exposes the user's radius and notification switch.
type PreferenceStore interface {
	Radius(ctx context.Context, userID string) (float64, error)
	NotificationsEnabled(ctx context.Context, userID string) (bool, error)
	// SubscribePreferences delivers the current preferences before returning and
	// again after every change.
	SubscribePreferences(ctx context.Context, userID string, fn func(Preferences)) (unsubscribe func(), err error)
}

// HistoryStore persists the notification history of a user.
type HistoryStore interface {
	// IndexByReport maps report ids to the id of the history record referencing them.
	IndexByReport(ctx context.Context, userID string) (map[string]string, error)
	// CreateRecord stores record and fills in its id. It returns ErrDuplicateRecord
	// when the user already has a record for the report.
	CreateRecord(ctx context.Context, record *models.NotificationRecord) error
	DeleteRecord(ctx context.Context, userID, recordID string) error
}

// PushData is the machine readable part of a push request.
type PushData struct {
	ReportID string `json:"reportId"`
}

// PushRequest is handed to the delivery collaborator. Delivery is not guaranteed.
type PushRequest struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Data  PushData `json:"data"`
}

// Pusher requests a push notification for a user.
type Pusher interface {
	Push(ctx context.Context, userID string, request PushRequest) error
}

// Delta is the change in radius membership between two evaluations. Both slices
// are sorted.
type Delta struct {
	Entered []string
	Left    []string
}

// Empty reports whether nothing entered or left.
func (d Delta) Empty() bool {
	return len(d.Entered) == 0 && len(d.Left) == 0
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
