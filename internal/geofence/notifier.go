package geofence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/charlesng35/parkpal/internal/models"
	"github.com/charlesng35/parkpal/pkg/logger"
	"github.com/charlesng35/parkpal/pkg/metrics"
)

const (
	// SpotAvailableTitle is the title of every proximity notification.
	SpotAvailableTitle = "🚗 Spot Available Nearby!"
	// SpotAvailableBody is the body of every proximity notification.
	SpotAvailableBody = "A new parking spot just opened close to you."

	defaultPushConcurrency = 4
)

// Notifier turns membership deltas into history records and push requests.
// For every (user, report) pair there is at most one live record, and a push is
// requested only alongside a record creation.
type Notifier struct {
	history HistoryStore
	pusher  Pusher
	now     func() time.Time
	retry   RetryOptions
	workers int
	log     *zap.Logger
}

// NotifierOption customises a Notifier.
type NotifierOption func(*Notifier)

// WithNotifierClock overrides the clock used for record timestamps.
func WithNotifierClock(now func() time.Time) NotifierOption {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

// WithRetryOptions overrides DefaultRetryOptions.
func WithRetryOptions(opts RetryOptions) NotifierOption {
	return func(n *Notifier) {
		n.retry = opts
	}
}

// WithPushConcurrency bounds how many pushes of one delta are in flight at once.
func WithPushConcurrency(workers int) NotifierOption {
	return func(n *Notifier) {
		if workers > 0 {
			n.workers = workers
		}
	}
}

// NewNotifier constructs a Notifier. A nil pusher records history without pushing.
func NewNotifier(history HistoryStore, pusher Pusher, opts ...NotifierOption) (*Notifier, error) {
	if history == nil {
		return nil, errors.New("geofence: history store is required")
	}
	n := &Notifier{
		history: history,
		pusher:  pusher,
		now:     time.Now,
		retry:   DefaultRetryOptions(),
		workers: defaultPushConcurrency,
		log:     logger.WithModule("geofence.notifier"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Apply writes the side effects of delta for session. The report index is
// rebuilt from the history store on every call so ids that already have a
// record are never notified twice. Failures are collected and returned after
// every other id has been processed.
func (n *Notifier) Apply(ctx context.Context, session Session, delta Delta) error {
	if delta.Empty() {
		return nil
	}
	if session.UserID == "" {
		return errors.New("geofence: session user id is required")
	}

	log := n.log.With(zap.String("user_id", session.UserID))

	index, err := withRetry(ctx, n.retry, func() (map[string]string, error) {
		return n.history.IndexByReport(ctx, session.UserID)
	})
	if err != nil {
		return fmt.Errorf("geofence: index notification history: %w", err)
	}

	var errs error

	for _, reportID := range delta.Left {
		metrics.MembershipTransitions.WithLabelValues("left").Inc()
		recordID, ok := index[reportID]
		if !ok {
			continue
		}
		_, err := withRetry(ctx, n.retry, func() (struct{}, error) {
			return struct{}{}, n.history.DeleteRecord(ctx, session.UserID, recordID)
		})
		if err != nil {
			log.Warn("failed to retract notification", zap.String("report_id", reportID), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("delete record for report %s: %w", reportID, err))
			continue
		}
		delete(index, reportID)
	}

	var pushes []string
	for _, reportID := range delta.Entered {
		metrics.MembershipTransitions.WithLabelValues("entered").Inc()
		if _, ok := index[reportID]; ok {
			continue
		}
		record, err := n.createRecord(ctx, session.UserID, reportID)
		if errors.Is(err, ErrDuplicateRecord) {
			log.Debug("notification already recorded", zap.String("report_id", reportID))
			continue
		}
		if err != nil {
			log.Warn("failed to record notification", zap.String("report_id", reportID), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("create record for report %s: %w", reportID, err))
			continue
		}
		index[reportID] = record.ID
		pushes = append(pushes, reportID)
	}

	return multierr.Append(errs, n.push(ctx, session.UserID, pushes))
}

func (n *Notifier) createRecord(ctx context.Context, userID, reportID string) (*models.NotificationRecord, error) {
	payload, err := json.Marshal(PushData{ReportID: reportID})
	if err != nil {
		return nil, err
	}
	return withRetry(ctx, n.retry, func() (*models.NotificationRecord, error) {
		record := &models.NotificationRecord{
			UserID:    userID,
			ReportID:  reportID,
			Title:     SpotAvailableTitle,
			Body:      SpotAvailableBody,
			Timestamp: n.now().UnixMilli(),
			Payload:   datatypes.JSON(payload),
		}
		if err := n.history.CreateRecord(ctx, record); err != nil {
			if errors.Is(err, ErrDuplicateRecord) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return record, nil
	})
}

func (n *Notifier) push(ctx context.Context, userID string, reportIDs []string) error {
	if n.pusher == nil || len(reportIDs) == 0 {
		return nil
	}

	p := pool.New().WithMaxGoroutines(n.workers).WithErrors()
	for _, reportID := range reportIDs {
		p.Go(func() error {
			request := PushRequest{
				Title: SpotAvailableTitle,
				Body:  SpotAvailableBody,
				Data:  PushData{ReportID: reportID},
			}
			_, err := withRetry(ctx, n.retry, func() (struct{}, error) {
				return struct{}{}, n.pusher.Push(ctx, userID, request)
			})
			if err != nil {
				metrics.PushRequests.WithLabelValues("failure").Inc()
				n.log.Warn("push request failed",
					zap.String("user_id", userID),
					zap.String("report_id", reportID),
					zap.Error(err),
				)
				return fmt.Errorf("push report %s: %w", reportID, err)
			}
			metrics.PushRequests.WithLabelValues("success").Inc()
			return nil
		})
	}
	return p.Wait()
}
