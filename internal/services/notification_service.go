package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/parkpal/internal/geofence"
	"github.com/charlesng35/parkpal/internal/models"
	"github.com/charlesng35/parkpal/internal/realtime"
	apperrors "github.com/charlesng35/parkpal/pkg/errors"
)

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	ReportID  string         `json:"report_id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID string
	Limit  int
	Offset int
}

// NotificationEventPayload represents data sent to realtime consumers.
type NotificationEventPayload struct {
	Notification   *NotificationDTO `json:"notification,omitempty"`
	NotificationID string           `json:"notification_id,omitempty"`
	ReportID       string           `json:"report_id,omitempty"`
}

// NotificationService manages the proximity notification history of users.
type NotificationService struct {
	db  *gorm.DB
	hub *realtime.Hub
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB, hub *realtime.Hub) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{db: db, hub: hub}, nil
}

// IndexByReport implements geofence.HistoryStore.
func (s *NotificationService) IndexByReport(ctx context.Context, userID string) (map[string]string, error) {
	ctx = ensureContext(ctx)
	userID, ok := requireID(userID)
	if !ok {
		return nil, errors.New("notification service: user id is required")
	}

	var rows []struct {
		ID       string
		ReportID string
	}
	if err := s.db.WithContext(ctx).
		Model(&models.NotificationRecord{}).
		Select("id", "report_id").
		Where("user_id = ?", userID).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: index history: %w", err)
	}

	index := make(map[string]string, len(rows))
	for _, row := range rows {
		index[row.ReportID] = row.ID
	}
	return index, nil
}

// CreateRecord implements geofence.HistoryStore.
func (s *NotificationService) CreateRecord(ctx context.Context, record *models.NotificationRecord) error {
	ctx = ensureContext(ctx)
	if record == nil {
		return errors.New("notification service: record is required")
	}
	if record.UserID == "" || record.ReportID == "" {
		return errors.New("notification service: user id and report id are required")
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("notification service: %w", geofence.ErrDuplicateRecord)
		}
		return fmt.Errorf("notification service: create record: %w", err)
	}

	dto := mapNotification(*record)
	s.broadcast(record.UserID, "notification.created", &NotificationEventPayload{Notification: &dto})
	return nil
}

// DeleteRecord implements geofence.HistoryStore. Missing records are ignored.
func (s *NotificationService) DeleteRecord(ctx context.Context, userID, recordID string) error {
	_, err := s.delete(ctx, userID, recordID)
	return err
}

// ListForUser returns notifications for the supplied user, newest first.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)
	userID, ok := requireID(input.UserID)
	if !ok {
		return nil, errors.New("notification service: user id is required")
	}
	limit, offset := clampPage(input.Limit, input.Offset, 25, 100)

	var rows []models.NotificationRecord
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}

	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items, nil
}

// Delete removes a notification owned by the supplied user.
func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	deleted, err := s.delete(ctx, userID, notificationID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *NotificationService) delete(ctx context.Context, userID, recordID string) (bool, error) {
	ctx = ensureContext(ctx)
	var record models.NotificationRecord
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", recordID, userID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("notification service: load notification: %w", err)
	}

	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", recordID, userID).
		Delete(&models.NotificationRecord{})
	if result.Error != nil {
		return false, fmt.Errorf("notification service: delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	s.broadcast(userID, "notification.deleted", &NotificationEventPayload{
		NotificationID: recordID,
		ReportID:       record.ReportID,
	})
	return true, nil
}

func (s *NotificationService) broadcast(userID, event string, payload *NotificationEventPayload) {
	if s.hub == nil {
		return
	}
	message := realtime.Message{
		Stream: realtime.StreamNotifications,
		Event:  event,
	}
	if payload != nil {
		message.Data = payload
	}
	s.hub.BroadcastToUser(realtime.StreamNotifications, userID, message)
}

func mapNotification(row models.NotificationRecord) NotificationDTO {
	return NotificationDTO{
		ID:        row.ID,
		UserID:    row.UserID,
		ReportID:  row.ReportID,
		Title:     row.Title,
		Body:      row.Body,
		Timestamp: row.Timestamp,
		Data:      decodeJSON(row.Payload),
		CreatedAt: row.CreatedAt,
	}
}

var _ geofence.HistoryStore = (*NotificationService)(nil)
