package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/parkpal/internal/geofence"
	"github.com/charlesng35/parkpal/internal/models"
	apperrors "github.com/charlesng35/parkpal/pkg/errors"
)

// RadiusPresets are the notification radii, in miles, a user may pick from.
var RadiusPresets = []float64{0.1, 0.2, 0.3, 0.5, 1.0}

// DefaultUserPreferences returns the preferences of a user who never saved any.
func DefaultUserPreferences() geofence.Preferences {
	return geofence.DefaultPreferences
}

// IsRadiusPreset reports whether radius is one of RadiusPresets.
func IsRadiusPreset(radius float64) bool {
	for _, preset := range RadiusPresets {
		if math.Abs(preset-radius) < 1e-9 {
			return true
		}
	}
	return false
}

// UpdatePreferencesInput carries a partial preference update.
type UpdatePreferencesInput struct {
	Radius               *float64
	NotificationsEnabled *bool
}

// PreferenceService stores notification preferences and pushes every change to
// the live subscribers of that user.
type PreferenceService struct {
	db *gorm.DB

	// mu serialises writes with deliveries so subscribers observe changes in order.
	mu          sync.Mutex
	subscribers map[string]map[uint64]func(geofence.Preferences)
	nextSub     uint64
}

// NewPreferenceService constructs a PreferenceService.
func NewPreferenceService(db *gorm.DB) (*PreferenceService, error) {
	if db == nil {
		return nil, errors.New("preference service: db is required")
	}
	return &PreferenceService{
		db:          db,
		subscribers: make(map[string]map[uint64]func(geofence.Preferences)),
	}, nil
}

// Get returns the effective preferences of userID.
func (s *PreferenceService) Get(ctx context.Context, userID string) (geofence.Preferences, error) {
	ctx = ensureContext(ctx)
	userID, ok := requireID(userID)
	if !ok {
		return DefaultUserPreferences(), apperrors.NewBadRequest("user id is required")
	}

	var row models.UserPreference
	err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultUserPreferences(), nil
	}
	if err != nil {
		return DefaultUserPreferences(), fmt.Errorf("preference service: load preferences: %w", err)
	}
	return geofence.Preferences{Radius: row.Radius, NotificationsEnabled: row.NotificationsEnabled}, nil
}

// Update applies input on top of the stored preferences and notifies subscribers.
func (s *PreferenceService) Update(ctx context.Context, userID string, input UpdatePreferencesInput) (geofence.Preferences, error) {
	ctx = ensureContext(ctx)
	userID, ok := requireID(userID)
	if !ok {
		return DefaultUserPreferences(), apperrors.NewBadRequest("user id is required")
	}
	if input.Radius != nil && !IsRadiusPreset(*input.Radius) {
		return DefaultUserPreferences(), apperrors.NewBadRequest(fmt.Sprintf("radius must be one of %v", RadiusPresets))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.Get(ctx, userID)
	if err != nil {
		return prefs, err
	}
	if input.Radius != nil {
		prefs.Radius = *input.Radius
	}
	if input.NotificationsEnabled != nil {
		prefs.NotificationsEnabled = *input.NotificationsEnabled
	}

	row := models.UserPreference{
		UserID:               userID,
		Radius:               prefs.Radius,
		NotificationsEnabled: prefs.NotificationsEnabled,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"radius", "notifications_enabled", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return prefs, fmt.Errorf("preference service: save preferences: %w", err)
	}

	for _, fn := range s.subscribers[userID] {
		fn(prefs)
	}
	return prefs, nil
}

// Radius implements geofence.PreferenceStore.
func (s *PreferenceService) Radius(ctx context.Context, userID string) (float64, error) {
	prefs, err := s.Get(ctx, userID)
	return prefs.Radius, err
}

// NotificationsEnabled implements geofence.PreferenceStore.
func (s *PreferenceService) NotificationsEnabled(ctx context.Context, userID string) (bool, error) {
	prefs, err := s.Get(ctx, userID)
	return prefs.NotificationsEnabled, err
}

// SubscribePreferences implements geofence.PreferenceStore.
func (s *PreferenceService) SubscribePreferences(ctx context.Context, userID string, fn func(geofence.Preferences)) (func(), error) {
	if fn == nil {
		return nil, errors.New("preference service: subscriber callback is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	id := s.nextSub
	s.nextSub++
	if s.subscribers[userID] == nil {
		s.subscribers[userID] = make(map[uint64]func(geofence.Preferences))
	}
	s.subscribers[userID][id] = fn
	fn(prefs)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers[userID], id)
			if len(s.subscribers[userID]) == 0 {
				delete(s.subscribers, userID)
			}
		})
	}, nil
}

var _ geofence.PreferenceStore = (*PreferenceService)(nil)
