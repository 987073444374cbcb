package models

import "time"

// UserPreference stores the notification settings owned by a user.
type UserPreference struct {
	UserID               string    `gorm:"primaryKey;type:varchar(128)" json:"user_id"`
	Radius               float64   `gorm:"not null" json:"radius"`
	NotificationsEnabled bool      `gorm:"not null" json:"notifications_enabled"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName implements the gorm tabler interface.
func (UserPreference) TableName() string { return "user_preferences" }
