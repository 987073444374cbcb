package models

import "time"

// ReportAnalytics accumulates how many reports a user has submitted.
type ReportAnalytics struct {
	UserID      string    `gorm:"primaryKey;type:varchar(128)" json:"user_id"`
	Total       int64     `gorm:"not null;default:0" json:"total"`
	Available   int64     `gorm:"not null;default:0" json:"available"`
	Unavailable int64     `gorm:"not null;default:0" json:"unavailable"`
	LastReport  time.Time `json:"last_report"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName implements the gorm tabler interface.
func (ReportAnalytics) TableName() string { return "report_analytics" }
