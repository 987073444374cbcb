package models

import "gorm.io/datatypes"

// NotificationRecord is one entry of a user's proximity notification history.
// The unique (user_id, report_id) index guarantees a single live record per report.
type NotificationRecord struct {
	BaseModel

	UserID   string `gorm:"type:varchar(128);not null;uniqueIndex:ux_notification_user_report,priority:1" json:"user_id"`
	ReportID string `gorm:"type:varchar(64);not null;uniqueIndex:ux_notification_user_report,priority:2" json:"report_id"`
	Title    string `gorm:"type:varchar(255);not null" json:"title"`
	Body     string `gorm:"type:text" json:"body"`
	// Timestamp is the creation time in milliseconds since the Unix epoch.
	Timestamp int64          `gorm:"not null;index" json:"timestamp"`
	Payload   datatypes.JSON `json:"payload,omitempty"`
}

// TableName implements the gorm tabler interface.
func (NotificationRecord) TableName() string { return "notification_records" }
