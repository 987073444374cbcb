package models

// ParkingReport is a crowdsourced open/taken observation for a parking spot.
//
// Coordinates and Timestamp are nullable so rows written by older clients or
// other writers can be represented faithfully; consumers treat missing
// coordinates as malformed and a missing timestamp as never expiring.
type ParkingReport struct {
	BaseModel

	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	IsAvailable bool     `gorm:"not null;default:false;index" json:"is_available"`
	// Timestamp is the creation time in milliseconds since the Unix epoch.
	Timestamp  *int64 `gorm:"index" json:"timestamp"`
	ReporterID string `gorm:"type:varchar(128);index" json:"reporter_id,omitempty"`
}

// TableName pins the table name used by every writer of the reports collection.
func (ParkingReport) TableName() string { return "parking_reports" }
