package models

import (
	"time"
)

// CacheEntry is a short-lived counter row shared by every process using the
// same database. Value holds the decimal count for the current window.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
