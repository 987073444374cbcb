package database

import (
	"testing"

	"github.com/charlesng35/parkpal/internal/models"
	"gorm.io/gorm"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	if err := db.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("expected health query to succeed: %v", err)
	}
}

func TestPrepareCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	if err := Prepare(db); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	for _, model := range []any{
		&models.ParkingReport{},
		&models.NotificationRecord{},
		&models.UserPreference{},
		&models.ReportAnalytics{},
	} {
		if !db.Migrator().HasTable(model) {
			t.Fatalf("expected table for %T", model)
		}
	}

	if !db.Migrator().HasIndex(&models.NotificationRecord{}, "ux_notification_user_report") {
		t.Fatal("expected unique notification index")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{Driver: "sqlite"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
