package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"multiplayer-life/internal/domain"
)

// MigrateDB creates or updates the archive schema.
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	if err := db.AutoMigrate(&domain.Snapshot{}); err != nil {
		return fmt.Errorf("failed to auto-migrate snapshots table: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}
