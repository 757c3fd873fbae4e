package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/tandem/internal/rooms"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection, migrates the room schema and
// discards rooms left behind by a previous process.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&rooms.RoomDocument{}); err != nil {
		return nil, err
	}

	purged, err := purgeRooms(db)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path), zap.Int64("purged_rooms", purged))
	}

	return db, nil
}

// Rooms live for the life of the process only.
func purgeRooms(db *gorm.DB) (int64, error) {
	result := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&rooms.RoomDocument{})
	return result.RowsAffected, result.Error
}
