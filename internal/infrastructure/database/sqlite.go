package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"adoptme/internal/domain/entity"
	"adoptme/pkg/logger"
)

const MemoryPath = ":memory:"

// OpenSQLite opens (or creates) the message database at path and migrates
// the messaging tables.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
	}
	// Every pooled connection to :memory: would see its own empty database.
	if path == MemoryPath {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&entity.User{}, &entity.Message{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate messaging tables: %w", err)
	}

	logger.Info("SQLite message store ready at %s", path)
	return db, nil
}
