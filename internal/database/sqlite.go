package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribepad/scribepad/backend/internal/docs"
	"github.com/scribepad/scribepad/backend/internal/journal"
)

// OpenSQLite establishes a SQLite connection, performs schema migrations
// and verifies the stored schema version.
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

	if err := db.AutoMigrate(&docs.Document{}, &journal.ChangeRecord{}, &metadataRecord{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	version, err := ensureSchemaVersion(db)
	if err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized",
			zap.String("path", path), zap.Int64("schema_version", version))
	}

	return db, nil
}

// Vacuum reclaims space left behind by deleted documents. Run periodically
// by the maintenance loop; the change history itself is never compacted here.
func Vacuum(db *gorm.DB) error {
	return db.Exec("VACUUM").Error
}
