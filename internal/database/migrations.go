package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribepad/scribepad/backend/internal/docs"
)

// schemaVersion is bumped whenever the stored layout changes in a way the
// named migrations below cannot express. Databases written by a newer
// service version are refused rather than silently damaged.
const schemaVersion int64 = 1

const schemaVersionKey = "DB_Version"

type metadataRecord struct {
	ID      int64  `gorm:"column:id;primaryKey;autoIncrement"`
	MetaKey string `gorm:"column:meta_key;size:190;not null;default:''"`
	Value   int64  `gorm:"column:value;not null;default:0"`
}

func (metadataRecord) TableName() string {
	return "metadata"
}

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

// ensureSchemaVersion seeds the schema version on a fresh database and
// validates it on an existing one.
func ensureSchemaVersion(db *gorm.DB) (int64, error) {
	var record metadataRecord
	err := db.Where("meta_key = ?", schemaVersionKey).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = metadataRecord{MetaKey: schemaVersionKey, Value: schemaVersion}
		if err := db.Create(&record).Error; err != nil {
			return 0, err
		}
		return schemaVersion, nil
	}
	if err != nil {
		return 0, err
	}
	if record.Value > schemaVersion {
		return 0, fmt.Errorf("database schema v%d is newer than supported v%d", record.Value, schemaVersion)
	}
	return record.Value, nil
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

const migrationBackfillDocumentKind = "2026-07-21_backfill_document_kind"

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillDocumentKind, apply: backfillDocumentKind},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillDocumentKind derives the kind column for rows written before the
// column existed: checklist content is stored as a JSON array, text content
// as a JSON string.
func backfillDocumentKind(db *gorm.DB) error {
	return db.Model(&docs.Document{}).
		Where("kind = ''").
		Update("kind", gorm.Expr(
			"CASE WHEN content_json LIKE '[%' THEN 'checklist' ELSE 'text' END")).Error
}
