// Package journal maintains the append-only, time-ordered log of every
// accepted change. The journal is the sole source of truth for what
// happened and when; the document store is a cache of its effect.
package journal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ChangeRecord is one accepted change. Timestamp is the client-assigned
// ordering key; the auto-increment row id breaks ties by insertion order.
// Records are never mutated or removed once written.
type ChangeRecord struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Timestamp  int64  `gorm:"column:timestamp;not null;index:idx_change_history_timestamp"`
	Type       string `gorm:"column:type;size:16;not null"`
	ChangeJSON string `gorm:"column:change_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ChangeRecord) TableName() string {
	return "change_history"
}

// JournalError wraps journal failures with an operation.reason code.
type JournalError struct {
	code string
	err  error
}

func (e *JournalError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *JournalError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *JournalError) Code() string {
	return e.code
}

const (
	opJournalNew = "journal.new"
	opAppend     = "journal.append"
	opAfter      = "journal.after"
	opLatest     = "journal.latest"
)

func newJournalError(operation, reason string, cause error) error {
	return &JournalError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Config carries the dependencies of a Journal.
type Config struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Journal provides durable ordered appends and time-cursor reads over the
// change history table.
type Journal struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New validates the configuration and returns a Journal.
func New(cfg Config) (*Journal, error) {
	if cfg.Database == nil {
		return nil, newJournalError(opJournalNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Journal{db: cfg.Database, logger: logger}, nil
}

// Append durably records a change. A failure here is a storage fault and is
// fatal to the operation in progress; no partial commit is assumed
// recoverable.
func (j *Journal) Append(ctx context.Context, record *ChangeRecord) error {
	if err := j.db.WithContext(ctx).Create(record).Error; err != nil {
		j.logError(opAppend, "insert_failed", err, zap.Int64("timestamp", record.Timestamp))
		return newJournalError(opAppend, "insert_failed", err)
	}
	return nil
}

// After returns every record with a timestamp strictly greater than the
// cursor, oldest first. Equal timestamps keep their insertion order.
func (j *Journal) After(ctx context.Context, timestamp int64) ([]ChangeRecord, error) {
	var records []ChangeRecord
	if err := j.db.WithContext(ctx).
		Where("timestamp > ?", timestamp).
		Order("timestamp ASC, id ASC").
		Find(&records).Error; err != nil {
		j.logError(opAfter, "query_failed", err, zap.Int64("cursor", timestamp))
		return nil, newJournalError(opAfter, "query_failed", err)
	}
	return records, nil
}

// Latest returns the most recent record, or nil when the journal is empty.
func (j *Journal) Latest(ctx context.Context) (*ChangeRecord, error) {
	var record ChangeRecord
	err := j.db.WithContext(ctx).
		Order("timestamp DESC, id DESC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		j.logError(opLatest, "query_failed", err)
		return nil, newJournalError(opLatest, "query_failed", err)
	}
	return &record, nil
}

func (j *Journal) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	j.logger.Error("change journal error", attrs...)
}
