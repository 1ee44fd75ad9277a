package docs

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

// StoreError wraps store failures with an operation.reason code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew             = "docs.store.new"
	opGet                  = "docs.get"
	opList                 = "docs.list"
	opCreate               = "docs.create"
	opApplyTextUpdate      = "docs.apply_text_update"
	opApplyChecklistUpdate = "docs.apply_checklist_update"
	opDelete               = "docs.delete"
)

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// StoreConfig carries the dependencies of a Store.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store is the durable keyed table of documents. It holds the current
// materialized content only; history lives in the change journal. The store
// performs no internal locking - callers serialize access.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, logger: logger}, nil
}

// Get loads a single document. ErrNotFound is returned when no document
// exists for the identifier.
func (s *Store) Get(ctx context.Context, id DocumentID) (Document, error) {
	var document Document
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id.String())
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("document_id", id.String()))
		return Document{}, newStoreError(opGet, "query_failed", err)
	}
	return document, nil
}

// List returns every document ordered by identifier.
func (s *Store) List(ctx context.Context) ([]Document, error) {
	var documents []Document
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&documents).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, newStoreError(opList, "query_failed", err)
	}
	return documents, nil
}

// Create inserts a new document. The supplied content irreversibly selects
// the document kind. Creating an id that already exists is a silent no-op;
// a create can never change the kind or content of an existing document.
func (s *Store) Create(ctx context.Context, id DocumentID, title string, content Content) error {
	encoded, err := content.encode()
	if err != nil {
		return newStoreError(opCreate, "encode_failed", err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", id.String()).Count(&count).Error; err != nil {
		s.logError(opCreate, "existence_check_failed", err, zap.String("document_id", id.String()))
		return newStoreError(opCreate, "existence_check_failed", err)
	}
	if count > 0 {
		return nil
	}

	document := Document{
		ID:          id.String(),
		Title:       title,
		Kind:        content.Kind(),
		ContentJSON: encoded,
	}
	if err := s.db.WithContext(ctx).Create(&document).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("document_id", id.String()))
		return newStoreError(opCreate, "insert_failed", err)
	}
	return nil
}

// ApplyTextUpdate replaces the content of a text document. A missing
// document or a kind mismatch is a silent no-op.
func (s *Store) ApplyTextUpdate(ctx context.Context, id DocumentID, newText string) error {
	document, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if document.Kind != KindText {
		return nil
	}

	encoded, err := TextContent(newText).encode()
	if err != nil {
		return newStoreError(opApplyTextUpdate, "encode_failed", err)
	}
	if err := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", id.String()).
		Update("content_json", encoded).Error; err != nil {
		s.logError(opApplyTextUpdate, "update_failed", err, zap.String("document_id", id.String()))
		return newStoreError(opApplyTextUpdate, "update_failed", err)
	}
	return nil
}

// ApplyChecklistUpdate loads the current entry list, passes it through the
// mutator and stores the result. A missing document or a kind mismatch is a
// silent no-op.
func (s *Store) ApplyChecklistUpdate(ctx context.Context, id DocumentID, mutate func([]Entry) []Entry) error {
	document, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if document.Kind != KindChecklist {
		return nil
	}

	entries, err := document.Entries()
	if err != nil {
		return newStoreError(opApplyChecklistUpdate, "decode_failed", err)
	}
	encoded, err := ChecklistContent(mutate(entries)).encode()
	if err != nil {
		return newStoreError(opApplyChecklistUpdate, "encode_failed", err)
	}
	if err := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", id.String()).
		Update("content_json", encoded).Error; err != nil {
		s.logError(opApplyChecklistUpdate, "update_failed", err, zap.String("document_id", id.String()))
		return newStoreError(opApplyChecklistUpdate, "update_failed", err)
	}
	return nil
}

// Delete removes a document. Deleting a missing id is a silent no-op; the
// delete itself stays recorded forever in the change journal.
func (s *Store) Delete(ctx context.Context, id DocumentID) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&Document{}).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("document_id", id.String()))
		return newStoreError(opDelete, "delete_failed", err)
	}
	return nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("document store error", attrs...)
}
