package syncing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/scribepad/scribepad/backend/internal/docs"
	"github.com/scribepad/scribepad/backend/internal/journal"
)

var (
	errMissingStore     = errors.New("document store is required")
	errMissingJournal   = errors.New("change journal is required")
	errMissingPublisher = errors.New("publisher is required")
	noOpLogger          = zap.NewNop()
)

// Publisher fans a message out to every live connection except the excluded
// session ids. Implemented by the server's session registry.
type Publisher interface {
	Publish(message any, excludedSessionIDs ...string)
}

// Session is one live client connection as seen by the coordinator.
type Session interface {
	ID() string
	Send(message any) error
}

// CoordinatorError wraps coordinator failures with an operation.reason code.
type CoordinatorError struct {
	code string
	err  error
}

func (e *CoordinatorError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *CoordinatorError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *CoordinatorError) Code() string {
	return e.code
}

const (
	opCoordinatorNew = "syncing.coordinator.new"
	opLiveChange     = "syncing.live_change"
	opFetchList      = "syncing.fetch_list"
	opOfflineSync    = "syncing.offline_sync"
)

func newCoordinatorError(operation, reason string, cause error) error {
	return &CoordinatorError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// CoordinatorConfig carries the dependencies of a Coordinator.
type CoordinatorConfig struct {
	Store     *docs.Store
	Journal   *journal.Journal
	Publisher Publisher
	Logger    *zap.Logger
}

// Coordinator orchestrates the three sync flows: live single changes, full
// list fetches and offline batch reconciliation. A single mutex serializes
// every read-journal/reconcile/apply sequence; without it a concurrent
// write from another connection could land between shadow construction and
// application and silently escape the last-writer-wins check.
type Coordinator struct {
	store     *docs.Store
	journal   *journal.Journal
	publisher Publisher
	logger    *zap.Logger

	mu sync.Mutex
}

// NewCoordinator validates the configuration and returns a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, newCoordinatorError(opCoordinatorNew, "missing_store", errMissingStore)
	}
	if cfg.Journal == nil {
		return nil, newCoordinatorError(opCoordinatorNew, "missing_journal", errMissingJournal)
	}
	if cfg.Publisher == nil {
		return nil, newCoordinatorError(opCoordinatorNew, "missing_publisher", errMissingPublisher)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Coordinator{
		store:     cfg.Store,
		journal:   cfg.Journal,
		publisher: cfg.Publisher,
		logger:    logger,
	}, nil
}

// HandleChange applies a single live change with no reconciliation - the
// originator is authoritative for its own real-time edit - then echoes the
// message back to the originator and broadcasts it to everyone else with
// the callback id stripped.
func (c *Coordinator) HandleChange(ctx context.Context, origin Session, envelope Envelope) error {
	if envelope.Change == nil {
		c.logger.Warn("live change without payload", zap.String("session_id", origin.ID()))
		return nil
	}
	if err := envelope.Change.Validate(); err != nil {
		c.logger.Warn("malformed live change dropped",
			zap.String("session_id", origin.ID()), zap.Error(err))
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.applyChange(ctx, *envelope.Change); err != nil {
		return newCoordinatorError(opLiveChange, "apply_failed", err)
	}

	// Echo and broadcast under the same lock: fan-out order must match
	// apply order, or listeners can end up holding a state the server
	// never had. Session sends only enqueue, so holding the lock is cheap.
	if err := origin.Send(ChangeMessage{
		MsgType:    MsgTypeChange,
		CallbackID: envelope.CallbackID,
		Change:     *envelope.Change,
	}); err != nil {
		c.logger.Warn("live change ack dropped",
			zap.String("session_id", origin.ID()), zap.Error(err))
	}
	c.publisher.Publish(ChangeMessage{
		MsgType: MsgTypeChange,
		Change:  *envelope.Change,
	}, origin.ID())
	return nil
}

// HandleFetchList sends the full current document set plus the journal's
// latest timestamp to the requesting session.
func (c *Coordinator) HandleFetchList(ctx context.Context, origin Session, callbackID string) error {
	c.mu.Lock()
	message, err := c.listMessage(ctx, callbackID)
	c.mu.Unlock()
	if err != nil {
		return newCoordinatorError(opFetchList, "snapshot_failed", err)
	}
	if err := origin.Send(message); err != nil {
		c.logger.Warn("fetch list response dropped",
			zap.String("session_id", origin.ID()), zap.Error(err))
	}
	return nil
}

// HandleOfflineSync reconciles a reconnecting client's batch against the
// history recorded since its cursor, applies whatever survives, broadcasts
// a refreshed document list to every connection including the requester and
// finally acknowledges the requester with an explicit success flag. A merge
// failure rejects the whole batch; nothing is applied.
func (c *Coordinator) HandleOfflineSync(ctx context.Context, origin Session, envelope Envelope) error {
	since := int64(0)
	if envelope.LastTimestamp != nil {
		since = *envelope.LastTimestamp
	}

	if err := c.applyOfflineBatch(ctx, since, envelope.Changes); err != nil {
		c.ackOfflineSync(origin, envelope.CallbackID, false)
		if errors.Is(err, ErrMergeFailed) {
			c.logger.Info("offline batch rejected",
				zap.String("session_id", origin.ID()),
				zap.Int64("cursor", since),
				zap.Int("proposed", len(envelope.Changes)),
				zap.Error(err))
			return nil
		}
		return newCoordinatorError(opOfflineSync, "apply_failed", err)
	}

	c.ackOfflineSync(origin, envelope.CallbackID, true)
	return nil
}

// applyOfflineBatch runs read-journal, reconcile and apply as one serialized
// unit and broadcasts the refreshed list before releasing the lock, so a
// refresh from a later sync can never reach clients ahead of this one.
func (c *Coordinator) applyOfflineBatch(ctx context.Context, since int64, proposed []Change) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	history, err := c.journal.After(ctx, since)
	if err != nil {
		return err
	}
	accepted, err := Reconcile(history, proposed)
	if err != nil {
		return err
	}
	for _, change := range accepted {
		if err := c.applyChange(ctx, change); err != nil {
			return err
		}
	}

	refresh, err := c.listMessage(ctx, "")
	if err != nil {
		return err
	}
	c.publisher.Publish(refresh)
	return nil
}

func (c *Coordinator) ackOfflineSync(origin Session, callbackID string, success bool) {
	if err := origin.Send(SyncAckMessage{
		MsgType:    MsgTypeOfflineSync,
		CallbackID: callbackID,
		Success:    success,
	}); err != nil {
		c.logger.Warn("offline sync ack dropped",
			zap.String("session_id", origin.ID()), zap.Error(err))
	}
}

// applyChange journals the change and then dispatches it to the store.
// Only structurally valid changes reach the journal: every journaled record
// must stay interpretable by later history folds, so a payload missing its
// document id or carrying undecodable content is skipped here rather than
// recorded. This also covers batches admitted through the empty-history
// fast path, which are not validated during reconciliation. Storage faults
// propagate. Callers hold the coordinator mutex.
func (c *Coordinator) applyChange(ctx context.Context, change Change) error {
	if err := change.Validate(); err != nil {
		c.logger.Warn("unjournalable change skipped",
			zap.String("document_id", change.Document), zap.Error(err))
		return nil
	}

	encoded, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if err := c.journal.Append(ctx, &journal.ChangeRecord{
		Timestamp:  change.Timestamp,
		Type:       string(change.Type),
		ChangeJSON: string(encoded),
	}); err != nil {
		return err
	}

	if err := c.dispatchChange(ctx, change); err != nil {
		var malformedErr *MalformedChangeError
		if errors.As(err, &malformedErr) || errors.Is(err, docs.ErrInvalidDocumentID) {
			c.logger.Warn("malformed change skipped",
				zap.String("document_id", change.Document), zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

func (c *Coordinator) dispatchChange(ctx context.Context, change Change) error {
	documentID, err := docs.NewDocumentID(change.Document)
	if err != nil {
		return err
	}

	switch change.Type {
	case ChangeTypeCreate:
		content, err := ParseContent(change.Content)
		if err != nil {
			return err
		}
		return c.store.Create(ctx, documentID, change.Title, content)
	case ChangeTypeUpdate:
		if change.TextChange != nil {
			if err := c.store.ApplyTextUpdate(ctx, documentID, *change.TextChange); err != nil {
				return err
			}
		}
		if change.isChecklistUpdate() {
			return c.store.ApplyChecklistUpdate(ctx, documentID, func(entries []docs.Entry) []docs.Entry {
				return applyEntryOperations(entries, change)
			})
		}
		return nil
	case ChangeTypeDelete:
		return c.store.Delete(ctx, documentID)
	}
	return nil
}

// applyEntryOperations applies the entry operations a single update change
// carries, in a fixed order: add, change, remove, reorder.
func applyEntryOperations(entries []docs.Entry, change Change) []docs.Entry {
	if change.EntryAdd != nil {
		entries = docs.AddEntry(entries, docs.Entry{
			ID:      change.EntryAdd.ID,
			Text:    change.EntryAdd.Text,
			Crossed: change.EntryAdd.CrossedState,
		}, change.EntryAdd.AtTop)
	}
	if change.EntryChange != nil {
		entries = docs.ChangeEntry(entries, change.EntryChange.ID,
			change.EntryChange.NewText, change.EntryChange.NewCrossedState)
	}
	if change.EntryRemove != nil {
		entries = docs.RemoveEntry(entries, *change.EntryRemove)
	}
	if len(change.EntryReorder) > 0 {
		entries = docs.ReorderEntries(entries, change.EntryReorder)
	}
	return entries
}

// listMessage builds the fetchList-shaped snapshot. Callers hold the
// coordinator mutex.
func (c *Coordinator) listMessage(ctx context.Context, callbackID string) (ListMessage, error) {
	documents, err := c.store.List(ctx)
	if err != nil {
		return ListMessage{}, err
	}
	views := make([]docs.View, 0, len(documents))
	for _, document := range documents {
		views = append(views, document.View())
	}

	latest, err := c.journal.Latest(ctx)
	if err != nil {
		return ListMessage{}, err
	}
	message := ListMessage{
		MsgType:    MsgTypeFetchList,
		CallbackID: callbackID,
		List:       views,
	}
	if latest != nil {
		timestamp := latest.Timestamp
		message.LastTimestamp = &timestamp
	}
	return message, nil
}
