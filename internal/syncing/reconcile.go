package syncing

import (
	"fmt"

	"github.com/scribepad/scribepad/backend/internal/docs"
	"github.com/scribepad/scribepad/backend/internal/journal"
)

// Reconcile merges a reconnecting client's proposed batch against the server
// history recorded since the client's cursor. It returns the subsequence of
// proposed changes that survive last-writer-wins comparison, in original
// order, with entry ids rewritten where they collided with concurrently
// created entries. The input batch is never mutated.
//
// Any malformed payload, in the history or in the batch, aborts the whole
// batch with ErrMergeFailed: nothing is admitted, nothing is applied.
func Reconcile(history []journal.ChangeRecord, proposed []Change) ([]Change, error) {
	// Fast path: nobody touched the store since the client's last sync.
	if len(history) == 0 {
		return proposed, nil
	}

	shadows, err := buildShadows(history)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMergeFailed, err)
	}

	substitutions := make(map[string]map[int64]int64)
	accepted := make([]Change, 0, len(proposed))

	for _, original := range proposed {
		change := original.clone()
		if err := change.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMergeFailed, err)
		}
		substitute(substitutions[change.Document], &change)

		shadow := shadows[change.Document]
		if shadow == nil {
			// Untouched document: no conflict is possible.
			accepted = append(accepted, change)
			continue
		}

		switch shadow.state {
		case shadowCreated, shadowDeleted:
			// Never double-create or silently resurrect a document the
			// server created or deleted while the client was away.
			continue
		}

		switch change.Type {
		case ChangeTypeCreate:
			continue
		case ChangeTypeDelete:
			if shadow.timestamp < change.Timestamp {
				accepted = append(accepted, change)
			}
		case ChangeTypeUpdate:
			if shadow.kind != docs.KindChecklist || !change.isChecklistUpdate() {
				// Text documents conflict at whole-document granularity.
				if shadow.timestamp < change.Timestamp {
					accepted = append(accepted, change)
				}
				continue
			}
			if admitChecklistUpdate(shadow, &change, substitutions) {
				accepted = append(accepted, change)
			}
		}
	}

	return accepted, nil
}

type shadowState int

const (
	shadowUpdated shadowState = iota + 1
	shadowCreated
	shadowDeleted
)

// entryShadow tracks server-side activity on one checklist entry since the
// client's cursor. Text and crossed state carry independent sub-timestamps.
type entryShadow struct {
	textTimestamp    int64
	hasText          bool
	crossedTimestamp int64
	hasCrossed       bool
	removed          bool
}

func (e *entryShadow) lastUpdate() (int64, bool) {
	switch {
	case e.hasText && e.hasCrossed:
		if e.textTimestamp > e.crossedTimestamp {
			return e.textTimestamp, true
		}
		return e.crossedTimestamp, true
	case e.hasText:
		return e.textTimestamp, true
	case e.hasCrossed:
		return e.crossedTimestamp, true
	default:
		return 0, false
	}
}

// documentShadow summarizes what happened to one document on the server
// since the client's cursor.
type documentShadow struct {
	state      shadowState
	kind       docs.Kind
	timestamp  int64
	entries    map[int64]*entryShadow
	maxEntryID int64
}

func (s *documentShadow) entry(id int64) *entryShadow {
	if s.entries == nil {
		s.entries = make(map[int64]*entryShadow)
	}
	shadow, ok := s.entries[id]
	if !ok {
		shadow = &entryShadow{}
		s.entries[id] = shadow
	}
	return shadow
}

// buildShadows folds the journal history, oldest first, into per-document
// shadows.
func buildShadows(history []journal.ChangeRecord) (map[string]*documentShadow, error) {
	shadows := make(map[string]*documentShadow)
	for _, record := range history {
		change, err := decodeChange([]byte(record.ChangeJSON))
		if err != nil {
			return nil, err
		}
		if change.Document == "" {
			return nil, malformed("journaled change without document id")
		}

		switch change.Type {
		case ChangeTypeDelete:
			shadow, ok := shadows[change.Document]
			if !ok {
				shadow = &documentShadow{}
				shadows[change.Document] = shadow
			}
			// Deletion is terminal and dominates at decision time.
			shadow.state = shadowDeleted
			shadow.timestamp = record.Timestamp
		case ChangeTypeCreate:
			if _, ok := shadows[change.Document]; ok {
				continue
			}
			content, err := ParseContent(change.Content)
			if err != nil {
				return nil, err
			}
			shadows[change.Document] = &documentShadow{
				state:     shadowCreated,
				kind:      content.Kind(),
				timestamp: record.Timestamp,
			}
		case ChangeTypeUpdate:
			shadow, ok := shadows[change.Document]
			if !ok {
				shadow = &documentShadow{state: shadowUpdated}
				shadows[change.Document] = shadow
			}
			foldUpdate(shadow, change, record.Timestamp)
		default:
			return nil, malformed("journaled change with unknown type %q", change.Type)
		}
	}
	return shadows, nil
}

func foldUpdate(shadow *documentShadow, change Change, timestamp int64) {
	shadow.timestamp = timestamp
	if shadow.kind == "" {
		if change.isChecklistUpdate() {
			shadow.kind = docs.KindChecklist
		} else if change.TextChange != nil {
			shadow.kind = docs.KindText
		}
	}

	if change.EntryAdd != nil {
		shadow.entry(change.EntryAdd.ID)
		if change.EntryAdd.ID > shadow.maxEntryID {
			shadow.maxEntryID = change.EntryAdd.ID
		}
	}
	if change.EntryChange != nil {
		entry := shadow.entry(change.EntryChange.ID)
		if change.EntryChange.NewText != nil {
			entry.textTimestamp = timestamp
			entry.hasText = true
		}
		if change.EntryChange.NewCrossedState != nil {
			entry.crossedTimestamp = timestamp
			entry.hasCrossed = true
		}
	}
	if change.EntryRemove != nil {
		shadow.entry(*change.EntryRemove).removed = true
	}
}

// substitute rewrites entry id references according to the active
// substitution table for the change's document. A matching entryRemove
// consumes the mapping: an entry cannot be referenced after removal, so the
// forward scan for that id stops there.
func substitute(mapping map[int64]int64, change *Change) {
	if len(mapping) == 0 {
		return
	}
	if change.EntryChange != nil {
		if newID, ok := mapping[change.EntryChange.ID]; ok {
			change.EntryChange.ID = newID
		}
	}
	for index, id := range change.EntryReorder {
		if newID, ok := mapping[id]; ok {
			change.EntryReorder[index] = newID
		}
	}
	if change.EntryRemove != nil {
		if newID, ok := mapping[*change.EntryRemove]; ok {
			oldID := *change.EntryRemove
			*change.EntryRemove = newID
			delete(mapping, oldID)
		}
	}
}

// admitChecklistUpdate applies the per-entry decision rules. Every operation
// the change carries must pass; entry additions always pass but consume a
// fresh id from the shadow's running counter, and the old id is recorded in
// the substitution table for the rest of the batch.
func admitChecklistUpdate(shadow *documentShadow, change *Change, substitutions map[string]map[int64]int64) bool {
	if change.EntryChange != nil {
		entry := shadow.entries[change.EntryChange.ID]
		if entry != nil {
			if change.EntryChange.NewText != nil && entry.hasText && entry.textTimestamp >= change.Timestamp {
				return false
			}
			if change.EntryChange.NewCrossedState != nil && entry.hasCrossed && entry.crossedTimestamp >= change.Timestamp {
				return false
			}
		}
	}

	if change.EntryRemove != nil {
		entry := shadow.entries[*change.EntryRemove]
		if entry != nil && !entry.removed {
			if last, updated := entry.lastUpdate(); updated && last >= change.Timestamp {
				return false
			}
		}
	}

	if change.EntryAdd != nil {
		shadow.maxEntryID++
		newID := shadow.maxEntryID
		oldID := change.EntryAdd.ID
		change.EntryAdd.ID = newID
		if oldID != newID {
			mapping := substitutions[change.Document]
			if mapping == nil {
				mapping = make(map[int64]int64)
				substitutions[change.Document] = mapping
			}
			mapping[oldID] = newID
		}
	}

	return true
}
