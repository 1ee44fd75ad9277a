package syncing

import (
	"encoding/json"
	"testing"

	"github.com/scribepad/scribepad/backend/internal/journal"
)

func mustRecord(t *testing.T, change Change) journal.ChangeRecord {
	t.Helper()
	encoded, err := json.Marshal(change)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	return journal.ChangeRecord{
		Timestamp:  change.Timestamp,
		Type:       string(change.Type),
		ChangeJSON: string(encoded),
	}
}

func createTextChange(document string, timestamp int64, title, text string) Change {
	content, _ := json.Marshal(text)
	return Change{
		Type:      ChangeTypeCreate,
		Timestamp: timestamp,
		Document:  document,
		Title:     title,
		Content:   json.RawMessage(content),
	}
}

func createChecklistChange(document string, timestamp int64, title string, entriesJSON string) Change {
	return Change{
		Type:      ChangeTypeCreate,
		Timestamp: timestamp,
		Document:  document,
		Title:     title,
		Content:   json.RawMessage(entriesJSON),
	}
}

func textUpdateChange(document string, timestamp int64, text string) Change {
	return Change{
		Type:       ChangeTypeUpdate,
		Timestamp:  timestamp,
		Document:   document,
		TextChange: &text,
	}
}

func deleteChange(document string, timestamp int64) Change {
	return Change{
		Type:      ChangeTypeDelete,
		Timestamp: timestamp,
		Document:  document,
	}
}

func entryAddChange(document string, timestamp, id int64, text string) Change {
	return Change{
		Type:      ChangeTypeUpdate,
		Timestamp: timestamp,
		Document:  document,
		EntryAdd:  &EntryAdd{ID: id, Text: text},
	}
}

func entryTextChange(document string, timestamp, id int64, text string) Change {
	return Change{
		Type:        ChangeTypeUpdate,
		Timestamp:   timestamp,
		Document:    document,
		EntryChange: &EntryChange{ID: id, NewText: &text},
	}
}

func entryCrossedChange(document string, timestamp, id int64, crossed bool) Change {
	return Change{
		Type:        ChangeTypeUpdate,
		Timestamp:   timestamp,
		Document:    document,
		EntryChange: &EntryChange{ID: id, NewCrossedState: &crossed},
	}
}

func entryRemoveChange(document string, timestamp, id int64) Change {
	return Change{
		Type:        ChangeTypeUpdate,
		Timestamp:   timestamp,
		Document:    document,
		EntryRemove: &id,
	}
}

func entryReorderChange(document string, timestamp int64, order []int64) Change {
	return Change{
		Type:         ChangeTypeUpdate,
		Timestamp:    timestamp,
		Document:     document,
		EntryReorder: order,
	}
}
