// Package syncing implements the convergence engine: the change payload
// model, the offline reconciliation algorithm and the coordinator that
// serializes accepted changes into the store and journal.
package syncing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/scribepad/scribepad/backend/internal/docs"
)

// ChangeType enumerates the supported change kinds.
type ChangeType string

const (
	// ChangeTypeCreate introduces a new document.
	ChangeTypeCreate ChangeType = "create"
	// ChangeTypeUpdate mutates an existing document in place.
	ChangeTypeUpdate ChangeType = "update"
	// ChangeTypeDelete removes a document from the store.
	ChangeTypeDelete ChangeType = "delete"
)

// ErrMergeFailed marks an aborted offline batch: nothing was admitted and
// nothing was applied.
var ErrMergeFailed = errors.New("syncing: merge failed")

// MalformedChangeError reports a change payload missing a required field or
// carrying a field of the wrong shape.
type MalformedChangeError struct {
	Reason string
}

func (e *MalformedChangeError) Error() string {
	return fmt.Sprintf("syncing: malformed change: %s", e.Reason)
}

func malformed(format string, args ...any) error {
	return &MalformedChangeError{Reason: fmt.Sprintf(format, args...)}
}

// EntryChange rewrites one or both fields of an existing checklist entry.
// Nil fields are untouched; the two fields conflict independently.
type EntryChange struct {
	ID              int64   `json:"id"`
	NewText         *string `json:"newText,omitempty"`
	NewCrossedState *bool   `json:"newCrossedState,omitempty"`
}

// EntryAdd introduces a new checklist entry with a client-assigned id. The
// id may be rewritten during reconciliation when it collides with a
// concurrently created entry.
type EntryAdd struct {
	ID           int64  `json:"id"`
	Text         string `json:"text"`
	CrossedState bool   `json:"crossedState"`
	AtTop        bool   `json:"atTop,omitempty"`
}

// Change is one proposed edit. Type and Timestamp are always required;
// which of the remaining fields apply depends on the type. Update changes
// may carry any combination of the entry operation fields.
type Change struct {
	Type      ChangeType `json:"type"`
	Timestamp int64      `json:"timestamp"`
	Document  string     `json:"document"`

	// create
	Title   string          `json:"title,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	// update
	TextChange   *string      `json:"textChange,omitempty"`
	EntryChange  *EntryChange `json:"entryChange,omitempty"`
	EntryAdd     *EntryAdd    `json:"entryAdd,omitempty"`
	EntryRemove  *int64       `json:"entryRemove,omitempty"`
	EntryReorder []int64      `json:"entryReorder,omitempty"`
}

// Validate checks the structural requirements for the change's type.
func (c Change) Validate() error {
	if c.Timestamp <= 0 {
		return malformed("timestamp is required")
	}
	if c.Document == "" {
		return malformed("document is required")
	}
	switch c.Type {
	case ChangeTypeCreate:
		if len(c.Content) == 0 {
			return malformed("create for %q carries no content", c.Document)
		}
		if _, err := ParseContent(c.Content); err != nil {
			return err
		}
	case ChangeTypeUpdate:
		if !c.hasUpdateOperation() {
			return malformed("update for %q carries no operation", c.Document)
		}
		if c.EntryChange != nil && c.EntryChange.NewText == nil && c.EntryChange.NewCrossedState == nil {
			return malformed("entryChange for %q touches no field", c.Document)
		}
	case ChangeTypeDelete:
	default:
		return malformed("unknown change type %q", c.Type)
	}
	return nil
}

func (c Change) hasUpdateOperation() bool {
	return c.TextChange != nil ||
		c.EntryChange != nil ||
		c.EntryAdd != nil ||
		c.EntryRemove != nil ||
		len(c.EntryReorder) > 0
}

// isChecklistUpdate reports whether the update carries entry operations.
func (c Change) isChecklistUpdate() bool {
	return c.EntryChange != nil || c.EntryAdd != nil || c.EntryRemove != nil || len(c.EntryReorder) > 0
}

// clone returns a deep copy so a rewritten batch never aliases its input.
func (c Change) clone() Change {
	copied := c
	if c.Content != nil {
		copied.Content = append(json.RawMessage(nil), c.Content...)
	}
	if c.TextChange != nil {
		value := *c.TextChange
		copied.TextChange = &value
	}
	if c.EntryChange != nil {
		entryChange := *c.EntryChange
		if c.EntryChange.NewText != nil {
			text := *c.EntryChange.NewText
			entryChange.NewText = &text
		}
		if c.EntryChange.NewCrossedState != nil {
			crossed := *c.EntryChange.NewCrossedState
			entryChange.NewCrossedState = &crossed
		}
		copied.EntryChange = &entryChange
	}
	if c.EntryAdd != nil {
		entryAdd := *c.EntryAdd
		copied.EntryAdd = &entryAdd
	}
	if c.EntryRemove != nil {
		id := *c.EntryRemove
		copied.EntryRemove = &id
	}
	if c.EntryReorder != nil {
		copied.EntryReorder = append([]int64(nil), c.EntryReorder...)
	}
	return copied
}

// ParseContent decodes a create payload's content field: a JSON string
// selects a text document, a JSON array of entries selects a checklist.
func ParseContent(raw json.RawMessage) (docs.Content, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return docs.Content{}, malformed("content is empty")
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return docs.Content{}, malformed("content is not a valid string: %v", err)
		}
		return docs.TextContent(text), nil
	case '[':
		var entries []docs.Entry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return docs.Content{}, malformed("content is not a valid entry list: %v", err)
		}
		return docs.ChecklistContent(entries), nil
	default:
		return docs.Content{}, malformed("content must be a string or an entry list")
	}
}

// decodeChange parses a journaled or inbound change payload.
func decodeChange(raw []byte) (Change, error) {
	var change Change
	if err := json.Unmarshal(raw, &change); err != nil {
		return Change{}, malformed("undecodable payload: %v", err)
	}
	return change, nil
}
