package docs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates the two document content shapes. It is fixed at
// creation time and never changes for the lifetime of a document.
type Kind string

const (
	// KindText marks a document whose content is a single free-text string.
	KindText Kind = "text"
	// KindChecklist marks a document whose content is an ordered entry list.
	KindChecklist Kind = "checklist"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("docs: invalid document id")
	// ErrNotFound indicates that no document exists for the requested identifier.
	ErrNotFound = errors.New("docs: document not found")
	// ErrMalformedContent indicates that stored or supplied content does not match the document kind.
	ErrMalformedContent = errors.New("docs: malformed content")
)

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// Entry is a single checklist item. Entry ids are assigned by the creating
// client and are unique within their owning document only.
type Entry struct {
	ID      int64  `json:"id"`
	Text    string `json:"text"`
	Crossed bool   `json:"crossed"`
}

// Document models the persisted materialized document state. ContentJSON
// holds a JSON string for text documents and a JSON entry array for
// checklists, so it can be embedded verbatim into wire payloads.
type Document struct {
	ID          string `gorm:"column:id;primaryKey;size:190;not null"`
	Locked      bool   `gorm:"column:locked;not null;default:false"`
	Title       string `gorm:"column:title;type:text;not null"`
	Kind        Kind   `gorm:"column:kind;size:16;not null;default:''"`
	ContentJSON string `gorm:"column:content_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Text decodes the content of a text document.
func (d Document) Text() (string, error) {
	if d.Kind != KindText {
		return "", fmt.Errorf("%w: document %q is not a text document", ErrMalformedContent, d.ID)
	}
	var value string
	if err := json.Unmarshal([]byte(d.ContentJSON), &value); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	return value, nil
}

// Entries decodes the content of a checklist document.
func (d Document) Entries() ([]Entry, error) {
	if d.Kind != KindChecklist {
		return nil, fmt.Errorf("%w: document %q is not a checklist", ErrMalformedContent, d.ID)
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(d.ContentJSON), &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	return entries, nil
}

// View is the wire representation of a document served to clients.
type View struct {
	ID      string          `json:"id"`
	Locked  bool            `json:"locked"`
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
}

// View returns the wire representation; content is emitted in its stored
// JSON form (string for text documents, entry array for checklists).
func (d Document) View() View {
	content := d.ContentJSON
	if content == "" {
		if d.Kind == KindChecklist {
			content = "[]"
		} else {
			content = `""`
		}
	}
	return View{
		ID:      d.ID,
		Locked:  d.Locked,
		Title:   d.Title,
		Content: json.RawMessage(content),
	}
}

// Content carries typed document content for creation. The content shape
// supplied at creation irreversibly selects the document kind.
type Content struct {
	kind    Kind
	text    string
	entries []Entry
}

// TextContent builds the content of a new text document.
func TextContent(text string) Content {
	return Content{kind: KindText, text: text}
}

// ChecklistContent builds the content of a new checklist document.
func ChecklistContent(entries []Entry) Content {
	copied := make([]Entry, len(entries))
	copy(copied, entries)
	return Content{kind: KindChecklist, entries: copied}
}

// Kind reports which document kind this content selects.
func (c Content) Kind() Kind {
	return c.kind
}

func (c Content) encode() (string, error) {
	switch c.kind {
	case KindText:
		encoded, err := json.Marshal(c.text)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedContent, err)
		}
		return string(encoded), nil
	case KindChecklist:
		entries := c.entries
		if entries == nil {
			entries = []Entry{}
		}
		encoded, err := json.Marshal(entries)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedContent, err)
		}
		return string(encoded), nil
	default:
		return "", fmt.Errorf("%w: unknown content kind %q", ErrMalformedContent, c.kind)
	}
}
