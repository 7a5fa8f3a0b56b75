package doc

import "unicode/utf16"

// Operation types.
const (
	OpInsert = "insert"
	OpDelete = "delete"
	OpRetain = "retain"
)

// Operation is a single edit positioned in UTF-16 code units, matching the
// string indexing of the editing clients. Insert carries Content, delete and
// retain carry Length. Retain is a cursor-positioning no-op on the text.
type Operation struct {
	Type      string `json:"type"`
	Position  int    `json:"position"`
	Content   string `json:"content,omitempty"`
	Length    int    `json:"length,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	ID        string `json:"id,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
}

func (op Operation) IsInsert() bool { return op.Type == OpInsert }
func (op Operation) IsDelete() bool { return op.Type == OpDelete }
func (op Operation) IsRetain() bool { return op.Type == OpRetain }

// ContentLen returns the insert content length in code units.
func (op Operation) ContentLen() int {
	return len(utf16.Encode([]rune(op.Content)))
}

// Validate reports whether op can be applied to a document of docLen code
// units. Inserting at docLen (appending) is allowed.
func (op Operation) Validate(docLen int) bool {
	if op.Position < 0 || op.Position > docLen {
		return false
	}
	switch op.Type {
	case OpInsert:
		return op.Content != ""
	case OpDelete:
		return op.Length > 0 && op.Position+op.Length <= docLen
	case OpRetain:
		return op.Length > 0
	}
	return false
}

// NewInsert creates an insert of text at pos.
func NewInsert(pos int, text string) Operation {
	return Operation{Type: OpInsert, Position: pos, Content: text}
}

// NewDelete creates a delete of count code units at pos.
func NewDelete(pos, count int) Operation {
	return Operation{Type: OpDelete, Position: pos, Length: count}
}

// NewRetain creates a retain of count code units at pos.
func NewRetain(pos, count int) Operation {
	return Operation{Type: OpRetain, Position: pos, Length: count}
}
