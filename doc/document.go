package doc

import (
	"fmt"
	"unicode/utf16"
)

// Document is a mutable text buffer addressed in UTF-16 code units.
// Operation positions index that sequence, so a character outside the BMP
// counts as two positions, exactly as it does in the clients' editors.
type Document struct {
	units []uint16
}

// New creates a document with the given initial content.
func New(content string) *Document {
	return &Document{units: utf16.Encode([]rune(content))}
}

// Len returns the document length in code units.
func (d *Document) Len() int { return len(d.units) }

// String returns the document contents.
func (d *Document) String() string {
	return string(utf16.Decode(d.units))
}

// Insert splices text into the buffer at pos. Inserting at Len() appends.
func (d *Document) Insert(pos int, text string) error {
	if pos < 0 || pos > len(d.units) {
		return fmt.Errorf("insert at %d out of range (document length %d)", pos, len(d.units))
	}
	ins := utf16.Encode([]rune(text))
	out := make([]uint16, 0, len(d.units)+len(ins))
	out = append(out, d.units[:pos]...)
	out = append(out, ins...)
	out = append(out, d.units[pos:]...)
	d.units = out
	return nil
}

// Delete removes count code units starting at pos.
func (d *Document) Delete(pos, count int) error {
	if pos < 0 || count < 0 || pos+count > len(d.units) {
		return fmt.Errorf("delete [%d, %d) out of range (document length %d)", pos, pos+count, len(d.units))
	}
	out := make([]uint16, 0, len(d.units)-count)
	out = append(out, d.units[:pos]...)
	out = append(out, d.units[pos+count:]...)
	d.units = out
	return nil
}

// Apply mutates the document according to op. Callers validate first; Apply
// still bounds-checks and leaves the buffer unchanged on error.
func (d *Document) Apply(op Operation) error {
	switch op.Type {
	case OpInsert:
		return d.Insert(op.Position, op.Content)
	case OpDelete:
		return d.Delete(op.Position, op.Length)
	case OpRetain:
		return nil
	}
	return fmt.Errorf("unknown operation type %q", op.Type)
}
