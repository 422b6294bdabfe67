package tariff

import (
	"errors"
	"fmt"
)

// ErrUnrecognizedKey is returned for a section or chapter identifier that
// NormalizeKey cannot map to a two-digit key.
var ErrUnrecognizedKey = errors.New("tariff: unrecognized section or chapter identifier")

// NoteKind distinguishes section annotations from chapter annotations.
type NoteKind string

const (
	SectionNote NoteKind = "section"
	ChapterNote NoteKind = "chapter"
)

// Table returns the snapshot table holding notes of this kind.
func (k NoteKind) Table() string {
	if k == SectionNote {
		return TableSectionNotes
	}
	return TableChapterNotes
}

// KeyColumn returns the key column of Table().
func (k NoteKind) KeyColumn() string {
	if k == SectionNote {
		return "section_number"
	}
	return "chapter_number"
}

// Note is a free-text annotation keyed by a two-digit section or chapter
// number. Found is false when the identifier was not recognized or the
// snapshot has no note for it; Text is then empty.
type Note struct {
	Kind  NoteKind `json:"kind"`
	Key   string   `json:"key"`
	Text  string   `json:"text"`
	Found bool     `json:"found"`
}

// NormalizeNotes returns notes keyed by their two-digit form, so "VII",
// "7" and "VII - Plastics" are all stored as "07". It fails on the first
// identifier it does not recognize.
func NormalizeNotes(kind NoteKind, notes []Note, roman RomanTable) ([]Note, error) {
	out := make([]Note, 0, len(notes))
	for _, n := range notes {
		key, ok := NormalizeKey(n.Key, roman)
		if !ok {
			return nil, fmt.Errorf("%w: %s %q", ErrUnrecognizedKey, kind, n.Key)
		}
		n.Kind, n.Key = kind, key
		out = append(out, n)
	}
	return out, nil
}
