// CLAUDE:SUMMARY Section and chapter note lookup by decimal, roman or composite identifiers, and by tariff code.
package notes

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/resolve"
	"github.com/hazyhaar/arancel/snapshot"
	"github.com/hazyhaar/arancel/tariff"
)

// Resolver reads notes from the snapshot a version token resolves to.
// Lookups never fail for unknown identifiers: they return a Note with
// Found false.
type Resolver struct {
	store  *snapshot.Store
	codes  *resolve.Resolver
	roman  tariff.RomanTable
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRomanTable sets the numeral table for section identifiers.
func WithRomanTable(t tariff.RomanTable) Option { return func(r *Resolver) { r.roman = t } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// New creates a note resolver. codes resolves the record behind a code for
// ForCode and shares the resolver's snapshot store.
func New(codes *resolve.Resolver, opts ...Option) *Resolver {
	r := &Resolver{
		store:  codes.Store(),
		codes:  codes,
		roman:  tariff.NewRomanTable(0),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Section returns the note for a section identifier ("07", "7", "VII",
// "VII - Plastics").
func (r *Resolver) Section(ctx context.Context, token, id string) (tariff.Note, error) {
	return r.Lookup(ctx, token, tariff.SectionNote, id)
}

// Chapter returns the note for a chapter identifier.
func (r *Resolver) Chapter(ctx context.Context, token, id string) (tariff.Note, error) {
	return r.Lookup(ctx, token, tariff.ChapterNote, id)
}

// Lookup returns the note of kind for id. The error is non-nil only when
// no snapshot can be opened.
func (r *Resolver) Lookup(ctx context.Context, token string, kind tariff.NoteKind, id string) (tariff.Note, error) {
	db, _, err := r.store.Open(ctx, token)
	if err != nil {
		return tariff.Note{Kind: kind}, err
	}
	defer db.Close()
	return r.lookupIn(ctx, db, kind, id), nil
}

func (r *Resolver) lookupIn(ctx context.Context, q dbopen.Queryer, kind tariff.NoteKind, id string) tariff.Note {
	n := tariff.Note{Kind: kind}
	key, ok := tariff.NormalizeKey(id, r.roman)
	if !ok {
		return n
	}
	n.Key = key
	query := fmt.Sprintf("SELECT note_text FROM %s WHERE %s = ?", kind.Table(), kind.KeyColumn())
	rows, err := q.QueryContext(ctx, query, key)
	if err != nil {
		r.logger.WarnContext(ctx, "notes: lookup failed", "kind", kind, "key", key, "error", err)
		return n
	}
	defer rows.Close()
	if rows.Next() {
		var text sql.NullString
		if err := rows.Scan(&text); err != nil {
			r.logger.WarnContext(ctx, "notes: scan failed", "kind", kind, "key", key, "error", err)
			return n
		}
		n.Text, n.Found = text.String, true
	}
	return n
}

// CodeNotes are the notes attached to one tariff code through its record.
type CodeNotes struct {
	Snapshot snapshot.Snapshot `json:"snapshot"`
	Record   *tariff.Record    `json:"record,omitempty"`
	Section  tariff.Note       `json:"section"`
	Chapter  tariff.Note       `json:"chapter"`
}

// ForCode resolves code to its record and returns the notes of its section
// and chapter. A record without a usable chapter label falls back to the
// first two digits of its code. Unknown codes yield empty notes.
func (r *Resolver) ForCode(ctx context.Context, token, code string) (*CodeNotes, error) {
	db, snap, err := r.store.Open(ctx, token)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	out := &CodeNotes{
		Snapshot: snap,
		Section:  tariff.Note{Kind: tariff.SectionNote},
		Chapter:  tariff.Note{Kind: tariff.ChapterNote},
	}
	res := r.codes.LookupIn(ctx, db, code, 1)
	if !res.Exact || len(res.Records) == 0 {
		return out, nil
	}
	rec := res.Records[0]
	out.Record = &rec
	out.Section = r.lookupIn(ctx, db, tariff.SectionNote, rec.Section)

	chapter := rec.Chapter
	if _, ok := tariff.NormalizeKey(chapter, r.roman); !ok {
		chapter = tariff.ChapterOf(rec.Code)
	}
	out.Chapter = r.lookupIn(ctx, db, tariff.ChapterNote, chapter)
	return out, nil
}

// Sections lists every section note of a snapshot in key order.
func (r *Resolver) Sections(ctx context.Context, token string) ([]tariff.Note, error) {
	return r.List(ctx, token, tariff.SectionNote)
}

// Chapters lists every chapter note of a snapshot in key order.
func (r *Resolver) Chapters(ctx context.Context, token string) ([]tariff.Note, error) {
	return r.List(ctx, token, tariff.ChapterNote)
}

// List returns all notes of kind. A snapshot without the notes table yields
// an empty list.
func (r *Resolver) List(ctx context.Context, token string, kind tariff.NoteKind) ([]tariff.Note, error) {
	db, _, err := r.store.Open(ctx, token)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	query := fmt.Sprintf("SELECT %s, COALESCE(note_text, '') FROM %s ORDER BY %s",
		kind.KeyColumn(), kind.Table(), kind.KeyColumn())
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		if ok, herr := dbopen.HasTable(ctx, db, kind.Table()); herr == nil && !ok {
			return nil, nil
		}
		return nil, fmt.Errorf("notes: list %s: %w", kind, err)
	}
	defer rows.Close()

	var out []tariff.Note
	for rows.Next() {
		n := tariff.Note{Kind: kind, Found: true}
		if err := rows.Scan(&n.Key, &n.Text); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
