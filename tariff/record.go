package tariff

import (
	"strconv"
	"strings"
	"time"
)

// Record is one tariff line of a snapshot.
type Record struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	AEC         string `json:"aec,omitempty"`
	CL          string `json:"cl,omitempty"`
	EZ          string `json:"ez,omitempty"`
	IZ          string `json:"iz,omitempty"`
	UVF         string `json:"uvf,omitempty"`
	Section     string `json:"section,omitempty"`
	Chapter     string `json:"chapter,omitempty"`
}

// RecordColumns is the column list of TableTariff, in the order of the
// Record fields. It is the only place the mapping is spelled out.
var RecordColumns = []string{"NCM", "DESCRIPCION", "AEC", "CL", "E/Z", "I/Z", "UVF", "SECTION", "CHAPTER"}

// ScanDest returns pointers to r's fields in RecordColumns order. Nullable
// columns are read through COALESCE by the queries that use it.
func (r *Record) ScanDest() []any {
	return []any{&r.Code, &r.Description, &r.AEC, &r.CL, &r.EZ, &r.IZ, &r.UVF, &r.Section, &r.Chapter}
}

func (r Record) values() []any {
	return []any{r.Code, r.Description, r.AEC, r.CL, r.EZ, r.IZ, r.UVF, r.Section, r.Chapter}
}

// Rows is a batch of tabular data for a bulk insert.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Len returns the number of rows.
func (r Rows) Len() int { return len(r.Values) }

// RecordRows converts records to TableTariff rows.
func RecordRows(recs []Record) Rows {
	out := Rows{Columns: RecordColumns, Values: make([][]any, 0, len(recs))}
	for _, r := range recs {
		out.Values = append(out.Values, r.values())
	}
	return out
}

// SectionNoteRows converts notes keyed by section to TableSectionNotes rows.
func SectionNoteRows(notes []Note) Rows {
	return noteRows(notes, "section_number")
}

// ChapterNoteRows converts notes keyed by chapter to TableChapterNotes rows.
func ChapterNoteRows(notes []Note) Rows {
	return noteRows(notes, "chapter_number")
}

func noteRows(notes []Note, keyCol string) Rows {
	out := Rows{Columns: []string{keyCol, "note_text"}, Values: make([][]any, 0, len(notes))}
	for _, n := range notes {
		out.Values = append(out.Values, []any{n.Key, n.Text})
	}
	return out
}

// HistoryRows converts records to TableCodeHistory rows for one version.
// Rates that do not parse as numbers are stored as NULL.
func HistoryRows(recs []Record, versionDate, sourceFile string, now time.Time) Rows {
	out := Rows{
		Columns: []string{"ncm_code", "version_date", "description", "aec", "ez", "iz", "uvf", "cl", "source_file", "active", "created_at"},
		Values:  make([][]any, 0, len(recs)),
	}
	created := now.UTC().Format(time.RFC3339)
	for _, r := range recs {
		out.Values = append(out.Values, []any{
			r.Code, versionDate, r.Description,
			ParseRate(r.AEC), ParseRate(r.EZ), ParseRate(r.IZ), ParseRate(r.UVF),
			r.CL, sourceFile, 1, created,
		})
	}
	return out
}

// ParseRate reads "12", "12.5", "12,5" or "12%" as a number. It returns nil
// for anything else so the value lands as NULL.
func ParseRate(s string) any {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return nil
	}
	return f
}
