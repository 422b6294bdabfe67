package arancel

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hazyhaar/arancel/builder"
	"github.com/hazyhaar/arancel/tariff"
)

// recordHeaders maps accepted CSV header names to record fields.
var recordHeaders = map[string]func(*tariff.Record, string){
	"ncm":         func(r *tariff.Record, v string) { r.Code = v },
	"code":        func(r *tariff.Record, v string) { r.Code = v },
	"descripcion": func(r *tariff.Record, v string) { r.Description = v },
	"description": func(r *tariff.Record, v string) { r.Description = v },
	"aec":         func(r *tariff.Record, v string) { r.AEC = v },
	"cl":          func(r *tariff.Record, v string) { r.CL = v },
	"e/z":         func(r *tariff.Record, v string) { r.EZ = v },
	"ez":          func(r *tariff.Record, v string) { r.EZ = v },
	"i/z":         func(r *tariff.Record, v string) { r.IZ = v },
	"iz":          func(r *tariff.Record, v string) { r.IZ = v },
	"uvf":         func(r *tariff.Record, v string) { r.UVF = v },
	"section":     func(r *tariff.Record, v string) { r.Section = v },
	"seccion":     func(r *tariff.Record, v string) { r.Section = v },
	"chapter":     func(r *tariff.Record, v string) { r.Chapter = v },
	"capitulo":    func(r *tariff.Record, v string) { r.Chapter = v },
}

var errNoCodeColumn = errors.New("no NCM or code column")

// ReadRecordsCSV reads tariff records from a CSV file with a header row.
// Unknown columns are ignored; rows with an empty code are skipped.
func ReadRecordsCSV(r io.Reader) ([]tariff.Record, error) {
	cr := newCSVReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("arancel: records header: %w", err)
	}
	setters := make([]func(*tariff.Record, string), len(header))
	hasCode := false
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		setters[i] = recordHeaders[key]
		if key == "ncm" || key == "code" {
			hasCode = true
		}
	}
	if !hasCode {
		return nil, fmt.Errorf("arancel: records: %w", errNoCodeColumn)
	}

	var out []tariff.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("arancel: records: %w", err)
		}
		var rec tariff.Record
		for i, v := range row {
			if i < len(setters) && setters[i] != nil {
				setters[i](&rec, strings.TrimSpace(v))
			}
		}
		if rec.Code == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadNotesCSV reads notes from a two-column CSV (identifier, text) with a
// header row. Identifiers may be decimal or roman and are stored under
// their two-digit key.
func ReadNotesCSV(r io.Reader, roman tariff.RomanTable) ([]tariff.Note, error) {
	cr := newCSVReader(r)
	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("arancel: notes header: %w", err)
	}
	var out []tariff.Note
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("arancel: notes: %w", err)
		}
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		key, ok := tariff.NormalizeKey(row[0], roman)
		if !ok {
			return nil, fmt.Errorf("arancel: notes line %d: %w %q", line, tariff.ErrUnrecognizedKey, row[0])
		}
		out = append(out, tariff.Note{Key: key, Text: strings.TrimSpace(row[1])})
	}
	return out, nil
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// DatasetFiles names the CSV inputs of a build. Notes files are optional.
type DatasetFiles struct {
	Records      string
	SectionNotes string
	ChapterNotes string
}

// LoadDataset reads the CSV files into a builder dataset.
func LoadDataset(files DatasetFiles, roman tariff.RomanTable) (builder.Dataset, error) {
	var ds builder.Dataset
	err := withFile(files.Records, func(r io.Reader) (err error) {
		ds.Records, err = ReadRecordsCSV(r)
		return err
	})
	if err != nil {
		return ds, err
	}
	if files.SectionNotes != "" {
		err = withFile(files.SectionNotes, func(r io.Reader) (err error) {
			ds.SectionNotes, err = ReadNotesCSV(r, roman)
			return err
		})
		if err != nil {
			return ds, err
		}
	}
	if files.ChapterNotes != "" {
		err = withFile(files.ChapterNotes, func(r io.Reader) (err error) {
			ds.ChapterNotes, err = ReadNotesCSV(r, roman)
			return err
		})
	}
	return ds, err
}

func withFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("arancel: %w", err)
	}
	defer f.Close()
	if err := fn(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
