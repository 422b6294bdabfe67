package builder

import (
	"context"
	"fmt"

	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/observability"
	"github.com/hazyhaar/arancel/snapshot"
	"github.com/hazyhaar/arancel/tariff"
)

// Dataset is everything one import produces for a snapshot.
type Dataset struct {
	Records      []tariff.Record
	SectionNotes []tariff.Note
	ChapterNotes []tariff.Note
}

// LoadResult summarizes Load.
type LoadResult struct {
	Snapshot snapshot.Snapshot      `json:"snapshot"`
	BuildID  string                 `json:"build_id,omitempty"`
	Existed  bool                   `json:"existed"`
	Rows     map[string]int         `json:"rows,omitempty"`
	Pointer  snapshot.PointerUpdate `json:"pointer"`
}

// Load builds a complete snapshot from ds: tariff lines, their history
// rows, then section and chapter notes. Note keys are normalized first; an
// unrecognized key fails the load before any file is created. When the
// version already exists it is left untouched and only the pointer is
// reconciled.
func (b *Builder) Load(ctx context.Context, versionID, source string, ds Dataset) (*LoadResult, error) {
	var err error
	if ds.SectionNotes, err = tariff.NormalizeNotes(tariff.SectionNote, ds.SectionNotes, b.roman); err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}
	if ds.ChapterNotes, err = tariff.NormalizeNotes(tariff.ChapterNote, ds.ChapterNotes, b.roman); err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}

	bd, err := b.Create(ctx, versionID, source)
	if err != nil {
		return nil, err
	}
	res := &LoadResult{Snapshot: bd.Snapshot, BuildID: bd.ID, Existed: bd.Existed}
	if bd.Existed {
		upd, err := bd.Finish(ctx)
		res.Pointer = upd
		return res, err
	}

	if err := b.loadTables(ctx, bd, ds); err != nil {
		bd.Close()
		b.events.LogEvent(ctx, observability.Event{
			Type: observability.EventBuild, RunID: bd.ID, Version: bd.Snapshot.Version,
			Details: map[string]any{"stage": "load", "source": source, "error": err.Error(), "rows": bd.Inserted()},
		})
		return res, err
	}

	upd, err := bd.Finish(ctx)
	res.Pointer = upd
	res.Rows = bd.Inserted()
	return res, err
}

func (b *Builder) loadTables(ctx context.Context, bd *Build, ds Dataset) error {
	if _, err := bd.BulkInsert(ctx, tariff.TableTariff, tariff.RecordRows(ds.Records)); err != nil {
		return err
	}

	hasHistory, err := dbopen.HasTable(ctx, bd.db, tariff.TableCodeHistory)
	if err != nil {
		return fmt.Errorf("builder: %w", err)
	}
	if hasHistory {
		versionDate := bd.Snapshot.Version[:4] + "-" + bd.Snapshot.Version[4:6] + "-01"
		rows := tariff.HistoryRows(ds.Records, versionDate, bd.Source, b.now())
		if _, err := bd.BulkInsert(ctx, tariff.TableCodeHistory, rows); err != nil {
			return err
		}
	} else {
		b.logger.DebugContext(ctx, "builder: template has no code history table, skipping")
	}

	if len(ds.SectionNotes) > 0 {
		if _, err := bd.BulkInsert(ctx, tariff.TableSectionNotes, tariff.SectionNoteRows(ds.SectionNotes)); err != nil {
			return err
		}
	}
	if len(ds.ChapterNotes) > 0 {
		if _, err := bd.BulkInsert(ctx, tariff.TableChapterNotes, tariff.ChapterNoteRows(ds.ChapterNotes)); err != nil {
			return err
		}
	}
	return nil
}
