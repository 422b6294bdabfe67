package builder

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/guard"
	"github.com/hazyhaar/arancel/observability"
	"github.com/hazyhaar/arancel/snapshot"
	"github.com/hazyhaar/arancel/tariff"
)

// BatchError reports the batch whose transaction failed. Batches before it
// are committed; the snapshot is left on disk for inspection.
type BatchError struct {
	Table  string
	Batch  int
	Offset int
	Err    error

	// Attempts is how many times the batch transaction ran.
	Attempts int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("builder: insert into %s: batch %d (rows from %d): %v", e.Table, e.Batch, e.Offset, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Build is an open snapshot being populated.
type Build struct {
	Snapshot snapshot.Snapshot
	ID       string
	Source   string
	// Existed is true when Create found the version already on disk.
	Existed bool

	builder  *Builder
	db       *sql.DB
	inserted map[string]int
	done     bool
}

// BulkInsert appends rows to table in batches of the builder's batch size,
// one transaction per batch. It returns the number of rows committed.
func (bd *Build) BulkInsert(ctx context.Context, table string, rows tariff.Rows) (int, error) {
	if bd.Existed {
		return 0, ErrImmutable
	}
	if bd.done {
		return 0, ErrFinished
	}
	if err := guard.ValidateIdentifier(table); err != nil {
		return 0, fmt.Errorf("builder: %w", err)
	}
	ok, err := dbopen.HasTable(ctx, bd.db, table)
	if err != nil {
		return 0, fmt.Errorf("builder: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("builder: table %s is not in the snapshot schema", table)
	}
	if len(rows.Columns) == 0 {
		return 0, fmt.Errorf("builder: insert into %s: no columns", table)
	}

	cols := make([]string, len(rows.Columns))
	for i, c := range rows.Columns {
		cols[i] = guard.QuoteIdent(c)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		guard.QuoteIdent(table), strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	size := bd.builder.batchSize
	total := 0
	for start := 0; start < len(rows.Values); start += size {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("builder: insert into %s: %w", table, err)
		}
		end := min(start+size, len(rows.Values))
		batch := rows.Values[start:end]
		err := dbopen.RunTx(ctx, bd.db, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, query)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for i, row := range batch {
				if len(row) != len(cols) {
					return fmt.Errorf("row %d: %d values for %d columns", start+i, len(row), len(cols))
				}
				if _, err := stmt.ExecContext(ctx, row...); err != nil {
					return fmt.Errorf("row %d: %w", start+i, err)
				}
			}
			return nil
		}, bd.builder.retry...)
		if err != nil {
			berr := &BatchError{Table: table, Batch: start / size, Offset: start, Attempts: dbopen.Attempts(err), Err: err}
			bd.builder.logger.ErrorContext(ctx, "builder: batch failed",
				"version", bd.Snapshot.Version, "table", table, "batch", berr.Batch,
				"attempts", berr.Attempts, "error", err)
			return total, berr
		}
		total += len(batch)
		bd.builder.logger.DebugContext(ctx, "builder: batch committed",
			"table", table, "batch", start/size, "rows", total)
	}
	bd.inserted[table] += total
	return total, nil
}

// Inserted returns rows committed per table so far.
func (bd *Build) Inserted() map[string]int {
	out := make(map[string]int, len(bd.inserted))
	for k, v := range bd.inserted {
		out[k] = v
	}
	return out
}

// Finish marks the snapshot complete, closes it and advances the latest
// pointer. It is the last step of a successful build.
func (bd *Build) Finish(ctx context.Context) (snapshot.PointerUpdate, error) {
	b := bd.builder
	if bd.done {
		return snapshot.PointerUpdate{}, ErrFinished
	}
	bd.done = true

	if !bd.Existed {
		if err := tariff.SetMetadata(ctx, bd.db, tariff.MetaStatus, tariff.StatusComplete); err != nil {
			bd.db.Close()
			return snapshot.PointerUpdate{}, fmt.Errorf("builder: finish %s: %w", bd.Snapshot.Version, err)
		}
		if err := bd.db.Close(); err != nil {
			return snapshot.PointerUpdate{}, fmt.Errorf("builder: close %s: %w", bd.Snapshot.Version, err)
		}
	}

	upd, err := b.store.UpdateLatestPointer(ctx)
	if err != nil {
		return upd, fmt.Errorf("builder: %w", err)
	}
	if !bd.Existed {
		details := map[string]any{"source": bd.Source, "pointer": upd.Version, "rows": bd.Inserted()}
		if upd.Warning != nil {
			details["pointer_warning"] = upd.Warning.Error()
		}
		b.events.LogEvent(ctx, observability.Event{
			Type: observability.EventBuild, RunID: bd.ID, Version: bd.Snapshot.Version,
			Details: details, Success: true,
		})
		b.logger.InfoContext(ctx, "builder: snapshot complete",
			"version", bd.Snapshot.Version, "build_id", bd.ID, "latest", upd.Version)
	}
	return upd, nil
}

// Close abandons the build without finishing it. The file keeps
// status=building and the latest pointer is not moved.
func (bd *Build) Close() error {
	if bd.done || bd.db == nil {
		return nil
	}
	bd.done = true
	return bd.db.Close()
}
