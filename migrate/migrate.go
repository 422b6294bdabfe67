// CLAUDE:SUMMARY Copies selected tables from one snapshot into another, per-table best effort, in batched transactions.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/guard"
	"github.com/hazyhaar/arancel/idgen"
	"github.com/hazyhaar/arancel/observability"
	"github.com/hazyhaar/arancel/snapshot"
	"github.com/hazyhaar/arancel/tariff"
)

// DefaultBatchSize is the number of rows copied per transaction.
const DefaultBatchSize = 1000

// ErrSameSnapshot is returned when source and target are the same version.
var ErrSameSnapshot = errors.New("migrate: source and target are the same snapshot")

// Table outcomes.
const (
	StatusCopied  = "copied"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// PartialMigrationWarning describes a table that was skipped or failed.
// Batch is -1 when the failure happened outside the batch loop; Attempts is
// then 0.
type PartialMigrationWarning struct {
	Table    string
	Batch    int
	Attempts int
	Err      error
}

func (w *PartialMigrationWarning) Error() string {
	if w.Batch >= 0 {
		return fmt.Sprintf("migrate: table %s: batch %d: %v", w.Table, w.Batch, w.Err)
	}
	return fmt.Sprintf("migrate: table %s: %v", w.Table, w.Err)
}

func (w *PartialMigrationWarning) Unwrap() error { return w.Err }

// TableResult is the outcome for one table.
type TableResult struct {
	Table   string   `json:"table"`
	Status  string   `json:"status"`
	Rows    int      `json:"rows"`
	Batches int      `json:"batches"`
	Columns []string `json:"columns,omitempty"`
	Error   string   `json:"error,omitempty"`

	// Attempts of the failing batch transaction.
	Attempts int `json:"attempts,omitempty"`

	warning *PartialMigrationWarning
}

// Report summarizes a migration run.
type Report struct {
	RunID      string        `json:"run_id"`
	Source     string        `json:"source"`
	Target     string        `json:"target"`
	Tables     []TableResult `json:"tables"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// OK reports whether every table was copied.
func (r *Report) OK() bool {
	for _, t := range r.Tables {
		if t.Status != StatusCopied {
			return false
		}
	}
	return true
}

// Warnings returns one *PartialMigrationWarning per skipped or failed table.
func (r *Report) Warnings() []error {
	var out []error
	for _, t := range r.Tables {
		if t.warning != nil {
			out = append(out, t.warning)
		}
	}
	return out
}

// Migrator copies tables between snapshots of a Store.
type Migrator struct {
	store     *snapshot.Store
	batchSize int
	logger    *slog.Logger
	newID     idgen.Generator
	now       func() time.Time
	events    *observability.EventLogger
	retry     []dbopen.RetryOption
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithBatchSize sets rows per transaction. Default: 1000.
func WithBatchSize(n int) Option { return func(m *Migrator) { m.batchSize = n } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(m *Migrator) { m.logger = l } }

// WithClock sets the time source for the updated_at stamp.
func WithClock(now func() time.Time) Option { return func(m *Migrator) { m.now = now } }

// WithEvents records migrations in the ops log.
func WithEvents(l *observability.EventLogger) Option { return func(m *Migrator) { m.events = l } }

// WithRetry tunes the BUSY retry of every batch transaction.
func WithRetry(opts ...dbopen.RetryOption) Option { return func(m *Migrator) { m.retry = opts } }

// New returns a Migrator over store.
func New(store *snapshot.Store, opts ...Option) *Migrator {
	m := &Migrator{
		store:     store,
		batchSize: DefaultBatchSize,
		newID:     idgen.Prefixed("mig_", idgen.Default),
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.batchSize <= 0 {
		m.batchSize = DefaultBatchSize
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Migrate overwrites the listed tables of target with the rows of source.
// With no tables, every user table of source except the metadata table is
// migrated. Tables absent from either side are skipped; a table that fails
// is reported and the run continues with the next one. The returned error
// is non-nil only when the run could not start.
func (m *Migrator) Migrate(ctx context.Context, source, target string, tables []string) (*Report, error) {
	if source == target {
		return nil, ErrSameSnapshot
	}
	for _, t := range tables {
		if err := guard.ValidateIdentifier(t); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	srcPath, err := m.existing(source)
	if err != nil {
		return nil, err
	}
	dstPath, err := m.existing(target)
	if err != nil {
		return nil, err
	}

	src, err := dbopen.OpenReadOnly(srcPath)
	if err != nil {
		return nil, fmt.Errorf("migrate: open source: %w", err)
	}
	defer src.Close()
	dst, err := dbopen.Open(dstPath, dbopen.WithJournalMode("DELETE"))
	if err != nil {
		return nil, fmt.Errorf("migrate: open target: %w", err)
	}
	defer dst.Close()
	dst.SetMaxOpenConns(1)

	if len(tables) == 0 {
		all, err := dbopen.Tables(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		for _, t := range all {
			if t != tariff.TableMetadata {
				tables = append(tables, t)
			}
		}
	}

	rep := &Report{RunID: m.newID(), Source: source, Target: target, StartedAt: m.now().UTC()}
	m.logger.InfoContext(ctx, "migrate: start", "run_id", rep.RunID, "source", source, "target", target, "tables", len(tables))

	for _, table := range tables {
		res := m.migrateTable(ctx, src, dst, table)
		if res.warning != nil {
			m.logger.WarnContext(ctx, "migrate: table not migrated",
				"run_id", rep.RunID, "table", table, "status", res.Status,
				"attempts", res.Attempts, "error", res.warning.Err)
		} else {
			m.logger.InfoContext(ctx, "migrate: table copied", "run_id", rep.RunID, "table", table, "rows", res.Rows)
		}
		rep.Tables = append(rep.Tables, res)
	}

	stamp := m.now().UTC().Format(time.RFC3339)
	err = dbopen.RunTx(ctx, dst, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, tariff.MetadataSchema); err != nil {
			return err
		}
		return tariff.SetMetadata(ctx, tx, tariff.MetaUpdatedAt, stamp)
	}, m.retry...)
	if err != nil {
		m.logger.WarnContext(ctx, "migrate: could not stamp updated_at", "target", target, "error", err)
	}
	rep.FinishedAt = m.now().UTC()

	summary := make(map[string]any, len(rep.Tables))
	for _, t := range rep.Tables {
		summary[t.Table] = map[string]any{"status": t.Status, "rows": t.Rows}
	}
	m.events.LogEvent(ctx, observability.Event{
		Type: observability.EventMigration, RunID: rep.RunID, Version: target, SourceVersion: source,
		Details: map[string]any{"tables": summary}, Success: rep.OK(),
	})
	return rep, nil
}

func (m *Migrator) existing(version string) (string, error) {
	p, err := m.store.PathFor(version)
	if err != nil {
		return "", fmt.Errorf("migrate: %w", err)
	}
	if !m.store.Exists(version) {
		return "", fmt.Errorf("migrate: %w: version %s", snapshot.ErrNotFound, version)
	}
	return p, nil
}

func (m *Migrator) migrateTable(ctx context.Context, src, dst *sql.DB, table string) TableResult {
	res := TableResult{Table: table}
	fail := func(status string, batch int, err error) TableResult {
		res.Status = status
		res.Error = err.Error()
		res.Attempts = dbopen.Attempts(err)
		res.warning = &PartialMigrationWarning{Table: table, Batch: batch, Attempts: res.Attempts, Err: err}
		return res
	}

	srcCols, err := dbopen.Columns(ctx, src, table)
	if err != nil {
		return fail(StatusFailed, -1, err)
	}
	if len(srcCols) == 0 {
		return fail(StatusSkipped, -1, errors.New("not in source snapshot"))
	}
	dstCols, err := dbopen.Columns(ctx, dst, table)
	if err != nil {
		return fail(StatusFailed, -1, err)
	}
	if len(dstCols) == 0 {
		return fail(StatusSkipped, -1, errors.New("not in target snapshot"))
	}

	cols := sharedColumns(srcCols, dstCols)
	if len(cols) == 0 {
		return fail(StatusSkipped, -1, errors.New("no common columns"))
	}
	res.Columns = cols

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = guard.QuoteIdent(c)
	}
	colList := strings.Join(quoted, ", ")
	qt := guard.QuoteIdent(table)
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", qt, colList,
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	rows, err := src.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", colList, qt))
	if err != nil {
		return fail(StatusFailed, -1, err)
	}
	defer rows.Close()

	batch := make([][]any, 0, m.batchSize)
	flush := func(first bool) error {
		return dbopen.RunTx(ctx, dst, func(tx *sql.Tx) error {
			if first {
				if _, err := tx.ExecContext(ctx, "DELETE FROM "+qt); err != nil {
					return fmt.Errorf("clear target: %w", err)
				}
			}
			if len(batch) == 0 {
				return nil
			}
			stmt, err := tx.PrepareContext(ctx, insert)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, r := range batch {
				if _, err := stmt.ExecContext(ctx, r...); err != nil {
					return err
				}
			}
			return nil
		}, m.retry...)
	}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fail(StatusFailed, res.Batches, err)
		}
		batch = append(batch, vals)
		if len(batch) == m.batchSize {
			if err := ctx.Err(); err != nil {
				return fail(StatusFailed, res.Batches, err)
			}
			if err := flush(res.Batches == 0); err != nil {
				return fail(StatusFailed, res.Batches, err)
			}
			res.Rows += len(batch)
			res.Batches++
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return fail(StatusFailed, res.Batches, err)
	}
	if len(batch) > 0 || res.Batches == 0 {
		if err := flush(res.Batches == 0); err != nil {
			return fail(StatusFailed, res.Batches, err)
		}
		if len(batch) > 0 {
			res.Rows += len(batch)
			res.Batches++
		}
	}
	res.Status = StatusCopied
	return res
}

// sharedColumns returns the target's columns that also exist in the source,
// in target order.
func sharedColumns(src, dst []dbopen.Column) []string {
	have := make(map[string]bool, len(src))
	for _, c := range src {
		have[strings.ToLower(c.Name)] = true
	}
	var out []string
	for _, c := range dst {
		if have[strings.ToLower(c.Name)] {
			out = append(out, c.Name)
		}
	}
	return out
}
