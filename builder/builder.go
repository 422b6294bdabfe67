// Package builder creates new tariff snapshots: it clones the template
// schema into a fresh file, stamps provenance metadata, loads data in
// fixed-size transactional batches and, once everything succeeded, advances
// the store's latest pointer.
package builder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/idgen"
	"github.com/hazyhaar/arancel/observability"
	"github.com/hazyhaar/arancel/snapshot"
	"github.com/hazyhaar/arancel/tariff"
)

// DefaultBatchSize is the number of rows committed per transaction.
const DefaultBatchSize = 1000

// ErrImmutable is returned when writing to a snapshot that already existed
// before Create was called.
var ErrImmutable = errors.New("builder: snapshot already exists and is immutable")

// ErrFinished is returned when a Build is used after Finish or Close.
var ErrFinished = errors.New("builder: build already finished")

// Builder produces snapshots in a Store.
type Builder struct {
	store        *snapshot.Store
	templatePath string
	batchSize    int
	logger       *slog.Logger
	newID        idgen.Generator
	now          func() time.Time
	events       *observability.EventLogger
	roman        tariff.RomanTable
	retry        []dbopen.RetryOption
}

// Option configures a Builder.
type Option func(*Builder)

// WithTemplate names an existing snapshot whose schema is cloned into every
// new snapshot. Without it the built-in tariff.Schema is used.
func WithTemplate(path string) Option { return func(b *Builder) { b.templatePath = path } }

// WithBatchSize sets rows per transaction. Default: 1000.
func WithBatchSize(n int) Option { return func(b *Builder) { b.batchSize = n } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(b *Builder) { b.logger = l } }

// WithIDGenerator sets the build ID generator. Default: "bld_" + UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option { return func(b *Builder) { b.newID = gen } }

// WithClock sets the time source for created_at stamps.
func WithClock(now func() time.Time) Option { return func(b *Builder) { b.now = now } }

// WithEvents records builds in the ops log.
func WithEvents(l *observability.EventLogger) Option { return func(b *Builder) { b.events = l } }

// WithRomanTable sets the numerals accepted for section and chapter note
// keys. Default: tariff.NewRomanTable(0).
func WithRomanTable(t tariff.RomanTable) Option { return func(b *Builder) { b.roman = t } }

// WithRetry tunes the BUSY retry of every batch transaction.
func WithRetry(opts ...dbopen.RetryOption) Option { return func(b *Builder) { b.retry = opts } }

// New returns a Builder writing into store.
func New(store *snapshot.Store, opts ...Option) *Builder {
	b := &Builder{
		store:     store,
		batchSize: DefaultBatchSize,
		newID:     idgen.Prefixed("bld_", idgen.Default),
		now:       time.Now,
		roman:     tariff.NewRomanTable(0),
	}
	for _, o := range opts {
		o(b)
	}
	if b.batchSize <= 0 {
		b.batchSize = DefaultBatchSize
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Create makes an empty snapshot for versionID (YYYYMM, YYYYMMDD or
// YYYY-MM-DD; day tokens are stored under their month). If the version
// already exists the returned Build has Existed set and the file is left
// untouched, unless that file is an unfinished build: Create then returns a
// *snapshot.IncompleteError. On failure the partially created file stays on
// disk and the latest pointer is not moved.
func (b *Builder) Create(ctx context.Context, versionID, source string) (*Build, error) {
	tok, err := snapshot.ParseToken(versionID)
	if err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}
	version := tok.VersionID()
	path, err := b.store.PathFor(version)
	if err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}
	snap := snapshot.Snapshot{Version: version, Path: path}

	if b.store.Exists(version) {
		if st := b.store.Status(ctx, version); st != "" && st != tariff.StatusComplete {
			b.logger.ErrorContext(ctx, "builder: incomplete snapshot on disk, remove it to rebuild",
				"version", version, "status", st, "path", path)
			return nil, fmt.Errorf("builder: %w", &snapshot.IncompleteError{Version: version, Status: st})
		}
		b.logger.InfoContext(ctx, "builder: snapshot exists, leaving it unchanged", "version", version)
		return &Build{Snapshot: snap, Existed: true, builder: b}, nil
	}

	objects, err := b.templateDDL(ctx)
	if err != nil {
		return nil, err
	}

	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithJournalMode("DELETE"))
	if err != nil {
		return nil, fmt.Errorf("builder: create %s: %w", version, err)
	}
	db.SetMaxOpenConns(1)

	id := b.newID()
	created := b.now().UTC().Format(time.RFC3339)
	err = dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		for _, o := range objects {
			if o.Name == tariff.TableMetadata {
				continue
			}
			if _, err := tx.ExecContext(ctx, o.SQL); err != nil {
				return fmt.Errorf("clone %s %s: %w", o.Type, o.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, tariff.MetadataSchema); err != nil {
			return fmt.Errorf("create metadata: %w", err)
		}
		for _, kv := range [][2]string{
			{tariff.MetaVersion, version},
			{tariff.MetaCreatedAt, created},
			{tariff.MetaSource, source},
			{tariff.MetaBuildID, id},
			{tariff.MetaStatus, tariff.StatusBuilding},
		} {
			if err := tariff.SetMetadata(ctx, tx, kv[0], kv[1]); err != nil {
				return err
			}
		}
		return nil
	}, b.retry...)
	if err != nil {
		db.Close()
		b.logger.ErrorContext(ctx, "builder: create failed", "version", version, "error", err)
		b.events.LogEvent(ctx, observability.Event{
			Type: observability.EventBuild, RunID: id, Version: version,
			Details: map[string]any{"stage": "create", "error": err.Error()},
		})
		return nil, fmt.Errorf("builder: create %s: %w", version, err)
	}

	b.logger.InfoContext(ctx, "builder: snapshot created",
		"version", version, "build_id", id, "objects", len(objects), "source", source)
	return &Build{
		Snapshot: snap,
		ID:       id,
		Source:   source,
		builder:  b,
		db:       db,
		inserted: make(map[string]int),
	}, nil
}

// templateDDL reads the schema objects to clone, from the configured
// template snapshot or from tariff.Schema materialized in memory.
func (b *Builder) templateDDL(ctx context.Context) ([]dbopen.Object, error) {
	var (
		db  *sql.DB
		err error
	)
	if b.templatePath != "" {
		db, err = dbopen.OpenReadOnly(b.templatePath)
	} else {
		db, err = dbopen.Open(":memory:", dbopen.WithSchema(tariff.Schema))
	}
	if err != nil {
		return nil, fmt.Errorf("builder: open template: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	objects, err := dbopen.SchemaObjects(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("builder: read template: %w", err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("builder: template has no schema")
	}
	return objects, nil
}
