package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/observability"
	"github.com/hazyhaar/arancel/snapshot"
	"github.com/hazyhaar/arancel/tariff"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func setup(t *testing.T, opts ...Option) (*snapshot.Store, *Builder) {
	t.Helper()
	store, err := snapshot.New(t.TempDir(), snapshot.WithLogger(quiet()))
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{
		WithLogger(quiet()),
		WithClock(func() time.Time { return time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC) }),
	}, opts...)
	return store, New(store, opts...)
}

func sampleDataset(n int) Dataset {
	ds := Dataset{
		SectionNotes: []tariff.Note{{Key: "01", Text: "Live animals"}},
		ChapterNotes: []tariff.Note{{Key: "04", Text: "Dairy produce"}},
	}
	for i := 0; i < n; i++ {
		ds.Records = append(ds.Records, tariff.Record{
			Code:        tariff.Punctuate(fmt.Sprintf("0401%06d", i)),
			Description: "Leche",
			AEC:         "12",
			Section:     "I - Animales vivos",
			Chapter:     "04 - Leche",
		})
	}
	return ds
}

func count(t *testing.T, path, table string) int {
	t.Helper()
	db, err := dbopen.OpenReadOnly(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestCreateClonesSchemaAndStampsMetadata(t *testing.T) {
	store, b := setup(t)
	ctx := context.Background()

	bd, err := b.Create(ctx, "2024-04-15", "arancel_abril_2024.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	defer bd.Close()
	if bd.Existed || bd.Snapshot.Version != "202404" {
		t.Fatalf("build = %+v", bd)
	}
	if filepath.Base(bd.Snapshot.Path) != store.FileName("202404") {
		t.Fatalf("path = %s", bd.Snapshot.Path)
	}

	tables, err := dbopen.Tables(ctx, bd.db)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		tariff.TableTariff: true, tariff.TableSectionNotes: true, tariff.TableChapterNotes: true,
		tariff.TableCodeHistory: true, tariff.TableMetadata: true,
	}
	if len(tables) != len(want) {
		t.Fatalf("tables = %v", tables)
	}
	for _, tb := range tables {
		if !want[tb] {
			t.Fatalf("unexpected table %s", tb)
		}
	}

	meta, err := tariff.ReadMetadata(ctx, bd.db)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Version != "202404" || meta.Source != "arancel_abril_2024.xlsx" ||
		meta.Status != tariff.StatusBuilding || meta.CreatedAt != "2024-04-02T10:00:00Z" || meta.BuildID != bd.ID {
		t.Fatalf("metadata = %+v", meta)
	}
}

func TestCreateIdempotent(t *testing.T) {
	store, b := setup(t)
	ctx := context.Background()

	res, err := b.Load(ctx, "202404", "first.xlsx", sampleDataset(3))
	if err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(res.Snapshot.Path)

	bd, err := b.Create(ctx, "202404", "second.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	if !bd.Existed || bd.Snapshot.Path != res.Snapshot.Path {
		t.Fatalf("second create = %+v", bd)
	}
	if _, err := bd.BulkInsert(ctx, tariff.TableTariff, tariff.RecordRows(nil)); !errors.Is(err, ErrImmutable) {
		t.Fatalf("insert into existing = %v, want ErrImmutable", err)
	}
	after, _ := os.ReadFile(res.Snapshot.Path)
	if string(before) != string(after) {
		t.Fatal("existing snapshot modified")
	}

	info, err := store.Describe(ctx, "202404")
	if err != nil {
		t.Fatal(err)
	}
	if info.Metadata.Source != "first.xlsx" || info.Metadata.Status != tariff.StatusComplete {
		t.Fatalf("metadata = %+v", info.Metadata)
	}
}

func TestBulkInsertBatches(t *testing.T) {
	_, b := setup(t, WithBatchSize(10))
	ctx := context.Background()

	bd, err := b.Create(ctx, "202404", "x")
	if err != nil {
		t.Fatal(err)
	}
	n, err := bd.BulkInsert(ctx, tariff.TableTariff, tariff.RecordRows(sampleDataset(25).Records))
	if err != nil {
		t.Fatal(err)
	}
	if n != 25 {
		t.Fatalf("inserted = %d", n)
	}
	if _, err := bd.Finish(ctx); err != nil {
		t.Fatal(err)
	}
	if got := count(t, bd.Snapshot.Path, tariff.TableTariff); got != 25 {
		t.Fatalf("rows = %d", got)
	}
}

func TestBulkInsertReportsFailingBatch(t *testing.T) {
	store, b := setup(t, WithBatchSize(10))
	ctx := context.Background()

	bd, err := b.Create(ctx, "202404", "x")
	if err != nil {
		t.Fatal(err)
	}
	recs := sampleDataset(25).Records
	recs[14].Code = recs[3].Code // duplicate primary key in the second batch

	n, err := bd.BulkInsert(ctx, tariff.TableTariff, tariff.RecordRows(recs))
	var berr *BatchError
	if !errors.As(err, &berr) {
		t.Fatalf("err = %v, want *BatchError", err)
	}
	if berr.Batch != 1 || berr.Offset != 10 || berr.Table != tariff.TableTariff || berr.Attempts != 1 {
		t.Fatalf("batch error = %+v", berr)
	}
	if n != 10 {
		t.Fatalf("committed = %d, want 10", n)
	}
	bd.Close()

	if _, err := os.Stat(bd.Snapshot.Path); err != nil {
		t.Fatalf("partial snapshot removed: %v", err)
	}
	if _, err := os.Lstat(store.LatestPath()); !os.IsNotExist(err) {
		t.Fatal("latest pointer moved after failed build")
	}
	if got := count(t, bd.Snapshot.Path, tariff.TableTariff); got != 10 {
		t.Fatalf("rows after failure = %d", got)
	}
}

func TestBulkInsertRejectsUnknownTable(t *testing.T) {
	_, b := setup(t)
	ctx := context.Background()
	bd, err := b.Create(ctx, "202404", "x")
	if err != nil {
		t.Fatal(err)
	}
	defer bd.Close()

	rows := tariff.Rows{Columns: []string{"a"}, Values: [][]any{{1}}}
	if _, err := bd.BulkInsert(ctx, "missing_table", rows); err == nil {
		t.Fatal("expected error for unknown table")
	}
	if _, err := bd.BulkInsert(ctx, "x; DROP TABLE arancel_nacional", rows); err == nil {
		t.Fatal("expected error for invalid identifier")
	}
}

func TestLoadAdvancesPointerOnlyForGreatest(t *testing.T) {
	store, b := setup(t)
	ctx := context.Background()

	res, err := b.Load(ctx, "202403", "march.xlsx", sampleDataset(5))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Pointer.Changed || res.Pointer.Version != "202403" {
		t.Fatalf("pointer = %+v", res.Pointer)
	}
	if res.Rows[tariff.TableTariff] != 5 || res.Rows[tariff.TableCodeHistory] != 5 ||
		res.Rows[tariff.TableSectionNotes] != 1 || res.Rows[tariff.TableChapterNotes] != 1 {
		t.Fatalf("rows = %v", res.Rows)
	}

	// Backfilling an older month must not move the pointer backwards.
	res, err = b.Load(ctx, "202301", "jan.xlsx", sampleDataset(2))
	if err != nil {
		t.Fatal(err)
	}
	if res.Pointer.Changed {
		t.Fatalf("pointer moved on backfill: %+v", res.Pointer)
	}
	cur, _ := store.CurrentVersion()
	if cur != "202403" {
		t.Fatalf("current = %s", cur)
	}

	snap, err := store.Resolve(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := count(t, snap.Path, tariff.TableTariff); got != 5 {
		t.Fatalf("latest rows = %d", got)
	}
}

func TestLoadFromTemplateSnapshot(t *testing.T) {
	tmpl := filepath.Join(t.TempDir(), "template.sqlite3")
	db, err := dbopen.Open(tmpl, dbopen.WithJournalMode("DELETE"), dbopen.WithSchema(`
		CREATE TABLE arancel_nacional (NCM TEXT PRIMARY KEY, DESCRIPCION TEXT, AEC TEXT, CL TEXT,
			"E/Z" TEXT, "I/Z" TEXT, UVF TEXT, SECTION TEXT, CHAPTER TEXT, EXTRA TEXT);
		CREATE TABLE section_notes (id INTEGER PRIMARY KEY, section_number TEXT UNIQUE, note_text TEXT);
		CREATE TABLE chapter_notes (id INTEGER PRIMARY KEY, chapter_number TEXT UNIQUE, note_text TEXT);
		CREATE TABLE db_metadata (key TEXT PRIMARY KEY, value TEXT);
		INSERT INTO db_metadata VALUES ('version', 'template');`))
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	store, b := setup(t, WithTemplate(tmpl))
	ctx := context.Background()
	res, err := b.Load(ctx, "202405", "may.xlsx", sampleDataset(2))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Rows[tariff.TableCodeHistory]; ok {
		t.Fatalf("history written without history table: %v", res.Rows)
	}
	info, err := store.Describe(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if info.Metadata.Version != "202405" {
		t.Fatalf("template metadata leaked: %+v", info.Metadata)
	}
}

func TestLoadRecordsEvents(t *testing.T) {
	ops := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema))
	events := observability.NewEventLogger(ops)
	_, b := setup(t, WithEvents(events))
	ctx := context.Background()

	if _, err := b.Load(ctx, "202404", "april.xlsx", sampleDataset(1)); err != nil {
		t.Fatal(err)
	}
	got, err := events.Recent(ctx, observability.Filter{Type: observability.EventBuild})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Success || got[0].Version != "202404" {
		t.Fatalf("events = %+v", got)
	}
}

func TestFinishTwice(t *testing.T) {
	_, b := setup(t)
	ctx := context.Background()
	bd, err := b.Create(ctx, "202404", "x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bd.Finish(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := bd.Finish(ctx); !errors.Is(err, ErrFinished) {
		t.Fatalf("second finish = %v", err)
	}
}

func TestCreateRejectsBadVersion(t *testing.T) {
	_, b := setup(t)
	if _, err := b.Create(context.Background(), "abril", "x"); !errors.Is(err, snapshot.ErrInvalidToken) {
		t.Fatalf("err = %v", err)
	}
}

func TestVersionFromFilename(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Arancel_2024-04.xlsx", "202404"},
		{"arancel_04_2024.xlsx", "202404"},
		{"ARANCEL_ABRIL_2024.xlsx", "202404"},
		{"/data/in/arancel-setiembre-2023.xls", "202309"},
		{"arancel_202311.xlsx", "202311"},
		{"tariff march 2022.xlsx", "202203"},
	}
	for _, c := range cases {
		got, ok := VersionFromFilename(c.in)
		if !ok || got != c.want {
			t.Errorf("VersionFromFilename(%q) = %q, %v; want %q", c.in, got, ok, c.want)
		}
	}
	for _, bad := range []string{"arancel.xlsx", "arancel_2024-13.xlsx", "notes.txt"} {
		if got, ok := VersionFromFilename(bad); ok {
			t.Errorf("VersionFromFilename(%q) = %q, want no match", bad, got)
		}
	}
}

// failBuild leaves version on disk as an unfinished build: the second batch
// fails and the build is abandoned.
func failBuild(t *testing.T, b *Builder, version string) {
	t.Helper()
	ctx := context.Background()
	bd, err := b.Create(ctx, version, "broken.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	recs := sampleDataset(25).Records
	recs[14].Code = recs[3].Code
	if _, err := bd.BulkInsert(ctx, tariff.TableTariff, tariff.RecordRows(recs)); err == nil {
		t.Fatal("expected batch failure")
	}
	if err := bd.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestFailedBuildNeverBecomesLatest(t *testing.T) {
	store, b := setup(t, WithBatchSize(10))
	ctx := context.Background()

	failBuild(t, b, "202405")
	res, err := b.Load(ctx, "202404", "april.xlsx", sampleDataset(3))
	if err != nil {
		t.Fatal(err)
	}
	if res.Pointer.Version != "202404" {
		t.Fatalf("pointer = %+v, want the completed 202404", res.Pointer)
	}
	if cur, _ := store.CurrentVersion(); cur != "202404" {
		t.Fatalf("current = %q", cur)
	}

	upd, err := store.UpdateLatestPointer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if upd.Changed || upd.Version != "202404" {
		t.Fatalf("update = %+v", upd)
	}
	snap, err := store.Resolve(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != "202404" {
		t.Fatalf("latest = %+v", snap)
	}
}

func TestRerunOfFailedBuildIsRejected(t *testing.T) {
	store, b := setup(t, WithBatchSize(10))
	ctx := context.Background()

	failBuild(t, b, "202405")
	res, err := b.Load(ctx, "202405", "fixed.xlsx", sampleDataset(3))
	var ie *snapshot.IncompleteError
	if !errors.As(err, &ie) || ie.Version != "202405" || ie.Status != tariff.StatusBuilding {
		t.Fatalf("rerun = %+v, %v", res, err)
	}
	if _, err := os.Lstat(store.LatestPath()); !os.IsNotExist(err) {
		t.Fatal("latest pointer created for an incomplete snapshot")
	}

	// Once the partial file is removed the version builds normally.
	p, _ := store.PathFor(ie.Version)
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	res, err = b.Load(ctx, "202405", "fixed.xlsx", sampleDataset(3))
	if err != nil {
		t.Fatal(err)
	}
	if res.Existed || res.Pointer.Version != "202405" {
		t.Fatalf("rebuild = %+v", res)
	}
}

func noteKeys(t *testing.T, path string, kind tariff.NoteKind) []string {
	t.Helper()
	db, err := dbopen.OpenReadOnly(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	rows, err := db.Query("SELECT " + kind.KeyColumn() + " FROM " + kind.Table() + " ORDER BY 1")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			t.Fatal(err)
		}
		keys = append(keys, k)
	}
	return keys
}

func TestLoadNormalizesNoteKeys(t *testing.T) {
	_, b := setup(t)
	ctx := context.Background()

	ds := sampleDataset(1)
	ds.SectionNotes = []tariff.Note{
		{Key: "VII", Text: "Plásticos"},
		{Key: "XVI - Máquinas", Text: "Máquinas y aparatos"},
		{Key: "1", Text: "Animales vivos"},
	}
	ds.ChapterNotes = []tariff.Note{{Key: "9", Text: "Café"}, {Key: "84", Text: "Reactores"}}

	res, err := b.Load(ctx, "202404", "april.xlsx", ds)
	if err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprint(noteKeys(t, res.Snapshot.Path, tariff.SectionNote)); got != "[01 07 16]" {
		t.Fatalf("section keys = %s", got)
	}
	if got := fmt.Sprint(noteKeys(t, res.Snapshot.Path, tariff.ChapterNote)); got != "[09 84]" {
		t.Fatalf("chapter keys = %s", got)
	}
}

func TestLoadRejectsUnrecognizedNoteKey(t *testing.T) {
	store, b := setup(t, WithRomanTable(tariff.NewRomanTable(21)))
	ds := sampleDataset(1)
	ds.SectionNotes = []tariff.Note{{Key: "XXII", Text: "out of range"}}

	_, err := b.Load(context.Background(), "202404", "april.xlsx", ds)
	if !errors.Is(err, tariff.ErrUnrecognizedKey) || !strings.Contains(err.Error(), `"XXII"`) {
		t.Fatalf("err = %v", err)
	}
	if store.Exists("202404") {
		t.Fatal("snapshot file created for a rejected dataset")
	}
}
