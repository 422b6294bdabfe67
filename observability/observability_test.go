package observability

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/arancel/dbopen"
)

func setupOpsDB(t *testing.T) *EventLogger {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewEventLogger(db)
}

func TestLogAndRecent(t *testing.T) {
	l := setupOpsDB(t)
	ctx := context.Background()

	l.LogEvent(ctx, Event{Type: EventBuild, RunID: "bld_1", Version: "202403", Success: true,
		CreatedAt: time.Unix(1000, 0)})
	l.LogEvent(ctx, Event{Type: EventMigration, RunID: "mig_1", Version: "202404", SourceVersion: "202403",
		Details: map[string]any{"tables": 3.0}, Success: false, CreatedAt: time.Unix(2000, 0)})
	l.LogEvent(ctx, Event{Type: EventBuild, RunID: "bld_2", Version: "202404", Success: true,
		CreatedAt: time.Unix(3000, 0)})

	all, err := l.Recent(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].RunID != "bld_2" || all[2].RunID != "bld_1" {
		t.Fatalf("recent = %+v", all)
	}

	migs, err := l.Recent(ctx, Filter{Type: EventMigration})
	if err != nil {
		t.Fatal(err)
	}
	if len(migs) != 1 || migs[0].Success || migs[0].SourceVersion != "202403" || migs[0].Details["tables"] != 3.0 {
		t.Fatalf("migrations = %+v", migs)
	}

	v, err := l.Recent(ctx, Filter{Version: "202404", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 1 || v[0].RunID != "bld_2" {
		t.Fatalf("by version = %+v", v)
	}
}

func TestNilEventLogger(t *testing.T) {
	var l *EventLogger
	l.LogEvent(context.Background(), Event{Type: EventBuild})
	if got, err := l.Recent(context.Background(), Filter{}); got != nil || err != nil {
		t.Fatalf("nil logger recent = %v, %v", got, err)
	}
}

func TestLogEventFailureDoesNotPanic(t *testing.T) {
	db := dbopen.OpenMemory(t) // no schema
	l := NewEventLogger(db)
	l.LogEvent(context.Background(), Event{Type: EventPointer})
}

func TestCleanup(t *testing.T) {
	l := setupOpsDB(t)
	ctx := context.Background()
	l.LogEvent(ctx, Event{Type: EventBuild, RunID: "old", CreatedAt: time.Now().AddDate(0, 0, -40)})
	l.LogEvent(ctx, Event{Type: EventBuild, RunID: "new"})

	if err := Cleanup(ctx, l.db, RetentionConfig{EventDays: 30}); err != nil {
		t.Fatal(err)
	}
	got, _ := l.Recent(ctx, Filter{})
	if len(got) != 1 || got[0].RunID != "new" {
		t.Fatalf("after cleanup = %+v", got)
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "ops", "ops.sqlite3"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ok, err := dbopen.HasTable(context.Background(), db, "snapshot_events")
	if err != nil || !ok {
		t.Fatalf("HasTable = %v, %v", ok, err)
	}
}
