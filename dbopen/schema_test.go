package dbopen_test

import (
	"context"
	"testing"

	"github.com/hazyhaar/arancel/dbopen"
)

const introspectSchema = `
CREATE TABLE arancel_nacional (NCM TEXT PRIMARY KEY, DESCRIPCION TEXT, "E/Z" TEXT);
CREATE INDEX idx_desc ON arancel_nacional(DESCRIPCION);
CREATE TABLE chapter_notes (id INTEGER PRIMARY KEY, chapter_number TEXT UNIQUE, note_text TEXT);
CREATE VIEW v_codes AS SELECT NCM FROM arancel_nacional;
`

func TestTablesAndColumns(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(introspectSchema))
	ctx := context.Background()

	tables, err := dbopen.Tables(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 2 || tables[0] != "arancel_nacional" || tables[1] != "chapter_notes" {
		t.Fatalf("tables = %v", tables)
	}

	ok, err := dbopen.HasTable(ctx, db, "chapter_notes")
	if err != nil || !ok {
		t.Fatalf("HasTable(chapter_notes) = %v, %v", ok, err)
	}
	ok, _ = dbopen.HasTable(ctx, db, "missing")
	if ok {
		t.Fatal("HasTable(missing) = true")
	}

	cols, err := dbopen.Columns(ctx, db, "arancel_nacional")
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 3 || cols[2].Name != "E/Z" || !cols[0].PK {
		t.Fatalf("columns = %+v", cols)
	}
}

func TestSchemaObjectsOrder(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(introspectSchema))

	objs, err := dbopen.SchemaObjects(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	var kinds []string
	for _, o := range objs {
		kinds = append(kinds, o.Type)
	}
	want := []string{"table", "table", "index", "view"}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}
}
