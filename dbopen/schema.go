package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Queryer is the read side shared by *sql.DB, *sql.Tx and *sql.Conn.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Column is one row of PRAGMA table_info.
type Column struct {
	Name    string
	Type    string
	NotNull bool
	PK      bool
}

// Tables lists user tables (sqlite_% excluded) in name order.
func Tables(ctx context.Context, q Queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("dbopen: list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// HasTable reports whether a user table named name exists.
func HasTable(ctx context.Context, q Queryer, name string) (bool, error) {
	tables, err := Tables(ctx, q)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t == name {
			return true, nil
		}
	}
	return false, nil
}

// Columns returns the columns of table in declaration order.
func Columns(ctx context.Context, q Queryer, table string) ([]Column, error) {
	quoted := `"` + strings.ReplaceAll(table, `"`, `""`) + `"`
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoted))
	if err != nil {
		return nil, fmt.Errorf("dbopen: table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid      int
			name, ct string
			nn, pk   int
			dflt     sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ct, &nn, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, Column{Name: name, Type: ct, NotNull: nn != 0, PK: pk != 0})
	}
	return cols, rows.Err()
}

// Object is a schema entry from sqlite_master carrying its CREATE statement.
type Object struct {
	Type string
	Name string
	SQL  string
}

// SchemaObjects returns every user-defined object with DDL: tables first,
// then indexes, triggers and views, each group in name order. Automatic
// indexes have no SQL and are omitted.
func SchemaObjects(ctx context.Context, q Queryer) ([]Object, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT type, name, sql FROM sqlite_master
		WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%'
		ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'index' THEN 1 WHEN 'trigger' THEN 2 ELSE 3 END, name`)
	if err != nil {
		return nil, fmt.Errorf("dbopen: read schema: %w", err)
	}
	defer rows.Close()

	var out []Object
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.Type, &o.Name, &o.SQL); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
