package tariff

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/arancel/dbopen"
)

// Metadata keys stored in TableMetadata.
const (
	MetaVersion   = "version"
	MetaCreatedAt = "created_at"
	MetaSource    = "source"
	MetaBuildID   = "build_id"
	MetaStatus    = "status"
	MetaUpdatedAt = "updated_at"
)

// Build status values.
const (
	StatusBuilding = "building"
	StatusComplete = "complete"
)

// Metadata is the provenance stamped into a snapshot.
type Metadata struct {
	Version   string            `json:"version"`
	CreatedAt string            `json:"created_at,omitempty"`
	Source    string            `json:"source,omitempty"`
	BuildID   string            `json:"build_id,omitempty"`
	Status    string            `json:"status,omitempty"`
	UpdatedAt string            `json:"updated_at,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// ReadMetadata loads TableMetadata. Snapshots that predate the table yield a
// zero Metadata and no error.
func ReadMetadata(ctx context.Context, q dbopen.Queryer) (Metadata, error) {
	var m Metadata
	ok, err := dbopen.HasTable(ctx, q, TableMetadata)
	if err != nil || !ok {
		return m, err
	}
	rows, err := q.QueryContext(ctx, `SELECT key, COALESCE(value, '') FROM db_metadata`)
	if err != nil {
		return m, fmt.Errorf("tariff: read metadata: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return m, err
		}
		switch k {
		case MetaVersion:
			m.Version = v
		case MetaCreatedAt:
			m.CreatedAt = v
		case MetaSource:
			m.Source = v
		case MetaBuildID:
			m.BuildID = v
		case MetaStatus:
			m.Status = v
		case MetaUpdatedAt:
			m.UpdatedAt = v
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[k] = v
		}
	}
	return m, rows.Err()
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SetMetadata upserts one metadata key.
func SetMetadata(ctx context.Context, e Execer, key, value string) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO db_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("tariff: set metadata %s: %w", key, err)
	}
	return nil
}
