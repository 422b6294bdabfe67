package resolve

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/tariff"
)

// HistoryEntry is one import of a code as recorded in the code history
// table. Rates that did not parse as numbers are nil.
type HistoryEntry struct {
	Code        string   `json:"code"`
	VersionDate string   `json:"version_date"`
	Description string   `json:"description"`
	AEC         *float64 `json:"aec"`
	EZ          *float64 `json:"ez"`
	IZ          *float64 `json:"iz"`
	UVF         *float64 `json:"uvf"`
	CL          string   `json:"cl"`
	SourceFile  string   `json:"source_file"`
	Active      bool     `json:"active"`
	CreatedAt   string   `json:"created_at"`
}

// History returns the recorded imports of code, oldest first, from the
// snapshot token resolves to. Snapshots without a history table yield an
// empty list.
func (r *Resolver) History(ctx context.Context, token, code string) ([]HistoryEntry, error) {
	db, _, err := r.store.Open(ctx, token)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	ok, err := dbopen.HasTable(ctx, db, tariff.TableCodeHistory)
	if err != nil || !ok {
		return nil, err
	}
	forms := []any{code, code}
	if alt := tariff.Alternate(code); alt != "" {
		forms[1] = alt
	}
	rows, err := db.QueryContext(ctx, `
		SELECT ncm_code, version_date, COALESCE(description, ''), aec, ez, iz, uvf,
		       COALESCE(cl, ''), COALESCE(source_file, ''), active, created_at
		FROM ncm_versions WHERE ncm_code IN (?, ?)
		ORDER BY version_date, id`, forms...)
	if err != nil {
		r.logger.WarnContext(ctx, "resolve: history query failed", "code", code, "error", err)
		return nil, nil
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e              HistoryEntry
			aec, ez, iz, u sql.NullFloat64
			active         int
		)
		if err := rows.Scan(&e.Code, &e.VersionDate, &e.Description, &aec, &ez, &iz, &u,
			&e.CL, &e.SourceFile, &active, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.AEC, e.EZ, e.IZ, e.UVF = floatPtr(aec), floatPtr(ez), floatPtr(iz), floatPtr(u)
		e.Active = active != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return &n.Float64
}
