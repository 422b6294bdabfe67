package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/guard"
	"github.com/hazyhaar/arancel/tariff"
)

// Strategy is one step of the lookup sequence. Find returns no records and
// no error when the strategy does not apply or finds nothing.
type Strategy interface {
	Name() string
	// Exact reports whether a hit designates the requested code itself
	// rather than a list of candidates.
	Exact() bool
	Find(ctx context.Context, q dbopen.Queryer, code string, limit int) ([]tariff.Record, error)
}

// DefaultStrategies is the lookup order: exact, alternate punctuation,
// zero-padded, then prefix.
func DefaultStrategies() []Strategy {
	return []Strategy{
		candidates{name: "exact", forms: func(c string) []string { return []string{c} }},
		candidates{name: "alternate", forms: AlternateForms},
		candidates{name: "zero-padded", forms: ZeroPaddedForms},
		Prefix{},
	}
}

// AlternateForms returns the other punctuation of code, if any.
func AlternateForms(code string) []string {
	if alt := tariff.Alternate(code); alt != "" {
		return []string{alt}
	}
	return nil
}

// ZeroPaddedForms returns padded variants of a numeric code that lost a
// leading zero: codes under four digits are padded to four, odd-length
// codes get one leading zero. Both the digit and punctuated forms are
// returned.
func ZeroPaddedForms(code string) []string {
	d := tariff.Digits(strings.TrimSpace(code))
	if !tariff.IsNumeric(d) {
		return nil
	}
	var padded string
	switch {
	case len(d) < 4:
		padded = strings.Repeat("0", 4-len(d)) + d
	case len(d)%2 == 1:
		padded = "0" + d
	default:
		return nil
	}
	forms := []string{padded}
	if p := tariff.Punctuate(padded); p != padded {
		forms = append(forms, p)
	}
	return forms
}

// candidates tries a list of exact codes in order; the first hit wins.
type candidates struct {
	name  string
	forms func(string) []string
}

func (c candidates) Name() string { return c.name }
func (c candidates) Exact() bool { return true }

func (c candidates) Find(ctx context.Context, q dbopen.Queryer, code string, _ int) ([]tariff.Record, error) {
	for _, form := range c.forms(code) {
		if form == "" {
			continue
		}
		recs, err := queryRecords(ctx, q, "WHERE NCM = ? LIMIT 1", form)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			return recs, nil
		}
	}
	return nil, nil
}

// Prefix lists codes starting with the input or its alternate form. It is
// the terminal strategy and never fails for lack of matches.
type Prefix struct{}

func (Prefix) Name() string { return "prefix" }
func (Prefix) Exact() bool { return false }

func (Prefix) Find(ctx context.Context, q dbopen.Queryer, code string, limit int) ([]tariff.Record, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	forms := []string{code}
	if alt := tariff.Alternate(code); alt != "" {
		forms = append(forms, alt)
	}
	where := make([]string, len(forms))
	args := make([]any, 0, len(forms)+1)
	for i, f := range forms {
		where[i] = `NCM LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(f)+"%")
	}
	args = append(args, limit)
	return queryRecords(ctx, q, "WHERE "+strings.Join(where, " OR ")+" ORDER BY NCM LIMIT ?", args...)
}

var recordSelect = func() string {
	cols := make([]string, len(tariff.RecordColumns))
	for i, c := range tariff.RecordColumns {
		cols[i] = fmt.Sprintf("COALESCE(%s, '')", guard.QuoteIdent(c))
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + tariff.TableTariff + " "
}()

func queryRecords(ctx context.Context, q dbopen.Queryer, clause string, args ...any) ([]tariff.Record, error) {
	rows, err := q.QueryContext(ctx, recordSelect+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tariff.Record
	for rows.Next() {
		var r tariff.Record
		if err := rows.Scan(r.ScanDest()...); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
