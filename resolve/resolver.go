// Package resolve finds tariff records in a snapshot, tolerating the
// formatting differences users type codes with.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/snapshot"
	"github.com/hazyhaar/arancel/tariff"
)

// DefaultLimit caps prefix, search and listing results.
const DefaultLimit = 50

// ErrNotFound is returned by Get when no strategy designates the code.
var ErrNotFound = errors.New("resolve: code not found")

// Result is the outcome of one lookup. Strategy is empty when nothing
// matched.
type Result struct {
	Snapshot snapshot.Snapshot `json:"snapshot"`
	Query    string            `json:"query"`
	Strategy string            `json:"strategy,omitempty"`
	Exact    bool              `json:"exact"`
	Records  []tariff.Record   `json:"records"`
}

// Resolver runs read queries against snapshots picked by a Store.
type Resolver struct {
	store      *snapshot.Store
	strategies []Strategy
	limit      int
	roman      tariff.RomanTable
	logger     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrategies replaces the lookup sequence.
func WithStrategies(s ...Strategy) Option { return func(r *Resolver) { r.strategies = s } }

// WithLimit sets the default result cap.
func WithLimit(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithRomanTable sets the numeral table used to match section labels.
func WithRomanTable(t tariff.RomanTable) Option { return func(r *Resolver) { r.roman = t } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// New creates a Resolver over store.
func New(store *snapshot.Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:      store,
		strategies: DefaultStrategies(),
		limit:      DefaultLimit,
		roman:      tariff.NewRomanTable(0),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Store returns the snapshot store the resolver reads from.
func (r *Resolver) Store() *snapshot.Store { return r.store }

// Lookup resolves token to a snapshot and runs the strategy sequence for
// code. The only errors are snapshot resolution failures; a code with no
// match yields an empty Result.
func (r *Resolver) Lookup(ctx context.Context, token, code string, limit int) (*Result, error) {
	db, snap, err := r.store.Open(ctx, token)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	res := r.LookupIn(ctx, db, code, limit)
	res.Snapshot = snap
	return res, nil
}

// LookupIn runs the strategy sequence against an already open snapshot.
// It stops at the first strategy that returns records. A strategy whose
// query fails is logged and skipped.
func (r *Resolver) LookupIn(ctx context.Context, q dbopen.Queryer, code string, limit int) *Result {
	code = strings.TrimSpace(code)
	res := &Result{Query: code}
	if code == "" {
		return res
	}
	limit = r.cap(limit)
	for _, s := range r.strategies {
		recs, err := s.Find(ctx, q, code, limit)
		if err != nil {
			r.logger.WarnContext(ctx, "resolve: strategy failed", "strategy", s.Name(), "code", code, "error", err)
			continue
		}
		if len(recs) == 0 {
			continue
		}
		res.Strategy = s.Name()
		res.Exact = s.Exact()
		res.Records = recs
		return res
	}
	return res
}

// Get returns the record a code designates, found by an exact strategy.
// Prefix matches do not count.
func (r *Resolver) Get(ctx context.Context, token, code string) (tariff.Record, snapshot.Snapshot, error) {
	res, err := r.Lookup(ctx, token, code, 1)
	if err != nil {
		return tariff.Record{}, snapshot.Snapshot{}, err
	}
	if !res.Exact || len(res.Records) == 0 {
		return tariff.Record{}, res.Snapshot, fmt.Errorf("%w: %q in %s", ErrNotFound, code, snapLabel(res.Snapshot))
	}
	return res.Records[0], res.Snapshot, nil
}

// SearchDescription returns records whose description contains every word
// of text, ignoring case and accents.
func (r *Resolver) SearchDescription(ctx context.Context, token, text string, limit int) (*Result, error) {
	db, snap, err := r.store.Open(ctx, token)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	res := &Result{Snapshot: snap, Query: text}
	words := strings.Fields(Fold(text))
	if len(words) == 0 {
		return res, nil
	}
	where := make([]string, len(words))
	args := make([]any, 0, len(words)+1)
	for i, w := range words {
		where[i] = foldFunc + `(DESCRIPCION) LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(w)+"%")
	}
	args = append(args, r.cap(limit))
	recs, err := queryRecords(ctx, db, "WHERE "+strings.Join(where, " AND ")+" ORDER BY NCM LIMIT ?", args...)
	if err != nil {
		r.logger.WarnContext(ctx, "resolve: description search failed", "query", text, "error", err)
		return res, nil
	}
	if len(recs) > 0 {
		res.Strategy = "description"
		res.Records = recs
	}
	return res, nil
}

// ListBySection returns the records filed under a section identifier in
// any accepted spelling ("XV", "15", "XV - Metals").
func (r *Resolver) ListBySection(ctx context.Context, token, id string, limit int) (*Result, error) {
	return r.listByLabel(ctx, token, "SECTION", id, limit, false)
}

// ListByChapter returns the records filed under a chapter. Records without
// a chapter label are matched on the first two digits of their code.
func (r *Resolver) ListByChapter(ctx context.Context, token, id string, limit int) (*Result, error) {
	return r.listByLabel(ctx, token, "CHAPTER", id, limit, true)
}

func (r *Resolver) listByLabel(ctx context.Context, token, column, id string, limit int, byCode bool) (*Result, error) {
	db, snap, err := r.store.Open(ctx, token)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	res := &Result{Snapshot: snap, Query: id}
	key, ok := tariff.NormalizeKey(id, r.roman)
	if !ok {
		return res, nil
	}
	var (
		where []string
		args  []any
	)
	for _, f := range tariff.LabelForms(key, r.roman) {
		where = append(where, column+` = ? OR `+column+` LIKE ? ESCAPE '\' OR `+column+` LIKE ? ESCAPE '\'`)
		args = append(args, f, escapeLike(f)+" -%", escapeLike(f)+"-%")
	}
	if byCode {
		where = append(where, `(COALESCE(`+column+`, '') = '' AND NCM LIKE ?)`)
		args = append(args, key+"%")
	}
	args = append(args, r.cap(limit))
	recs, err := queryRecords(ctx, db, "WHERE "+strings.Join(where, " OR ")+" ORDER BY NCM LIMIT ?", args...)
	if err != nil {
		r.logger.WarnContext(ctx, "resolve: label listing failed", "column", column, "id", id, "error", err)
		return res, nil
	}
	if len(recs) > 0 {
		res.Strategy = strings.ToLower(column)
		res.Records = recs
	}
	return res, nil
}

func (r *Resolver) cap(limit int) int {
	if limit <= 0 {
		return r.limit
	}
	return limit
}

func snapLabel(s snapshot.Snapshot) string {
	switch {
	case s.Version != "":
		return s.Version
	case s.Legacy:
		return "legacy snapshot"
	default:
		return "snapshot"
	}
}
