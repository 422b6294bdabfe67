package arancel

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/arancel/builder"
	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/migrate"
	"github.com/hazyhaar/arancel/notes"
	"github.com/hazyhaar/arancel/observability"
	"github.com/hazyhaar/arancel/resolve"
	"github.com/hazyhaar/arancel/snapshot"
	"github.com/hazyhaar/arancel/tariff"
)

// Service wires the snapshot store, the offline jobs and the resolvers
// from one Config.
type Service struct {
	Config   *Config
	Store    *snapshot.Store
	Builder  *builder.Builder
	Migrator *migrate.Migrator
	Codes    *resolve.Resolver
	Notes    *notes.Resolver
	Events   *observability.EventLogger

	opsDB  *sql.DB
	logger *slog.Logger
}

// New opens the store described by cfg. A nil logger selects slog.Default.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()

	store, err := snapshot.New(cfg.DataDir,
		snapshot.WithPrefix(cfg.Prefix),
		snapshot.WithExtension(cfg.Extension),
		snapshot.WithLatestName(cfg.LatestName),
		snapshot.WithLegacyPath(cfg.LegacyPath),
		snapshot.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	s := &Service{Config: cfg, Store: store, logger: logger}
	if cfg.OpsEnabled() {
		db, err := observability.Open(cfg.OpsDB)
		if err != nil {
			return nil, fmt.Errorf("arancel: ops db: %w", err)
		}
		s.opsDB = db
		s.Events = observability.NewEventLogger(db, observability.WithLogger(logger))
	}

	roman := tariff.NewRomanTable(cfg.RomanMax)
	retry := dbopen.WithAttempts(cfg.TxAttempts)
	s.Builder = builder.New(store,
		builder.WithTemplate(cfg.TemplatePath),
		builder.WithBatchSize(cfg.BatchSize),
		builder.WithRomanTable(roman),
		builder.WithRetry(retry),
		builder.WithLogger(logger),
		builder.WithEvents(s.Events),
	)
	s.Migrator = migrate.New(store,
		migrate.WithBatchSize(cfg.BatchSize),
		migrate.WithRetry(retry),
		migrate.WithLogger(logger),
		migrate.WithEvents(s.Events),
	)
	s.Codes = resolve.New(store,
		resolve.WithLimit(cfg.LookupLimit),
		resolve.WithRomanTable(roman),
		resolve.WithLogger(logger),
	)
	s.Notes = notes.New(s.Codes,
		notes.WithRomanTable(roman),
		notes.WithLogger(logger),
	)
	return s, nil
}

// Close releases the operations log.
func (s *Service) Close() error {
	if s.opsDB == nil {
		return nil
	}
	return s.opsDB.Close()
}

// VersionList is the answer to a versions query.
type VersionList struct {
	Versions []string `json:"versions"`
	Current  string   `json:"current,omitempty"`
}

// Versions lists snapshot versions, most recent first, and the version the
// latest pointer designates.
func (s *Service) Versions(ctx context.Context) (*VersionList, error) {
	vs, err := s.Store.ListVersions()
	if err != nil {
		return nil, err
	}
	cur, err := s.Store.CurrentVersion()
	if err != nil {
		s.logger.WarnContext(ctx, "arancel: read latest pointer", "error", err)
	}
	if vs == nil {
		vs = []string{}
	}
	return &VersionList{Versions: vs, Current: cur}, nil
}

// Retention prunes operation events older than days.
func (s *Service) Retention(ctx context.Context, days int) error {
	if s.opsDB == nil {
		return nil
	}
	return observability.Cleanup(ctx, s.opsDB, observability.RetentionConfig{EventDays: days})
}

// UpdateLatest points latest at the greatest version and records the move.
func (s *Service) UpdateLatest(ctx context.Context) (snapshot.PointerUpdate, error) {
	upd, err := s.Store.UpdateLatestPointer(ctx)
	s.logPointer(ctx, "update", upd, err)
	return upd, err
}

// Pin points latest at version and records the move.
func (s *Service) Pin(ctx context.Context, version string) (snapshot.PointerUpdate, error) {
	upd, err := s.Store.Pin(ctx, version)
	s.logPointer(ctx, "pin", upd, err)
	return upd, err
}

func (s *Service) logPointer(ctx context.Context, op string, upd snapshot.PointerUpdate, err error) {
	if err == nil && !upd.Changed {
		return
	}
	details := map[string]any{"op": op, "method": upd.Method}
	if upd.Warning != nil {
		details["pointer_warning"] = upd.Warning.Error()
	}
	if err != nil {
		details["error"] = err.Error()
	}
	s.Events.LogEvent(ctx, observability.Event{
		Type: observability.EventPointer, Version: upd.Version,
		Details: details, Success: err == nil,
	})
}
