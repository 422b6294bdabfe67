// CLAUDE:SUMMARY SQLite-backed ops log of snapshot builds, migrations and pointer moves, with retention cleanup.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/idgen"
)

// Event types.
const (
	EventBuild     = "build"
	EventMigration = "migration"
	EventPointer   = "pointer"
)

// Event is one recorded offline operation.
type Event struct {
	ID            string         `json:"id,omitempty"`
	Type          string         `json:"type"`
	RunID         string         `json:"run_id,omitempty"`
	Version       string         `json:"version,omitempty"`
	SourceVersion string         `json:"source_version,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	Success       bool           `json:"success"`
	CreatedAt     time.Time      `json:"created_at"`
}

// EventLogger writes events to the ops database. A nil *EventLogger is
// valid and records nothing.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithLogger sets the slog logger used to report write failures.
func WithLogger(lg *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = lg }
}

// Open opens (creating if needed) the ops database at path.
func Open(path string) (*sql.DB, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	return db, nil
}

// NewEventLogger creates a logger backed by the given ops database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records an event. Non-blocking: errors are logged via slog but do
// not propagate, so a failing ops store never fails a build or migration.
func (l *EventLogger) LogEvent(ctx context.Context, e Event) {
	if l == nil {
		return
	}
	var details sql.NullString
	if len(e.Details) > 0 {
		data, err := json.Marshal(e.Details)
		if err != nil {
			l.logger.Warn("observability: marshal details", "error", err, "event_type", e.Type)
		} else {
			details = sql.NullString{String: string(data), Valid: true}
		}
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO snapshot_events (
			event_id, event_type, run_id, version, source_version, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		l.newID(), e.Type, e.RunID, e.Version, e.SourceVersion, details, e.Success, created.Unix())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", e.Type)
	}
}

// Filter narrows Recent. Zero fields match everything.
type Filter struct {
	Type    string
	Version string
	Limit   int
}

// Recent returns events newest first.
func (l *EventLogger) Recent(ctx context.Context, f Filter) ([]Event, error) {
	if l == nil {
		return nil, nil
	}
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, f.Type)
	}
	if f.Version != "" {
		where = append(where, "version = ?")
		args = append(args, f.Version)
	}
	q := `SELECT event_id, event_type, COALESCE(run_id,''), COALESCE(version,''),
		COALESCE(source_version,''), details, success, created_at FROM snapshot_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += " ORDER BY created_at DESC, event_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			details sql.NullString
			ts      int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.RunID, &e.Version, &e.SourceVersion, &details, &e.Success, &ts); err != nil {
			return nil, err
		}
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				e.Details = map[string]any{"raw": details.String}
			}
		}
		e.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// RetentionConfig specifies retention in days. Zero means no cleanup.
type RetentionConfig struct {
	EventDays      int
	RunVacuumAfter bool
}

// Cleanup deletes events older than the retention threshold.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	if cfg.EventDays > 0 {
		cutoff := time.Now().Unix() - int64(cfg.EventDays*86400)
		if _, err := db.ExecContext(ctx, `DELETE FROM snapshot_events WHERE created_at < ?`, cutoff); err != nil {
			return fmt.Errorf("observability: cleanup: %w", err)
		}
	}
	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("observability: vacuum: %w", err)
		}
	}
	return nil
}
