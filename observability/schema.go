package observability

// Schema is the DDL of the ops database. It lives in its own file, never
// inside a snapshot, so snapshots stay immutable once built.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshot_events (
    event_id       TEXT PRIMARY KEY,
    event_type     TEXT NOT NULL,
    run_id         TEXT,
    version        TEXT,
    source_version TEXT,
    details        TEXT,
    success        INTEGER NOT NULL DEFAULT 1,
    created_at     INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_snapshot_events_type
    ON snapshot_events(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_snapshot_events_version
    ON snapshot_events(version, created_at DESC);
`

