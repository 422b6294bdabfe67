// CLAUDE:SUMMARY Tariff snapshot table names and the built-in template DDL cloned into every new snapshot.
package tariff

// Table names inside a snapshot.
const (
	TableTariff       = "arancel_nacional"
	TableSectionNotes = "section_notes"
	TableChapterNotes = "chapter_notes"
	TableCodeHistory  = "ncm_versions"
	TableMetadata     = "db_metadata"
)

// Schema is the built-in template used when no template snapshot is
// configured. The tariff table keeps its historical column names so that
// snapshots produced before this engine stay readable.
const Schema = `
CREATE TABLE IF NOT EXISTS arancel_nacional (
    NCM         TEXT PRIMARY KEY,
    DESCRIPCION TEXT NOT NULL DEFAULT '',
    AEC         TEXT,
    CL          TEXT,
    "E/Z"       TEXT,
    "I/Z"       TEXT,
    UVF         TEXT,
    SECTION     TEXT,
    CHAPTER     TEXT
);
CREATE INDEX IF NOT EXISTS idx_arancel_section ON arancel_nacional(SECTION);
CREATE INDEX IF NOT EXISTS idx_arancel_chapter ON arancel_nacional(CHAPTER);

CREATE TABLE IF NOT EXISTS section_notes (
    id             INTEGER PRIMARY KEY,
    section_number TEXT NOT NULL UNIQUE,
    note_text      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chapter_notes (
    id             INTEGER PRIMARY KEY,
    chapter_number TEXT NOT NULL UNIQUE,
    note_text      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS ncm_versions (
    id           INTEGER PRIMARY KEY,
    ncm_code     TEXT NOT NULL,
    version_date TEXT NOT NULL,
    description  TEXT,
    aec          REAL,
    ez           REAL,
    iz           REAL,
    uvf          REAL,
    cl           TEXT,
    source_file  TEXT,
    active       INTEGER NOT NULL DEFAULT 1,
    created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ncm_versions_code ON ncm_versions(ncm_code, version_date);
`

// MetadataSchema creates the per-snapshot key/value metadata table.
const MetadataSchema = `CREATE TABLE IF NOT EXISTS db_metadata (key TEXT PRIMARY KEY, value TEXT)`
