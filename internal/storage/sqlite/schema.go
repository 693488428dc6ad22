package sqlite

// schema is applied with CREATE TABLE IF NOT EXISTS, so it can run
// unconditionally on every startup instead of needing a migration
// version table. Bitmask-style flags are expanded into explicit boolean
// columns. Filter rules and kind blacklist entries are addressed by TEXT
// UUIDs rather than bare rowids so admin API clients get stable,
// externally-referenceable ids; safelist and IP rows are keyed by npub and
// address, and log rows by autoincrement ids.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS relay_config (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	url     TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS relay_info (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	name           TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	supported_nips TEXT NOT NULL DEFAULT '[]',
	software       TEXT NOT NULL DEFAULT '',
	version        TEXT NOT NULL DEFAULT '',
	updated_at     TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS filter_rules (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	query_text TEXT NOT NULL,
	enabled    INTEGER NOT NULL DEFAULT 1,
	rule_order INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS safelist (
	npub          TEXT PRIMARY KEY,
	post_allowed  INTEGER NOT NULL DEFAULT 1,
	filter_bypass INTEGER NOT NULL DEFAULT 0,
	banned        INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ip_access_control (
	ip_address  TEXT PRIMARY KEY,
	banned      INTEGER NOT NULL DEFAULT 0,
	whitelisted INTEGER NOT NULL DEFAULT 0,
	memo        TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS req_kind_blacklist (
	id         TEXT PRIMARY KEY,
	kind_value INTEGER,
	kind_min   INTEGER,
	kind_max   INTEGER,
	applies_to TEXT NOT NULL DEFAULT 'publish',
	enabled    INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS connection_logs (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	ip_address           TEXT NOT NULL,
	connected_at         TEXT NOT NULL,
	disconnected_at      TEXT,
	event_count          INTEGER NOT NULL DEFAULT 0,
	rejected_event_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS event_rejection_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id   TEXT NOT NULL,
	pubkey_hex TEXT NOT NULL,
	npub       TEXT NOT NULL,
	ip_address TEXT NOT NULL,
	kind       INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_connection_logs_connected_at ON connection_logs(connected_at DESC);
CREATE INDEX IF NOT EXISTS idx_rejection_logs_created_at ON event_rejection_logs(created_at DESC);
`

// Migrate applies the schema. Safe to call on every startup.
func Migrate(db *DB) error {
	_, err := db.sql.Exec(schema)
	return err
}
