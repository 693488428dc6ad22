// Package sqlite is the concrete, swappable repository behind the rule
// store, the ban/blacklist/safelist guards, the log sink, and the admin
// API's persistence surface. It is the "something on the other end" the
// specification treats as an external collaborator.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// newID mints a time-ordered UUIDv7 for rows that need one assigned on
// first insert, so externally-addressable resources (filter rules, kind
// blacklist entries) get stable, sortable ids instead of bare rowids.
func newID() string { return uuid.Must(uuid.NewV7()).String() }

// DB wraps a *sql.DB configured with this proxy's pragmas and hosts
// every repository/guard implementation as methods.
type DB struct {
	sql *sql.DB
}

// Open connects to dsn, which may be a bare filesystem path or a
// "sqlite:" prefixed URL as accepted by DATABASE_URL, applies pragmas,
// and runs the schema migration.
func Open(dsn string) (*DB, error) {
	dsn = strings.TrimPrefix(dsn, "sqlite:")

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", dsn, err)
	}

	db := &DB{sql: sqlDB}
	if err := Migrate(db); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error { return db.sql.Close() }

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullTime(t sql.NullString) time.Time {
	if !t.Valid || t.String == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, t.String)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
