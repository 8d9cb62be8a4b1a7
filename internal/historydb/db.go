// Package historydb is an ambient durability addition (spec §3.1): a
// SQLite-backed mirror of completed recovery records and periodic
// performance snapshots. It exists purely so this data survives a
// process restart; it is never consulted for the core delivery path,
// the grace-window decision, or dedup, and a write failure here is
// logged exactly like any other PersistenceError (spec §7) — it never
// blocks a delivery or a response.
package historydb

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a migrated SQLite database.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// runs pending migrations. Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{sql: sqlDB}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.sql.Close()
}
