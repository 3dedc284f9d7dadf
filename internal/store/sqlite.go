// Package store persists tenant configs, session records, conversation
// snapshots and the escalation audit log in one SQLite file.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// pragmas run on every open. Session workers write conversation snapshots
// concurrently, so writers wait on the lock instead of failing fast.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// DB is the bot's database handle.
type DB struct {
	sql *sql.DB
	log *logging.Logger
}

// Open opens or creates the database at path and brings its schema up to
// date.
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	if path == MemoryPath {
		// each pooled connection would get its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	db := &DB{sql: sqlDB, log: log.Sub("store")}
	applied, err := db.migrate()
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	db.log.Info().Str("path", path).Int("migrations_applied", applied).Msg("database ready")
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.sql.Close()
}

// SQL exposes the handle for the typed stores of this package.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// SchemaVersion returns the newest applied migration.
func (db *DB) SchemaVersion() (int, error) {
	var v sql.NullInt64
	if err := db.sql.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(v.Int64), nil
}

// migrate applies every migration newer than the schema version, each in
// its own transaction, and returns how many ran.
func (db *DB) migrate() (int, error) {
	if _, err := db.sql.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}
	current, err := db.SchemaVersion()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(m); err != nil {
			return applied, err
		}
		db.log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("migration applied")
		applied++
	}
	return applied, nil
}

func (db *DB) apply(m migration) (err error) {
	tx, err := db.sql.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: %w", m.Version, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()
	if _, err = tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err = tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
		return fmt.Errorf("recording migration %d: %w", m.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", m.Version, err)
	}
	return nil
}
