// Package sqlite implements the account repository using SQLite as the
// storage backend.
//
// The uniqueness invariant of the identity core lives here: the UNIQUE index
// on accounts.nickname is the actual enforcement mechanism behind the
// reconciler's check-then-create. Application-level lookups are advisory —
// two racing creates for the same nickname are decided by this index, and
// the loser gets a conflict error to re-evaluate on.
//
// We use modernc.org/sqlite (pure Go translation of SQLite) rather than the
// CGo driver, so the binary cross-compiles without a C toolchain.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	// Side-effect import: registers the "sqlite" driver with database/sql.
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// DB wraps a sql.DB connection pool and provides the repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the SQLite database at dbPath and runs migrations.
// Use ":memory:" for tests — a fresh database that dies with the connection.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// An in-memory database exists per connection; cap the pool at one so
	// every query sees the same database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	// Surface a bad path or permissions problem now instead of on the
	// first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL allows concurrent reads while a write is in flight — reconciliation
	// calls for different nicknames proceed in parallel.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Linkage rows must not outlive their account.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE TABLE IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	// accounts: nickname is nullable ON PURPOSE. Providers may deliver an
	// empty nickname and empty never collides (SQLite's UNIQUE index
	// ignores NULLs), so "" is stored as NULL and the index only guards
	// real nicknames.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL DEFAULT '',
			nickname     TEXT UNIQUE,
			email        TEXT NOT NULL DEFAULT '',
			github       TEXT NOT NULL DEFAULT '',
			twitter      TEXT NOT NULL DEFAULT '',
			image_url    TEXT NOT NULL DEFAULT '',
			description  TEXT NOT NULL DEFAULT '',
			homepage_url TEXT NOT NULL DEFAULT '',
			location     TEXT NOT NULL DEFAULT '',
			admin        INTEGER NOT NULL DEFAULT 0,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating accounts table: %w", err)
	}

	// account_providers: the (provider, uid) secondary index. One row per
	// provider-side identity; the primary key makes a provider identity
	// claimable by exactly one account.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS account_providers (
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			provider   TEXT NOT NULL,
			uid        TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (provider, uid)
		);
		CREATE INDEX IF NOT EXISTS idx_account_providers_account
			ON account_providers(account_id);
	`)
	if err != nil {
		return fmt.Errorf("creating account_providers table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE (or primary key)
// constraint failure. The reconciler turns this into a re-lookup.
func isUniqueViolation(err error) bool {
	var serr *sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT,
		sqlite3lib.SQLITE_CONSTRAINT_UNIQUE,
		sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
