// Package store persists a published Index snapshot to SQLite so a reopened
// project whose files are unchanged can skip the extraction passes entirely.
// The database is a warm-start cache, not a source of truth: any hash
// mismatch on load throws the snapshot away and the pipeline rebuilds from
// source.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath with WAL mode enabled.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying handle, used by tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  version         INTEGER NOT NULL,
  hash            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scopes (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  kind            TEXT NOT NULL,
  start_line      INTEGER, start_col INTEGER,
  end_line        INTEGER, end_col   INTEGER,
  parent_scope_id INTEGER REFERENCES scopes(id)
);

CREATE TABLE IF NOT EXISTS symbols (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  scope_id        INTEGER REFERENCES scopes(id),
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  signature       TEXT,
  start_line      INTEGER, start_col INTEGER,
  end_line        INTEGER, end_col   INTEGER,
  name_start_line INTEGER, name_start_col INTEGER,
  name_end_line   INTEGER, name_end_col   INTEGER,
  type_name       TEXT,
  type_source     TEXT
);

CREATE TABLE IF NOT EXISTS refs (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  scope_id        INTEGER REFERENCES scopes(id),
  name            TEXT NOT NULL,
  start_line      INTEGER, start_col INTEGER,
  end_line        INTEGER, end_col   INTEGER
);

CREATE TABLE IF NOT EXISTS ref_targets (
  ref_id          INTEGER NOT NULL REFERENCES refs(id) ON DELETE CASCADE,
  symbol_id       INTEGER NOT NULL REFERENCES symbols(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS requires (
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  source          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_refs_name ON refs(name);
CREATE INDEX IF NOT EXISTS idx_ref_targets_symbol ON ref_targets(symbol_id);
`

// SetMetadata stores a key/value pair.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetMetadata returns the value for key, or "" when absent.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// FileHashes returns the stored path → content hash map, used to decide
// whether a warm start is valid.
func (s *Store) FileHashes() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT path, hash FROM files`)
	if err != nil {
		return nil, fmt.Errorf("store: file hashes: %w", err)
	}
	defer rows.Close()
	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		hashes[path] = hash
	}
	return hashes, rows.Err()
}
