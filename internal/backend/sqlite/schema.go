// Package sqlite implements mailbox.Set against a single-user SQLite
// database. Large message bodies above a configurable threshold spill
// to the optional blob tier instead of being stored inline (see
// internal/backend/blob).
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	stmts := []struct {
		name string
		ddl  string
	}{
		{"mailboxes", `
			CREATE TABLE IF NOT EXISTS mailboxes (
				id INTEGER PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				uid_validity INTEGER NOT NULL,
				uid_next INTEGER NOT NULL,
				readonly BOOLEAN NOT NULL DEFAULT 0,
				subscribed BOOLEAN NOT NULL DEFAULT 0,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);
		`},
		{"messages", `
			CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY,
				mailbox_id INTEGER NOT NULL,
				uid INTEGER NOT NULL,
				flags TEXT NOT NULL DEFAULT '',
				recent BOOLEAN NOT NULL DEFAULT 0,
				internal_date TIMESTAMP NOT NULL,
				size_bytes INTEGER NOT NULL,
				blob_id INTEGER,
				literal BLOB,
				FOREIGN KEY (mailbox_id) REFERENCES mailboxes(id),
				UNIQUE(mailbox_id, uid)
			);
		`},
		{"blobs", `
			CREATE TABLE IF NOT EXISTS blobs (
				id INTEGER PRIMARY KEY,
				s3_key TEXT NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);
		`},
	}
	for _, s := range stmts {
		if _, err := db.Exec(s.ddl); err != nil {
			return fmt.Errorf("create %s table: %w", s.name, err)
		}
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_mailbox_uid ON messages(mailbox_id, uid)`); err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}
	return nil
}
