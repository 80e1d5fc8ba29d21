// Package repository stores texts and synthesis jobs in SQLite.
package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS texts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	language TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audios (
	id TEXT PRIMARY KEY,
	text_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	voice TEXT NOT NULL,
	format TEXT NOT NULL,
	sample_rate INTEGER NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	duration REAL NOT NULL DEFAULT 0,
	segments TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	error_code TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audios_text_id ON audios(text_id);
CREATE INDEX IF NOT EXISTS idx_audios_status_updated ON audios(status, updated_at);
`

// DB owns the SQLite connection shared by the repositories.
type DB struct {
	db *sql.DB
}

// Open opens (creating when needed) the database at path and applies the schema.
// The special path ":memory:" keeps everything in memory.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		mkdirErr := os.MkdirAll(filepath.Dir(path), 0o750)
		if mkdirErr != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", mkdirErr)
		}
	}

	db, openErr := sql.Open(driverName, path)
	if openErr != nil {
		return nil, fmt.Errorf("failed to open database: %w", openErr)
	}

	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	_, execErr := db.Exec(schemaSQL)
	if execErr != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create tables: %w", execErr)
	}

	return &DB{db: db}, nil
}

// Texts returns the text repository.
func (d *DB) Texts() *TextRepository {
	return &TextRepository{db: d.db}
}

// Audios returns the synthesis job repository.
func (d *DB) Audios() *AudioRepository {
	return &AudioRepository{db: d.db}
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}
