// Package store persists the Email, Expense, Label, and SyncState
// collections in a local SQLite database, and implements brute-force
// cosine similarity search over the stored embeddings.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection implementing the Email/Expense/Label/
// SyncState collections described by the ingestion and search components.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS emails (
	id                TEXT PRIMARY KEY,
	thread_id         TEXT NOT NULL DEFAULT '',
	subject           TEXT NOT NULL DEFAULT '',
	sender            TEXT NOT NULL DEFAULT '',
	recipients_to     TEXT NOT NULL DEFAULT '',
	recipients_cc     TEXT NOT NULL DEFAULT '',
	recipients_bcc    TEXT NOT NULL DEFAULT '',
	date_iso          TEXT NOT NULL DEFAULT '',
	date_timestamp    INTEGER NOT NULL DEFAULT 0,
	snippet           TEXT NOT NULL DEFAULT '',
	is_read           INTEGER NOT NULL DEFAULT 0,
	is_starred        INTEGER NOT NULL DEFAULT 0,
	is_draft          INTEGER NOT NULL DEFAULT 0,
	has_attachments   INTEGER NOT NULL DEFAULT 0,
	labels            TEXT NOT NULL DEFAULT '',
	history_id        TEXT NOT NULL DEFAULT '',
	size_estimate     INTEGER NOT NULL DEFAULT 0,
	list_unsubscribe  TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	document          TEXT NOT NULL DEFAULT '',
	embedding         BLOB,
	actions_extracted INTEGER NOT NULL DEFAULT 0,
	action_items_json TEXT NOT NULL DEFAULT '',
	has_action_items  INTEGER NOT NULL DEFAULT 0,
	spending_json     TEXT NOT NULL DEFAULT '',
	has_transactions  INTEGER NOT NULL DEFAULT 0,
	llm_categorized   INTEGER NOT NULL DEFAULT 0,
	extra_json        TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_emails_date ON emails(date_timestamp);
CREATE INDEX IF NOT EXISTS idx_emails_category ON emails(category);
CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender);

CREATE TABLE IF NOT EXISTS expenses (
	id              TEXT PRIMARY KEY,
	amount          REAL NOT NULL DEFAULT 0,
	currency        TEXT NOT NULL DEFAULT '',
	merchant        TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	source_sender   TEXT NOT NULL DEFAULT '',
	labels          TEXT NOT NULL DEFAULT '',
	date_iso        TEXT NOT NULL DEFAULT '',
	date_timestamp  INTEGER NOT NULL DEFAULT 0,
	confidence      REAL NOT NULL DEFAULT 0,
	rule_name       TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL DEFAULT '',
	source_gmail_id TEXT NOT NULL DEFAULT '',
	thread_id       TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	document        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_expenses_source_gmail_id ON expenses(source_gmail_id);

CREATE TABLE IF NOT EXISTS labels (
	id      TEXT PRIMARY KEY,
	name    TEXT NOT NULL DEFAULT '',
	type    TEXT NOT NULL DEFAULT '',
	visible INTEGER NOT NULL DEFAULT 1,
	color   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sync_state (
	key                  TEXT PRIMARY KEY,
	last_history_id      TEXT NOT NULL DEFAULT '',
	last_full_sync       TEXT NOT NULL DEFAULT '',
	total_emails_synced  INTEGER NOT NULL DEFAULT 0
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
