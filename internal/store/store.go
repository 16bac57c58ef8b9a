// Package store is the SQLite persistence gateway: projects with their
// conversation turns and drafts, recorded lectures with their generated
// outputs, and a change notifier for read-model refreshes.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '',
	linked_lecture_ids TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	text TEXT NOT NULL DEFAULT '',
	question1 TEXT,
	question2 TEXT,
	question3 TEXT,
	selected_question_index INTEGER,
	sequence_number INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(project_id, sequence_number)
);

CREATE TABLE IF NOT EXISTS drafts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	version INTEGER NOT NULL,
	is_current INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS draft_configs (
	project_id INTEGER PRIMARY KEY REFERENCES projects(id) ON DELETE CASCADE,
	word_goal INTEGER NOT NULL,
	tone TEXT NOT NULL,
	refinement TEXT NOT NULL,
	include_summary INTEGER NOT NULL,
	include_highlights INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS lectures (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	transcription TEXT NOT NULL,
	duration_seconds INTEGER NOT NULL,
	word_count INTEGER NOT NULL,
	project_id INTEGER REFERENCES projects(id) ON DELETE SET NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS lecture_outputs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	lecture_id INTEGER NOT NULL REFERENCES lectures(id) ON DELETE CASCADE,
	output_type TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(lecture_id, output_type)
);
`

// Store provides read/write access to the voicedraft SQLite database.
type Store struct {
	db       *sql.DB
	notifier *Notifier
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "voicedraft", "voicedraft.sqlite")
}

// Open opens (creating if necessary) the database at path and applies the
// schema. Pass ":memory:" for an ephemeral database. The connection pool is
// capped at one connection; SQLite serializes writers anyway and a single
// connection keeps in-memory databases coherent.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, notifier: NewNotifier()}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.notifier.Close()
	return s.db.Close()
}

// Subscribe registers for change signals on one topic. See Notifier.Subscribe.
func (s *Store) Subscribe(topic Topic) (<-chan struct{}, func()) {
	return s.notifier.Subscribe(topic)
}

func now() int64 {
	return time.Now().Unix()
}

func timeFromUnix(ts int64) time.Time {
	return time.Unix(ts, 0)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
