// Package store provides SQLite-backed persistence for agora.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Store provides access to the agora SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for concurrent readers
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		reputation INTEGER NOT NULL,
		workload INTEGER NOT NULL DEFAULT 0,
		capabilities TEXT NOT NULL DEFAULT '{}',
		confidence_factor REAL NOT NULL,
		risk_tolerance REAL NOT NULL,
		workload_sensitivity REAL NOT NULL,
		exploration_rate REAL NOT NULL,
		task_type_preferences TEXT NOT NULL DEFAULT '{}',
		min_utility_threshold REAL NOT NULL DEFAULT 0,
		max_workload INTEGER NOT NULL DEFAULT 0,
		recent_scores TEXT NOT NULL DEFAULT '[]',
		tasks_completed INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		required_capabilities TEXT NOT NULL,
		reward REAL NOT NULL DEFAULT 0,
		min_reputation INTEGER NOT NULL DEFAULT 0,
		complexity INTEGER NOT NULL DEFAULT 0,
		urgency INTEGER NOT NULL DEFAULT 0,
		min_bid REAL NOT NULL DEFAULT 0,
		max_bid REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'open',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assignments (
		task_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		role TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		bid_amount REAL NOT NULL DEFAULT 0,
		mode TEXT NOT NULL,
		coverage_ratio REAL NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (task_id, agent_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS learning_events (
		agent_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		score INTEGER NOT NULL,
		reward REAL NOT NULL DEFAULT 0,
		tag_scores TEXT NOT NULL DEFAULT '{}',
		applied_at DATETIME NOT NULL,
		PRIMARY KEY (agent_id, task_id)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		executor TEXT NOT NULL,
		agent_ids TEXT NOT NULL DEFAULT '[]',
		outcome TEXT NOT NULL DEFAULT '',
		overall_score INTEGER NOT NULL DEFAULT 0,
		tag_scores TEXT NOT NULL DEFAULT '{}',
		result TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS audit (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		payload TEXT NOT NULL,
		task_id TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_assignments_agent_id ON assignments(agent_id);
	CREATE INDEX IF NOT EXISTS idx_runs_task_id ON runs(task_id);
	CREATE INDEX IF NOT EXISTS idx_audit_task_id ON audit(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "primary key")
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}
