// Package storage persists benchmark runs and their per-request results in
// SQLite so sweeps can be compared across invocations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("record not found")

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite doesn't handle concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &DB{db}, nil
}

// Migrate creates the schema if it does not exist
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationRuns,
		migrationRequestResults,
		migrationIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

const migrationRuns = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	endpoint TEXT NOT NULL,
	model TEXT NOT NULL,
	context_size TEXT NOT NULL DEFAULT '',
	num_requests INTEGER NOT NULL,
	concurrency INTEGER NOT NULL,
	dispatched INTEGER NOT NULL,
	partial INTEGER NOT NULL DEFAULT 0,
	peak_in_flight INTEGER NOT NULL DEFAULT 0,

	-- Summary
	success_count INTEGER NOT NULL,
	failure_count INTEGER NOT NULL,
	error_rate REAL NOT NULL,
	token_throughput REAL NOT NULL,
	requests_per_second REAL NOT NULL,
	p50_latency_ms REAL,
	p50_ttft_ms REAL,

	config_json TEXT NOT NULL,
	stats_json TEXT NOT NULL
);
`

const migrationRequestResults = `
CREATE TABLE IF NOT EXISTS request_results (
	run_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	request_id TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	start_ns INTEGER NOT NULL,
	headers_ns INTEGER NOT NULL DEFAULT 0,
	first_token_ns INTEGER NOT NULL DEFAULT 0,
	last_token_ns INTEGER NOT NULL DEFAULT 0,
	end_ns INTEGER NOT NULL,
	http_status INTEGER NOT NULL DEFAULT 0,
	finish_reason TEXT NOT NULL DEFAULT '',
	unterminated INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	reasoning_tokens INTEGER NOT NULL DEFAULT 0,
	usage_output_tokens INTEGER NOT NULL DEFAULT 0,
	estimated_output_tokens INTEGER NOT NULL DEFAULT 0,
	output_bytes INTEGER NOT NULL DEFAULT 0,
	output_chars INTEGER NOT NULL DEFAULT 0,
	prompt_chars INTEGER NOT NULL DEFAULT 0,
	prompt_tokens_estimate INTEGER NOT NULL DEFAULT 0,

	PRIMARY KEY (run_id, idx),
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model);
CREATE INDEX IF NOT EXISTS idx_request_results_status ON request_results(run_id, status);
`
