// internal/storage/store.go

// Package storage owns the shared SQLite database backing the execution
// log, baseline table, change history, and adopted selector mappings.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/valpere/ScrapeSentry/internal/utils"
)

var logger = utils.NewComponentLogger("storage")

// Store wraps the shared database handle. All persistent packages
// (recorder, structure, history, recovery) operate through one Store so
// their tables live in a single WAL-mode database file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the SQLite database at path and ensures the
// schema exists. Use ":memory:" for throwaway test databases.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, utils.NewError(utils.ErrCodeConfig, "storage path cannot be empty").Build()
	}

	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, utils.NewStorageError("open database", err)
	}

	// SQLite handles one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY churn under concurrent writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, utils.NewStorageError("ping database", err)
	}

	for _, pragma := range []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Warnf("pragma failed: %s: %v", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debugf("opened database at %s", path)
	return s, nil
}

// DB exposes the underlying handle for package-level queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return utils.NewStorageError("ping", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewStorageError("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Errorf("rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return utils.NewStorageError("commit transaction", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return utils.NewStorageError("close database", err)
	}
	return nil
}

// initSchema creates all tables and indexes if they do not exist yet.
func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			scraper_name  TEXT NOT NULL,
			started_at    TIMESTAMP NOT NULL,
			finished_at   TIMESTAMP NOT NULL,
			success       INTEGER NOT NULL,
			error_type    TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			duration_ms   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_scraper_time
			ON executions(scraper_name, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_time
			ON executions(started_at)`,

		`CREATE TABLE IF NOT EXISTS baselines (
			url            TEXT PRIMARY KEY,
			structure_hash TEXT NOT NULL,
			fetched_at     TIMESTAMP NOT NULL,
			accepted_at    TIMESTAMP NOT NULL,
			state          TEXT NOT NULL DEFAULT 'BASELINED',
			signatures     TEXT NOT NULL DEFAULT '{}',
			raw_size       INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS change_events (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			url              TEXT NOT NULL,
			previous_hash    TEXT NOT NULL,
			current_hash     TEXT NOT NULL,
			severity         TEXT NOT NULL,
			broken_selectors TEXT NOT NULL DEFAULT '[]',
			detected_at      TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_url_time
			ON change_events(url, detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_time
			ON change_events(detected_at)`,

		`CREATE TABLE IF NOT EXISTS selector_mappings (
			url               TEXT NOT NULL,
			original_selector TEXT NOT NULL,
			current_selector  TEXT NOT NULL,
			confidence        REAL NOT NULL DEFAULT 0,
			adopted_at        TIMESTAMP NOT NULL,
			PRIMARY KEY (url, original_selector)
		)`,

		`CREATE TABLE IF NOT EXISTS pattern_observations (
			id            TEXT NOT NULL,
			pattern_type  TEXT NOT NULL,
			scraper_name  TEXT NOT NULL,
			signature     TEXT NOT NULL,
			occurrences   INTEGER NOT NULL,
			confidence    REAL NOT NULL,
			first_seen    TIMESTAMP NOT NULL,
			last_seen     TIMESTAMP NOT NULL,
			suggested_fix TEXT NOT NULL DEFAULT '',
			analyzed_at   TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pattern_observations_time
			ON pattern_observations(analyzed_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return utils.NewStorageError(fmt.Sprintf("init schema: %.40s", stmt), err)
		}
	}
	return nil
}
