// internal/export/postgresql.go
package export

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
)

// PostgresArchiver appends change events to a PostgreSQL table. Rows
// are keyed by event_id; conflicts are ignored so re-archiving an
// overlapping window is safe.
type PostgresArchiver struct {
	db    *sql.DB
	table string
}

// NewPostgresArchiver connects, verifies the connection, and creates
// the archive table when missing.
func NewPostgresArchiver(cfg config.DatabaseConfig) (*PostgresArchiver, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("PostgreSQL connection string is required")
	}
	table := cfg.Table
	if table == "" {
		table = "change_events"
	}
	if err := validateTableName(table); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	archiver := &PostgresArchiver{db: db, table: table}
	if err := archiver.ensureTable(); err != nil {
		db.Close()
		return nil, err
	}
	return archiver, nil
}

func (a *PostgresArchiver) ensureTable() error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		event_id BIGINT PRIMARY KEY,
		url TEXT NOT NULL,
		severity VARCHAR(16) NOT NULL,
		previous_hash TEXT NOT NULL,
		current_hash TEXT NOT NULL,
		broken_selectors TEXT NOT NULL,
		detected_at TIMESTAMPTZ NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, a.table)

	if _, err := a.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", a.table, err)
	}
	return nil
}

// Write inserts the report's events in batches. Stats and patterns are
// not archived to SQL; they are recomputable from the rows.
func (a *PostgresArchiver) Write(ctx context.Context, report *Report) error {
	for _, batch := range eventBatches(report.Events) {
		if err := a.insertBatch(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (a *PostgresArchiver) insertBatch(ctx context.Context, batch []internal.StructureChangeEvent) error {
	placeholders := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*len(eventColumns))
	for i, event := range batch {
		placeholders = append(placeholders, pgRowPlaceholder(i*len(eventColumns)+1, len(eventColumns)))
		args = append(args, eventArgs(event)...)
	}

	query := fmt.Sprintf("INSERT INTO %q (%s) VALUES %s ON CONFLICT (event_id) DO NOTHING",
		a.table,
		strings.Join(eventColumns, ", "),
		strings.Join(placeholders, ", "))

	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to archive %d events: %w", len(batch), err)
	}
	return nil
}

// pgRowPlaceholder builds one "($1, $2, ...)" group starting at the
// given 1-based argument index.
func pgRowPlaceholder(start, width int) string {
	parts := make([]string, width)
	for i := 0; i < width; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Close closes the PostgreSQL connection pool.
func (a *PostgresArchiver) Close() error {
	if a.db != nil {
		err := a.db.Close()
		a.db = nil
		return err
	}
	return nil
}
