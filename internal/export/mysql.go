// internal/export/mysql.go
package export

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
)

// MySQLArchiver appends change events to a MySQL table. Rows are keyed
// by event_id; re-archiving an overlapping window is a no-op for rows
// already present.
type MySQLArchiver struct {
	db    *sql.DB
	table string
}

// NewMySQLArchiver connects, verifies the connection, and creates the
// archive table when missing.
func NewMySQLArchiver(cfg config.DatabaseConfig) (*MySQLArchiver, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("MySQL connection string is required")
	}
	table := cfg.Table
	if table == "" {
		table = "change_events"
	}
	if err := validateTableName(table); err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	archiver := &MySQLArchiver{db: db, table: table}
	if err := archiver.ensureTable(); err != nil {
		db.Close()
		return nil, err
	}
	return archiver, nil
}

func (a *MySQLArchiver) ensureTable() error {
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (\n"+
		"	event_id BIGINT NOT NULL,\n"+
		"	url VARCHAR(2048) NOT NULL,\n"+
		"	severity VARCHAR(16) NOT NULL,\n"+
		"	previous_hash VARCHAR(64) NOT NULL,\n"+
		"	current_hash VARCHAR(64) NOT NULL,\n"+
		"	broken_selectors TEXT NOT NULL,\n"+
		"	detected_at DATETIME NOT NULL,\n"+
		"	archived_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,\n"+
		"	PRIMARY KEY (event_id)\n"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", a.table)

	if _, err := a.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", a.table, err)
	}
	return nil
}

// Write inserts the report's events in batches. Stats and patterns are
// not archived to SQL; they are recomputable from the rows.
func (a *MySQLArchiver) Write(ctx context.Context, report *Report) error {
	for _, batch := range eventBatches(report.Events) {
		if err := a.insertBatch(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (a *MySQLArchiver) insertBatch(ctx context.Context, batch []internal.StructureChangeEvent) error {
	placeholders := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*len(eventColumns))
	for _, event := range batch {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, eventArgs(event)...)
	}

	query := fmt.Sprintf("INSERT IGNORE INTO `%s` (%s) VALUES %s",
		a.table,
		strings.Join(eventColumns, ", "),
		strings.Join(placeholders, ", "))

	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to archive %d events: %w", len(batch), err)
	}
	return nil
}

// Close closes the MySQL connection pool.
func (a *MySQLArchiver) Close() error {
	if a.db != nil {
		err := a.db.Close()
		a.db = nil
		return err
	}
	return nil
}
