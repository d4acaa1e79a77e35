// internal/recorder/recorder.go

// Package recorder maintains the append-only log of scraper run outcomes.
package recorder

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/storage"
	"github.com/valpere/ScrapeSentry/internal/utils"
)

// Recorder appends execution records and serves time-ordered reads.
// Writes are append-only, so concurrent writers need no coordination
// beyond the store's own serialization.
type Recorder struct {
	store   *storage.Store
	logger  utils.Logger
	dropped atomic.Uint64
}

// New creates a Recorder on the shared store.
func New(store *storage.Store) *Recorder {
	return &Recorder{
		store:  store,
		logger: utils.NewComponentLogger("recorder"),
	}
}

// Record appends one execution record. Recording is best effort: a storage
// failure is logged and counted but never surfaced, so a failing log write
// cannot abort the scraper that just ran.
func (r *Recorder) Record(ctx context.Context, rec internal.ExecutionRecord) {
	if rec.DurationMs == 0 && rec.FinishedAt.After(rec.StartedAt) {
		rec.DurationMs = rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
	}

	_, err := r.store.DB().ExecContext(ctx,
		`INSERT INTO executions
			(scraper_name, started_at, finished_at, success, error_type, error_message, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ScraperName,
		rec.StartedAt.UTC(),
		rec.FinishedAt.UTC(),
		boolToInt(rec.Success),
		rec.ErrorType,
		rec.ErrorMessage,
		rec.DurationMs,
	)
	if err != nil {
		r.dropped.Add(1)
		r.logger.WithField("scraper", rec.ScraperName).
			Errorf("dropped execution record: %v", err)
	}
}

// DroppedWrites reports how many records were lost to storage failures.
func (r *Recorder) DroppedWrites() uint64 {
	return r.dropped.Load()
}

// QueryOptions filters an execution query. Zero values mean "no filter".
type QueryOptions struct {
	ScraperName string
	Since       time.Time
	Limit       int
}

// Query returns a lazy cursor over matching records in ascending start
// time. The underlying sequence is stable, so re-running the same query
// restarts it from the beginning.
func (r *Recorder) Query(ctx context.Context, opts QueryOptions) (*Cursor, error) {
	var (
		where []string
		args  []interface{}
	)
	if opts.ScraperName != "" {
		where = append(where, "scraper_name = ?")
		args = append(args, opts.ScraperName)
	}
	if !opts.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, opts.Since.UTC())
	}

	query := `SELECT id, scraper_name, started_at, finished_at, success,
			error_type, error_message, duration_ms
		FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at ASC, id ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewStorageError("query executions", err)
	}
	return &Cursor{rows: rows}, nil
}

// Prune deletes records older than the cutoff and reports how many rows
// were removed. Unlike Record, pruning failures propagate.
func (r *Recorder) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.store.DB().ExecContext(ctx,
		"DELETE FROM executions WHERE started_at < ?", olderThan.UTC())
	if err != nil {
		return 0, utils.NewStorageError("prune executions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, utils.NewStorageError("prune executions", err)
	}
	if n > 0 {
		r.logger.Infof("pruned %d execution records older than %s", n, olderThan.Format(time.RFC3339))
	}
	return n, nil
}

// Cursor iterates lazily over query results. Callers must Close it.
type Cursor struct {
	rows    *sql.Rows
	current internal.ExecutionRecord
	err     error
}

// Next advances to the next record, returning false at the end or on error.
func (c *Cursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	var success int
	c.err = c.rows.Scan(
		&c.current.ID,
		&c.current.ScraperName,
		&c.current.StartedAt,
		&c.current.FinishedAt,
		&success,
		&c.current.ErrorType,
		&c.current.ErrorMessage,
		&c.current.DurationMs,
	)
	if c.err != nil {
		return false
	}
	c.current.Success = success != 0
	return true
}

// Record returns the record at the current position.
func (c *Cursor) Record() internal.ExecutionRecord {
	return c.current
}

// Err reports any error that terminated iteration.
func (c *Cursor) Err() error {
	if c.err != nil {
		return utils.NewStorageError("scan execution", c.err)
	}
	if err := c.rows.Err(); err != nil {
		return utils.NewStorageError("iterate executions", err)
	}
	return nil
}

// Close releases the cursor.
func (c *Cursor) Close() error {
	return c.rows.Close()
}

// All drains the cursor into a slice and closes it.
func (c *Cursor) All() ([]internal.ExecutionRecord, error) {
	defer c.Close()

	var records []internal.ExecutionRecord
	for c.Next() {
		records = append(records, c.Record())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
