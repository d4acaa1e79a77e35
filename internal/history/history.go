// internal/history/history.go

// Package history keeps the durable, append-only record of structure
// change events and analyzer findings, and answers the aggregate
// questions operators ask of it.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/storage"
	"github.com/valpere/ScrapeSentry/internal/utils"
)

var logger = utils.NewComponentLogger("history")

// Store is the change-history log. Events are immutable once appended;
// retention pruning is the only deletion path.
type Store struct {
	store *storage.Store
	clock utils.Clock
}

// New creates a history Store on top of the shared database.
func New(store *storage.Store) *Store {
	return &Store{store: store, clock: utils.SystemClock()}
}

// WithClock substitutes the time source, primarily for tests.
func (s *Store) WithClock(clock utils.Clock) *Store {
	s.clock = clock
	return s
}

// Append durably records one change event and fills in its assigned ID.
// Unlike execution recording, a failed append is reported to the caller:
// losing change history silently would defeat the audit trail.
func (s *Store) Append(ctx context.Context, event *internal.StructureChangeEvent) error {
	if !event.Severity.Valid() {
		return utils.NewError(utils.ErrCodeInternal, "unknown change severity").
			WithContext("severity", string(event.Severity)).
			Build()
	}

	broken, err := json.Marshal(event.BrokenSelectors)
	if err != nil {
		return utils.NewError(utils.ErrCodeInternal, "encode broken selectors").WithCause(err).Build()
	}

	res, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO change_events (url, previous_hash, current_hash, severity, broken_selectors, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.URL, event.PreviousHash, event.CurrentHash,
		string(event.Severity), string(broken), event.DetectedAt.UTC())
	if err != nil {
		return utils.NewStorageError("append change event", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return utils.NewStorageError("append change event", err)
	}
	event.ID = id

	logger.WithFields(map[string]interface{}{
		"url":      event.URL,
		"severity": string(event.Severity),
	}).Info("change event recorded")
	return nil
}

// QueryOptions narrows a history query. Zero values mean "no filter".
type QueryOptions struct {
	URL      string
	Since    time.Time
	Severity internal.ChangeSeverity
	Limit    int
}

// Query returns matching events ordered by detection time, oldest first.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]internal.StructureChangeEvent, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, url, previous_hash, current_hash, severity, broken_selectors, detected_at
		FROM change_events`)

	var conds []string
	var args []interface{}
	if opts.URL != "" {
		conds = append(conds, "url = ?")
		args = append(args, opts.URL)
	}
	if !opts.Since.IsZero() {
		conds = append(conds, "detected_at >= ?")
		args = append(args, opts.Since.UTC())
	}
	if opts.Severity != "" {
		if !opts.Severity.Valid() {
			return nil, utils.NewError(utils.ErrCodeInternal, "unknown change severity").
				WithContext("severity", string(opts.Severity)).
				Build()
		}
		conds = append(conds, "severity = ?")
		args = append(args, string(opts.Severity))
	}
	if len(conds) > 0 {
		query.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	query.WriteString(" ORDER BY detected_at ASC, id ASC")
	if opts.Limit > 0 {
		query.WriteString(fmt.Sprintf(" LIMIT %d", opts.Limit))
	}

	rows, err := s.store.DB().QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, utils.NewStorageError("query change events", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// OpenEvents returns the most recent event for each URL still out of
// baseline, the set the analyzer correlates failures against.
func (s *Store) OpenEvents(ctx context.Context) ([]internal.StructureChangeEvent, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT e.id, e.url, e.previous_hash, e.current_hash, e.severity, e.broken_selectors, e.detected_at
		FROM change_events e
		JOIN baselines b ON b.url = e.url
		WHERE b.state IN (?, ?)
		  AND e.id = (SELECT MAX(id) FROM change_events WHERE url = e.url)
		ORDER BY e.url`,
		string(internal.PageStateChanged), string(internal.PageStateEscalated))
	if err != nil {
		return nil, utils.NewStorageError("query open events", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// RecordPatterns appends one observation row per pattern from an analysis
// pass. Observations are never updated in place; each pass writes its own
// rows stamped with the analysis time.
func (s *Store) RecordPatterns(ctx context.Context, patterns []internal.FailurePattern) error {
	if len(patterns) == 0 {
		return nil
	}
	analyzedAt := s.clock.Now().UTC()

	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, p := range patterns {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO pattern_observations
					(id, pattern_type, scraper_name, signature, occurrences, confidence, first_seen, last_seen, suggested_fix, analyzed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.ID, string(p.PatternType), p.ScraperName, p.Signature,
				p.Occurrences, p.Confidence, p.FirstSeen.UTC(), p.LastSeen.UTC(),
				p.SuggestedFix, analyzedAt)
			if err != nil {
				return utils.NewStorageError("record pattern", err)
			}
		}
		return nil
	})
}

// Patterns returns the findings of the most recent analysis pass in the
// analyzer's reporting order.
func (s *Store) Patterns(ctx context.Context, limit int) ([]internal.FailurePattern, error) {
	query := `
		SELECT id, pattern_type, scraper_name, signature, occurrences, confidence, first_seen, last_seen, suggested_fix
		FROM pattern_observations
		WHERE analyzed_at = (SELECT MAX(analyzed_at) FROM pattern_observations)
		ORDER BY confidence DESC, occurrences DESC, first_seen ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.store.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, utils.NewStorageError("query patterns", err)
	}
	defer rows.Close()

	var patterns []internal.FailurePattern
	for rows.Next() {
		var p internal.FailurePattern
		var patternType string
		if err := rows.Scan(&p.ID, &patternType, &p.ScraperName, &p.Signature,
			&p.Occurrences, &p.Confidence, &p.FirstSeen, &p.LastSeen, &p.SuggestedFix); err != nil {
			return nil, utils.NewStorageError("scan pattern", err)
		}
		p.PatternType = internal.PatternType(patternType)
		p.FirstSeen = p.FirstSeen.UTC()
		p.LastSeen = p.LastSeen.UTC()
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewStorageError("query patterns", err)
	}
	return patterns, nil
}

// Stats aggregates the last windowDays of history by severity, URL,
// pattern type, and day.
func (s *Store) Stats(ctx context.Context, windowDays int) (*internal.HistoryStats, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := s.clock.Now().UTC().AddDate(0, 0, -windowDays)

	stats := &internal.HistoryStats{
		WindowDays:    windowDays,
		Since:         since,
		BySeverity:    make(map[internal.ChangeSeverity]int64),
		ByURL:         make(map[string]int64),
		ByPatternType: make(map[internal.PatternType]int64),
	}

	db := s.store.DB()

	rows, err := db.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM change_events
		WHERE detected_at >= ? GROUP BY severity`, since)
	if err != nil {
		return nil, utils.NewStorageError("stats by severity", err)
	}
	for rows.Next() {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			rows.Close()
			return nil, utils.NewStorageError("stats by severity", err)
		}
		stats.BySeverity[internal.ChangeSeverity(severity)] = count
		stats.TotalEvents += count
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `
		SELECT url, COUNT(*) FROM change_events
		WHERE detected_at >= ? GROUP BY url`, since)
	if err != nil {
		return nil, utils.NewStorageError("stats by url", err)
	}
	for rows.Next() {
		var url string
		var count int64
		if err := rows.Scan(&url, &count); err != nil {
			rows.Close()
			return nil, utils.NewStorageError("stats by url", err)
		}
		stats.ByURL[url] = count
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	// The driver stores timestamps as text starting YYYY-MM-DD, so the
	// day bucket is a prefix, not a date() call that would choke on
	// nanosecond precision.
	rows, err = db.QueryContext(ctx, `
		SELECT substr(detected_at, 1, 10) AS day, COUNT(*) FROM change_events
		WHERE detected_at >= ? GROUP BY day ORDER BY day`, since)
	if err != nil {
		return nil, utils.NewStorageError("stats by day", err)
	}
	for rows.Next() {
		var dc internal.DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			rows.Close()
			return nil, utils.NewStorageError("stats by day", err)
		}
		stats.ByDay = append(stats.ByDay, dc)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `
		SELECT pattern_type, COUNT(DISTINCT id) FROM pattern_observations
		WHERE analyzed_at >= ? GROUP BY pattern_type`, since)
	if err != nil {
		return nil, utils.NewStorageError("stats by pattern type", err)
	}
	for rows.Next() {
		var patternType string
		var count int64
		if err := rows.Scan(&patternType, &count); err != nil {
			rows.Close()
			return nil, utils.NewStorageError("stats by pattern type", err)
		}
		stats.ByPatternType[internal.PatternType(patternType)] = count
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	return stats, nil
}

// Prune deletes events and observations older than the cutoff and
// reports how many rows went.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	var total int64

	res, err := s.store.DB().ExecContext(ctx,
		`DELETE FROM change_events WHERE detected_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, utils.NewStorageError("prune change events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, utils.NewStorageError("prune change events", err)
	}
	total += n

	res, err = s.store.DB().ExecContext(ctx,
		`DELETE FROM pattern_observations WHERE analyzed_at < ?`, olderThan.UTC())
	if err != nil {
		return total, utils.NewStorageError("prune pattern observations", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return total, utils.NewStorageError("prune pattern observations", err)
	}
	total += n

	if total > 0 {
		logger.WithField("rows", total).Info("history pruned")
	}
	return total, nil
}

func scanEvents(rows *sql.Rows) ([]internal.StructureChangeEvent, error) {
	var events []internal.StructureChangeEvent
	for rows.Next() {
		var event internal.StructureChangeEvent
		var severity, broken string
		if err := rows.Scan(&event.ID, &event.URL, &event.PreviousHash, &event.CurrentHash,
			&severity, &broken, &event.DetectedAt); err != nil {
			return nil, utils.NewStorageError("scan change event", err)
		}
		event.Severity = internal.ChangeSeverity(severity)
		event.DetectedAt = event.DetectedAt.UTC()
		if err := json.Unmarshal([]byte(broken), &event.BrokenSelectors); err != nil {
			return nil, utils.NewStorageError("decode broken selectors", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewStorageError("scan change events", err)
	}
	return events, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return utils.NewStorageError("iterate rows", err)
	}
	if err := rows.Close(); err != nil {
		return utils.NewStorageError("close rows", err)
	}
	return nil
}
