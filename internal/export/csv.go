// internal/export/csv.go
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
)

// eventColumns is the fixed column order for tabular event exports. The
// SQL archivers reuse it so a CSV file and an archive table line up.
var eventColumns = []string{
	"event_id",
	"url",
	"severity",
	"previous_hash",
	"current_hash",
	"broken_selectors",
	"detected_at",
}

// patternColumns is the fixed column order for tabular pattern exports.
var patternColumns = []string{
	"pattern_id",
	"pattern_type",
	"scraper_name",
	"signature",
	"occurrences",
	"confidence",
	"first_seen",
	"last_seen",
	"suggested_fix",
}

// eventRow flattens one change event into eventColumns order. Broken
// selectors share one space-joined cell.
func eventRow(event internal.StructureChangeEvent) []string {
	return []string{
		strconv.FormatInt(event.ID, 10),
		event.URL,
		string(event.Severity),
		event.PreviousHash,
		event.CurrentHash,
		strings.Join(event.BrokenSelectors, " "),
		event.DetectedAt.UTC().Format(time.RFC3339),
	}
}

// patternRow flattens one failure pattern into patternColumns order.
func patternRow(pattern internal.FailurePattern) []string {
	return []string{
		pattern.ID,
		string(pattern.PatternType),
		pattern.ScraperName,
		pattern.Signature,
		strconv.Itoa(pattern.Occurrences),
		strconv.FormatFloat(pattern.Confidence, 'f', 3, 64),
		pattern.FirstSeen.UTC().Format(time.RFC3339),
		pattern.LastSeen.UTC().Format(time.RFC3339),
		pattern.SuggestedFix,
	}
}

// CSVWriter renders the events section of a report as CSV. Stats and
// patterns do not fit a single flat table; use the JSON or Excel writer
// when they are needed.
type CSVWriter struct {
	filename string
	file     *os.File
	writer   *csv.Writer
}

// NewCSVWriter creates a new CSV report writer.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if filename == "" {
		return nil, fmt.Errorf("CSV export file path is required")
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	return &CSVWriter{
		filename: filename,
		file:     file,
		writer:   csv.NewWriter(file),
	}, nil
}

// Write writes the header and one row per event.
func (w *CSVWriter) Write(ctx context.Context, report *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := w.writer.Write(eventColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, event := range report.Events {
		if err := w.writer.Write(eventRow(event)); err != nil {
			return fmt.Errorf("failed to write event %d: %w", event.ID, err)
		}
	}

	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and closes the CSV writer.
func (w *CSVWriter) Close() error {
	if w.writer != nil {
		w.writer.Flush()
		w.writer = nil
	}
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}
