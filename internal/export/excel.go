// internal/export/excel.go
package export

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/valpere/ScrapeSentry/internal"
)

// Sheet names in the exported workbook.
const (
	sheetSummary  = "Summary"
	sheetChanges  = "Changes"
	sheetPatterns = "Patterns"
)

// ExcelWriter renders a report as a three-sheet workbook: a stats
// summary, the change events, and the failure patterns.
type ExcelWriter struct {
	filename    string
	file        *excelize.File
	headerStyle int
}

// NewExcelWriter creates a new Excel report writer.
func NewExcelWriter(filename string) (*ExcelWriter, error) {
	if filename == "" {
		return nil, fmt.Errorf("Excel export file path is required")
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".xlsx") {
		return nil, fmt.Errorf("Excel export file path must end with .xlsx")
	}

	file := excelize.NewFile()
	file.SetSheetName(file.GetSheetName(0), sheetSummary)

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
			Size: 12,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E0E0E0"},
			Pattern: 1,
		},
	})
	if err != nil {
		return nil, err
	}

	return &ExcelWriter{
		filename:    filename,
		file:        file,
		headerStyle: headerStyle,
	}, nil
}

// Write fills all three sheets. The workbook is held in memory until
// Close saves it.
func (w *ExcelWriter) Write(ctx context.Context, report *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := w.writeSummary(report); err != nil {
		return err
	}
	if err := w.writeTable(sheetChanges, eventColumns, eventTable(report.Events)); err != nil {
		return err
	}
	return w.writeTable(sheetPatterns, patternColumns, patternTable(report.Patterns))
}

// Close saves the workbook and releases it.
func (w *ExcelWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.SaveAs(w.filename)
	closeErr := w.file.Close()
	w.file = nil
	if err != nil {
		return err
	}
	return closeErr
}

// writeSummary renders the stats section as label/value pairs followed
// by the per-severity, per-URL, and per-day breakdowns.
func (w *ExcelWriter) writeSummary(report *Report) error {
	rows := [][]interface{}{
		{"Generated at", report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")},
	}

	if stats := report.Stats; stats != nil {
		rows = append(rows,
			[]interface{}{"Window days", stats.WindowDays},
			[]interface{}{"Window start", stats.Since.Format("2006-01-02")},
			[]interface{}{"Total events", stats.TotalEvents},
			[]interface{}{},
		)

		rows = append(rows, []interface{}{"Severity", "Events"})
		for _, severity := range []internal.ChangeSeverity{
			internal.SeverityCritical, internal.SeverityHigh, internal.SeverityMedium, internal.SeverityLow,
		} {
			if count, ok := stats.BySeverity[severity]; ok {
				rows = append(rows, []interface{}{string(severity), count})
			}
		}
		rows = append(rows, []interface{}{})

		rows = append(rows, []interface{}{"URL", "Events"})
		for _, url := range sortedKeys(stats.ByURL) {
			rows = append(rows, []interface{}{url, stats.ByURL[url]})
		}
		rows = append(rows, []interface{}{})

		rows = append(rows, []interface{}{"Day", "Events"})
		for _, day := range stats.ByDay {
			rows = append(rows, []interface{}{day.Day, day.Count})
		}
	}

	for i, row := range rows {
		for j, value := range row {
			cell := columnName(j+1) + strconv.Itoa(i+1)
			if err := w.file.SetCellValue(sheetSummary, cell, value); err != nil {
				return err
			}
		}
	}

	return w.file.SetColWidth(sheetSummary, "A", "A", 40)
}

// writeTable creates a sheet with a styled header row, the data rows,
// and a frozen header pane.
func (w *ExcelWriter) writeTable(sheet string, header []string, rows [][]string) error {
	index, err := w.file.NewSheet(sheet)
	if err != nil {
		return err
	}
	w.file.SetActiveSheet(index)

	for col, title := range header {
		cell := columnName(col+1) + "1"
		if err := w.file.SetCellValue(sheet, cell, title); err != nil {
			return err
		}
		if err := w.file.SetCellStyle(sheet, cell, cell, w.headerStyle); err != nil {
			return err
		}
	}

	for i, row := range rows {
		for j, value := range row {
			cell := columnName(j+1) + strconv.Itoa(i+2)
			if err := w.file.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}

	if err := w.file.SetColWidth(sheet, "A", columnName(len(header)), 24); err != nil {
		return err
	}

	return w.file.SetPanes(sheet, &excelize.Panes{
		Freeze: true,
		YSplit: 1,
	})
}

func eventTable(events []internal.StructureChangeEvent) [][]string {
	rows := make([][]string, 0, len(events))
	for _, event := range events {
		rows = append(rows, eventRow(event))
	}
	return rows
}

func patternTable(patterns []internal.FailurePattern) [][]string {
	rows := make([][]string, 0, len(patterns))
	for _, pattern := range patterns {
		rows = append(rows, patternRow(pattern))
	}
	return rows
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// columnName converts a 1-based column number to an Excel column name
// (A, B, ..., Z, AA, AB, ...).
func columnName(col int) string {
	name := ""
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return name
}
