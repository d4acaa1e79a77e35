// internal/export/json.go
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// JSONWriter renders the full report, stats included, as one indented
// JSON document.
type JSONWriter struct {
	filename string
	file     *os.File
}

// NewJSONWriter creates a new JSON report writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if filename == "" {
		return nil, fmt.Errorf("JSON export file path is required")
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	return &JSONWriter{
		filename: filename,
		file:     file,
	}, nil
}

// Write encodes the report to the file.
func (w *JSONWriter) Write(ctx context.Context, report *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoder := json.NewEncoder(w.file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// Close closes the JSON writer.
func (w *JSONWriter) Close() error {
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}
