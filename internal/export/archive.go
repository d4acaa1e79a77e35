// internal/export/archive.go
package export

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/valpere/ScrapeSentry/internal"
)

// archiveBatchSize bounds one multi-row INSERT against MySQL or
// PostgreSQL.
const archiveBatchSize = 500

// tableNameRegex matches identifiers safe to splice into DDL: letters,
// digits, underscores, starting with a letter or underscore.
var tableNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validateTableName guards the one identifier that reaches SQL text
// from configuration. 63 bytes is the PostgreSQL limit, the stricter of
// the two dialects.
func validateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("table name too long (max 63 characters): %s", name)
	}
	if !tableNameRegex.MatchString(name) {
		return fmt.Errorf("invalid table name: %s", name)
	}
	return nil
}

// eventArgs flattens one change event into insert arguments matching
// eventColumns order. Broken selectors are stored as a JSON array,
// never null.
func eventArgs(event internal.StructureChangeEvent) []interface{} {
	selectors := event.BrokenSelectors
	if selectors == nil {
		selectors = []string{}
	}
	broken, _ := json.Marshal(selectors)
	return []interface{}{
		event.ID,
		event.URL,
		string(event.Severity),
		event.PreviousHash,
		event.CurrentHash,
		string(broken),
		event.DetectedAt.UTC(),
	}
}

// eventBatches splits events into archiveBatchSize chunks.
func eventBatches(events []internal.StructureChangeEvent) [][]internal.StructureChangeEvent {
	var batches [][]internal.StructureChangeEvent
	for start := 0; start < len(events); start += archiveBatchSize {
		end := start + archiveBatchSize
		if end > len(events) {
			end = len(events)
		}
		batches = append(batches, events[start:end])
	}
	return batches
}
