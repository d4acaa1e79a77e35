// internal/export/archive_test.go
package export

import (
	"strings"
	"testing"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
)

func TestValidateTableName(t *testing.T) {
	tests := []struct {
		name        string
		table       string
		expectError bool
	}{
		{"simple", "change_events", false},
		{"mixed case", "ChangeEvents", false},
		{"leading underscore", "_archive", false},
		{"empty", "", true},
		{"leading digit", "1events", true},
		{"hyphen", "change-events", true},
		{"space", "change events", true},
		{"quote injection", `events"; DROP TABLE baselines; --`, true},
		{"too long", strings.Repeat("e", 64), true},
		{"max length", strings.Repeat("e", 63), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTableName(tt.table)
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEventArgsMatchesColumnOrder(t *testing.T) {
	event := internal.StructureChangeEvent{
		ID:              7,
		URL:             "https://fund.example.com/nav",
		PreviousHash:    "aaa",
		CurrentHash:     "bbb",
		Severity:        internal.SeverityHigh,
		BrokenSelectors: []string{".nav-value", ".ticker"},
		DetectedAt:      time.Date(2025, 6, 10, 12, 0, 0, 0, time.FixedZone("EEST", 3*3600)),
	}

	args := eventArgs(event)
	if len(args) != len(eventColumns) {
		t.Fatalf("expected %d args, got %d", len(eventColumns), len(args))
	}

	if args[0] != int64(7) {
		t.Errorf("expected event_id 7, got %v", args[0])
	}
	if args[2] != "HIGH" {
		t.Errorf("expected severity HIGH, got %v", args[2])
	}
	if args[5] != `[".nav-value",".ticker"]` {
		t.Errorf("expected JSON selector list, got %v", args[5])
	}

	detectedAt, ok := args[6].(time.Time)
	if !ok {
		t.Fatalf("expected time.Time for detected_at, got %T", args[6])
	}
	if detectedAt.Location() != time.UTC {
		t.Errorf("detected_at should be normalized to UTC, got %v", detectedAt.Location())
	}
	if detectedAt.Hour() != 9 {
		t.Errorf("expected 09:00 UTC for 12:00 EEST, got %v", detectedAt)
	}
}

func TestEventArgsEmptySelectors(t *testing.T) {
	args := eventArgs(internal.StructureChangeEvent{ID: 1, DetectedAt: time.Now()})
	if args[5] != "[]" {
		t.Errorf("expected empty JSON array for nil selectors, got %v", args[5])
	}
}

func TestEventBatches(t *testing.T) {
	if batches := eventBatches(nil); batches != nil {
		t.Errorf("expected no batches for no events, got %d", len(batches))
	}

	events := make([]internal.StructureChangeEvent, 1200)
	batches := eventBatches(events)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches for 1200 events, got %d", len(batches))
	}
	if len(batches[0]) != 500 || len(batches[1]) != 500 || len(batches[2]) != 200 {
		t.Errorf("unexpected batch sizes: %d, %d, %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}

func TestPgRowPlaceholder(t *testing.T) {
	if got := pgRowPlaceholder(1, 3); got != "($1, $2, $3)" {
		t.Errorf("unexpected placeholder group: %s", got)
	}
	if got := pgRowPlaceholder(8, 3); got != "($8, $9, $10)" {
		t.Errorf("unexpected placeholder group: %s", got)
	}
}

func TestArchiverConstructorsValidateConfig(t *testing.T) {
	if _, err := NewMySQLArchiver(config.DatabaseConfig{}); err == nil {
		t.Error("expected error for missing MySQL DSN")
	}
	if _, err := NewPostgresArchiver(config.DatabaseConfig{}); err == nil {
		t.Error("expected error for missing PostgreSQL DSN")
	}
	if _, err := NewMongoWriter(config.DatabaseConfig{}); err == nil {
		t.Error("expected error for missing MongoDB DSN")
	}
	if _, err := NewMongoWriter(config.DatabaseConfig{DSN: "mongodb://localhost:27017"}); err == nil {
		t.Error("expected error for missing MongoDB database name")
	}

	// Table validation runs before any connection is attempted.
	if _, err := NewMySQLArchiver(config.DatabaseConfig{
		DSN:   "user:pass@tcp(localhost:3306)/sentry",
		Table: "bad-name",
	}); err == nil {
		t.Error("expected error for invalid MySQL table name")
	}
	if _, err := NewPostgresArchiver(config.DatabaseConfig{
		DSN:   "postgres://localhost/sentry",
		Table: `events"; DROP`,
	}); err == nil {
		t.Error("expected error for invalid PostgreSQL table name")
	}
}
