// internal/export/export.go
// Package export renders change history and trend statistics to files
// (JSON, CSV, Excel) and archives them to external databases (MongoDB,
// MySQL, PostgreSQL). Exports are read-only over the history store; the
// monitoring pipeline never depends on them.
package export

import (
	"context"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/history"
	"github.com/valpere/ScrapeSentry/internal/utils"
	"github.com/valpere/ScrapeSentry/pkg/types"
)

var logger = utils.NewComponentLogger("export")

// Format identifies one export destination.
type Format = types.ExportFormat

const (
	FormatJSON       = types.FormatJSON
	FormatCSV        = types.FormatCSV
	FormatExcel      = types.FormatExcel
	FormatMongoDB    = types.FormatMongoDB
	FormatMySQL      = types.FormatMySQL
	FormatPostgreSQL = types.FormatPostgreSQL
)

// Report is one export unit: a stats window together with the events and
// patterns behind it. File writers render all three; database archivers
// persist the rows and skip the aggregates.
type Report struct {
	GeneratedAt time.Time                       `json:"generated_at"`
	Stats       *internal.HistoryStats          `json:"stats,omitempty"`
	Events      []internal.StructureChangeEvent `json:"events"`
	Patterns    []internal.FailurePattern       `json:"patterns,omitempty"`
}

// Source supplies report content. *history.Store satisfies it.
type Source interface {
	Query(ctx context.Context, opts history.QueryOptions) ([]internal.StructureChangeEvent, error)
	Patterns(ctx context.Context, limit int) ([]internal.FailurePattern, error)
	Stats(ctx context.Context, windowDays int) (*internal.HistoryStats, error)
}

// BuildOptions bounds what goes into a report.
type BuildOptions struct {
	// WindowDays is the trailing stats and event window. Zero means 30.
	WindowDays int

	// URL restricts events to one page when set.
	URL string

	// MaxPatterns caps the patterns section. Zero means 50.
	MaxPatterns int
}

// Build assembles a report from the history store. The events section is
// limited to the stats window so files stay proportional to recent
// activity, not total history.
func Build(ctx context.Context, src Source, opts BuildOptions) (*Report, error) {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 30
	}
	if opts.MaxPatterns <= 0 {
		opts.MaxPatterns = 50
	}

	stats, err := src.Stats(ctx, opts.WindowDays)
	if err != nil {
		return nil, err
	}

	events, err := src.Query(ctx, history.QueryOptions{
		URL:   opts.URL,
		Since: stats.Since,
	})
	if err != nil {
		return nil, err
	}

	patterns, err := src.Patterns(ctx, opts.MaxPatterns)
	if err != nil {
		return nil, err
	}

	return &Report{
		GeneratedAt: time.Now().UTC(),
		Stats:       stats,
		Events:      events,
		Patterns:    patterns,
	}, nil
}

// Writer renders one report to its destination. Close releases the
// destination (file handle or database connection) and must be called
// even when Write failed.
type Writer interface {
	Write(ctx context.Context, report *Report) error
	Close() error
}

// NewWriter selects the writer for the configured format. File formats
// need cfg.File; database formats need cfg.Database.DSN.
func NewWriter(cfg config.ExportConfig) (Writer, error) {
	switch Format(cfg.Format) {
	case FormatJSON:
		return NewJSONWriter(cfg.File)
	case FormatCSV:
		return NewCSVWriter(cfg.File)
	case FormatExcel:
		return NewExcelWriter(cfg.File)
	case FormatMongoDB:
		return NewMongoWriter(cfg.Database)
	case FormatMySQL:
		return NewMySQLArchiver(cfg.Database)
	case FormatPostgreSQL:
		return NewPostgresArchiver(cfg.Database)
	default:
		return nil, utils.NewError(utils.ErrCodeConfig, "unsupported export format").
			WithContext("format", cfg.Format).
			Build()
	}
}

// Manager runs exports against a configured destination.
type Manager struct {
	cfg config.ExportConfig
}

// NewManager validates the destination up front so a bad config fails at
// startup, not on the first scheduled export.
func NewManager(cfg config.ExportConfig) (*Manager, error) {
	format := Format(cfg.Format)
	if !format.IsValid() {
		return nil, utils.NewError(utils.ErrCodeConfig, "unsupported export format").
			WithContext("format", cfg.Format).
			Build()
	}
	if format.IsDatabase() {
		if cfg.Database.DSN == "" {
			return nil, utils.NewError(utils.ErrCodeConfig, "export database DSN is required").
				WithContext("format", cfg.Format).
				Build()
		}
	} else if cfg.File == "" {
		return nil, utils.NewError(utils.ErrCodeConfig, "export file path is required").
			WithContext("format", cfg.Format).
			Build()
	}
	return &Manager{cfg: cfg}, nil
}

// Export opens the destination, writes the report, and closes it. The
// writer is created per call; database archivers reconnect each time,
// which keeps idle exports from pinning connections.
func (m *Manager) Export(ctx context.Context, report *Report) error {
	writer, err := NewWriter(m.cfg)
	if err != nil {
		return err
	}
	defer writer.Close()

	if err := writer.Write(ctx, report); err != nil {
		return err
	}

	logger.Infof("export complete: format=%s events=%d patterns=%d",
		m.cfg.Format, len(report.Events), len(report.Patterns))
	return nil
}
