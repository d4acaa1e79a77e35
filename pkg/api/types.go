package api

import (
	"time"

	"github.com/valpere/ScrapeSentry/pkg/types"
)

// ExecutionRecord represents one scraper run reported to or read from
// the API. IDs are assigned by the server on ingest.
type ExecutionRecord struct {
	ID           int64     `json:"id"`
	ScraperName  string    `json:"scraper_name"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Success      bool      `json:"success"`
	ErrorType    string    `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
}

// ChangeEvent represents one recorded structural drift on a watched page
type ChangeEvent struct {
	ID              int64                `json:"id"`
	URL             string               `json:"url"`
	PreviousHash    string               `json:"previous_hash"`
	CurrentHash     string               `json:"current_hash"`
	Severity        types.ChangeSeverity `json:"severity"`
	BrokenSelectors []string             `json:"broken_selectors,omitempty"`
	DetectedAt      time.Time            `json:"detected_at"`
}

// FailurePattern represents one classified group of related failures
type FailurePattern struct {
	ID           string            `json:"id"`
	PatternType  types.PatternType `json:"pattern_type"`
	ScraperName  string            `json:"scraper_name"`
	Signature    string            `json:"signature"`
	Occurrences  int               `json:"occurrences"`
	Confidence   float64           `json:"confidence"`
	FirstSeen    time.Time         `json:"first_seen"`
	LastSeen     time.Time         `json:"last_seen"`
	SuggestedFix string            `json:"suggested_fix"`
}

// BaselineSummary describes the accepted baseline for one watched page
type BaselineSummary struct {
	URL           string          `json:"url"`
	State         types.PageState `json:"state"`
	StructureHash string          `json:"structure_hash"`
	Selectors     int             `json:"selectors"` // tracked selector count
	FetchedAt     time.Time       `json:"fetched_at"`
	AcceptedAt    time.Time       `json:"accepted_at"`
}

// SelectorMapping represents one adopted selector repair
type SelectorMapping struct {
	URL              string    `json:"url"`
	OriginalSelector string    `json:"original_selector"`
	CurrentSelector  string    `json:"current_selector"`
	Confidence       float64   `json:"confidence"`
	AdoptedAt        time.Time `json:"adopted_at"`
}

// HistoryStats aggregates change activity inside a trailing window
type HistoryStats struct {
	WindowDays    int                            `json:"window_days"`
	Since         time.Time                      `json:"since"`
	TotalEvents   int64                          `json:"total_events"`
	BySeverity    map[types.ChangeSeverity]int64 `json:"by_severity"`
	ByURL         map[string]int64               `json:"by_url"`
	ByPatternType map[types.PatternType]int64    `json:"by_pattern_type"`
	ByDay         []DayCount                     `json:"by_day"`
}

// DayCount is one UTC day's event total inside a stats window
type DayCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// StatsReport bundles a stats window with the events and patterns behind it
type StatsReport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Stats       *HistoryStats    `json:"stats,omitempty"`
	Events      []ChangeEvent    `json:"events"`
	Patterns    []FailurePattern `json:"patterns,omitempty"`
}

// ExecutionsResponse is the envelope for execution list queries
type ExecutionsResponse struct {
	Executions []ExecutionRecord `json:"executions"`
	Count      int               `json:"count"`
}

// ChangesResponse is the envelope for change history queries
type ChangesResponse struct {
	Events []ChangeEvent `json:"events"`
	Count  int           `json:"count"`
}

// PatternsResponse is the envelope for pattern queries
type PatternsResponse struct {
	Patterns []FailurePattern `json:"patterns"`
	Count    int              `json:"count"`
}

// BaselinesResponse is the envelope for baseline listings
type BaselinesResponse struct {
	Baselines []BaselineSummary `json:"baselines"`
	Count     int               `json:"count"`
}

// EscalationsResponse lists pages parked for manual intervention
type EscalationsResponse struct {
	Escalations []string `json:"escalations"`
	Count       int      `json:"count"`
}

// MappingsResponse is the envelope for selector mapping queries
type MappingsResponse struct {
	Mappings []SelectorMapping `json:"mappings"`
	Count    int               `json:"count"`
}

// ResetRequest asks the server to rebuild a page baseline from the
// configured selectors, clearing any adopted mappings
type ResetRequest struct {
	URL string `json:"url"`
}

// ResetResponse confirms a completed baseline reset
type ResetResponse struct {
	URL           string          `json:"url"`
	State         types.PageState `json:"state"`
	StructureHash string          `json:"structure_hash"`
	Selectors     int             `json:"selectors"`
	ResetAt       time.Time       `json:"reset_at"`
}

// HealthCheck is one component's probe outcome inside a health report
type HealthCheck struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"` // healthy, unhealthy
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HealthStatus represents the aggregate health of the service
type HealthStatus struct {
	Status     string        `json:"status"` // healthy, degraded, unhealthy
	Timestamp  time.Time     `json:"timestamp"`
	Uptime     string        `json:"uptime"`
	Checks     []HealthCheck `json:"checks"`
	Goroutines int           `json:"goroutines"`
	HeapBytes  uint64        `json:"heap_bytes"`
}

// ErrorResponse is the body returned with any non-2xx API status
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ExecutionFilter narrows an execution list query. Zero values mean
// "no filter".
type ExecutionFilter struct {
	ScraperName string
	Since       time.Time
	Limit       int
}

// ChangeFilter narrows a change history query. Zero values mean
// "no filter".
type ChangeFilter struct {
	URL      string
	Severity types.ChangeSeverity
	Limit    int
}
