// internal/types.go
package internal

import (
	"time"
)

// Core domain types shared across the internal package hierarchy.

// PatternType classifies a detected failure pattern.
type PatternType string

const (
	PatternRecurringError   PatternType = "RECURRING_ERROR"
	PatternRateLimiting     PatternType = "RATE_LIMITING"
	PatternStructuralChange PatternType = "STRUCTURAL_CHANGE"
)

// Valid reports whether the pattern type is one of the known values.
func (p PatternType) Valid() bool {
	switch p {
	case PatternRecurringError, PatternRateLimiting, PatternStructuralChange:
		return true
	}
	return false
}

// ChangeSeverity grades how disruptive a detected structural change is.
type ChangeSeverity string

const (
	SeverityLow      ChangeSeverity = "LOW"
	SeverityMedium   ChangeSeverity = "MEDIUM"
	SeverityHigh     ChangeSeverity = "HIGH"
	SeverityCritical ChangeSeverity = "CRITICAL"
)

// Rank maps a severity to an ordinal so callers can apply thresholds.
// Unknown severities rank below LOW.
func (s ChangeSeverity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether the severity is one of the known values.
func (s ChangeSeverity) Valid() bool {
	return s.Rank() > 0
}

// PageState tracks a monitored URL through the detect/recover lifecycle.
//
// BASELINED -> CHANGED -> RECOVERED -> BASELINED on successful adoption,
// or CHANGED -> ESCALATED when no candidate validates. ESCALATED is
// terminal until a manual baseline reset.
type PageState string

const (
	PageStateBaselined PageState = "BASELINED"
	PageStateChanged   PageState = "CHANGED"
	PageStateRecovered PageState = "RECOVERED"
	PageStateEscalated PageState = "ESCALATED"
)

// Valid reports whether the state is one of the known values.
func (s PageState) Valid() bool {
	switch s {
	case PageStateBaselined, PageStateChanged, PageStateRecovered, PageStateEscalated:
		return true
	}
	return false
}

// ExecutionRecord captures the outcome of a single scraper run.
// Records are immutable once written and pruned after a retention window.
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

// FailurePattern is one classified group of related failures. Patterns are
// derived fresh on every analysis pass, never mutated incrementally.
type FailurePattern struct {
	ID           string      `json:"id"`
	PatternType  PatternType `json:"pattern_type"`
	ScraperName  string      `json:"scraper_name"`
	Signature    string      `json:"signature"`
	Occurrences  int         `json:"occurrences"`
	Confidence   float64     `json:"confidence"`
	FirstSeen    time.Time   `json:"first_seen"`
	LastSeen     time.Time   `json:"last_seen"`
	SuggestedFix string      `json:"suggested_fix"`
}

// ElementSignature describes what one tracked selector currently resolves to.
// SampleText and PathHash are diagnostic only and never feed the page hash.
type ElementSignature struct {
	Count      int    `json:"count"`
	SampleText string `json:"sample_text,omitempty"`
	PathHash   string `json:"path_hash,omitempty"`
}

// StructureSnapshot is the canonical structural fingerprint of a page at a
// point in time. StructureHash covers tag names and sorted attribute names
// only, so the hash is insensitive to content edits but sensitive to layout.
type StructureSnapshot struct {
	URL               string                      `json:"url"`
	FetchedAt         time.Time                   `json:"fetched_at"`
	StructureHash     string                      `json:"structure_hash"`
	ElementSignatures map[string]ElementSignature `json:"element_signatures"`
	RawSize           int                         `json:"raw_size"`
}

// StructureChangeEvent records one detected drift between an accepted
// baseline and a fresh snapshot. Events are append-only.
type StructureChangeEvent struct {
	ID              int64          `json:"id"`
	URL             string         `json:"url"`
	PreviousHash    string         `json:"previous_hash"`
	CurrentHash     string         `json:"current_hash"`
	Severity        ChangeSeverity `json:"severity"`
	BrokenSelectors []string       `json:"broken_selectors,omitempty"`
	DetectedAt      time.Time      `json:"detected_at"`
}

// SelectorCandidate is a proposed replacement for a broken selector. The
// mapper's confidence is advisory; only Validated decides adoption.
type SelectorCandidate struct {
	OriginalSelector  string  `json:"original_selector"`
	CandidateSelector string  `json:"candidate_selector"`
	Confidence        float64 `json:"confidence"`
	Validated         bool    `json:"validated"`
	Explanation       string  `json:"explanation,omitempty"`
	ValidationError   string  `json:"validation_error,omitempty"`
}

// PageResult is the raw outcome of fetching one page.
type PageResult struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	HTML       string        `json:"-"`
	FetchedAt  time.Time     `json:"fetched_at"`
	Duration   time.Duration `json:"duration"`
}

// Baseline pairs the last accepted snapshot for a URL with its lifecycle
// state. The snapshot is ground truth until superseded.
type Baseline struct {
	Snapshot   StructureSnapshot `json:"snapshot"`
	State      PageState         `json:"state"`
	AcceptedAt time.Time         `json:"accepted_at"`
}

// HistoryStats aggregates change activity inside a trailing window.
type HistoryStats struct {
	WindowDays    int                      `json:"window_days"`
	Since         time.Time                `json:"since"`
	TotalEvents   int64                    `json:"total_events"`
	BySeverity    map[ChangeSeverity]int64 `json:"by_severity"`
	ByURL         map[string]int64         `json:"by_url"`
	ByPatternType map[PatternType]int64    `json:"by_pattern_type"`
	ByDay         []DayCount               `json:"by_day"`
}

// DayCount is one UTC day's event total inside a stats window.
type DayCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}
