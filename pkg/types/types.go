// pkg/types/types.go
package types

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/andybalholm/cascadia"
)

// PageState represents the lifecycle state of a monitored page
type PageState string

const (
	StateBaselined PageState = "BASELINED"
	StateChanged   PageState = "CHANGED"
	StateRecovered PageState = "RECOVERED"
	StateEscalated PageState = "ESCALATED"
)

// ValidPageStates returns all valid page state values
func ValidPageStates() []PageState {
	return []PageState{
		StateBaselined, StateChanged, StateRecovered, StateEscalated,
	}
}

// IsValid checks if the page state is valid
func (ps PageState) IsValid() bool {
	for _, valid := range ValidPageStates() {
		if ps == valid {
			return true
		}
	}
	return false
}

// String returns the string representation of the page state
func (ps PageState) String() string {
	return string(ps)
}

// IsTerminal returns true if the state blocks further automatic checks
// until an operator intervenes
func (ps PageState) IsTerminal() bool {
	return ps == StateEscalated
}

// GetDescription returns a human-readable description of the page state
func (ps PageState) GetDescription() string {
	switch ps {
	case StateBaselined:
		return "Accepted baseline on file, checks run normally"
	case StateChanged:
		return "Structural drift detected, recovery in progress"
	case StateRecovered:
		return "Repaired selectors adopted, awaiting a clean pass"
	case StateEscalated:
		return "Automatic recovery failed, manual baseline reset required"
	default:
		return "Unknown page state"
	}
}

// ChangeSeverity represents how disruptive a structural change is
type ChangeSeverity string

const (
	SeverityLow      ChangeSeverity = "LOW"
	SeverityMedium   ChangeSeverity = "MEDIUM"
	SeverityHigh     ChangeSeverity = "HIGH"
	SeverityCritical ChangeSeverity = "CRITICAL"
)

// ValidChangeSeverities returns all valid change severity values
func ValidChangeSeverities() []ChangeSeverity {
	return []ChangeSeverity{
		SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical,
	}
}

// IsValid checks if the change severity is valid
func (cs ChangeSeverity) IsValid() bool {
	for _, valid := range ValidChangeSeverities() {
		if cs == valid {
			return true
		}
	}
	return false
}

// String returns the string representation of the change severity
func (cs ChangeSeverity) String() string {
	return string(cs)
}

// GetNumericLevel returns the numeric level for comparison
func (cs ChangeSeverity) GetNumericLevel() int {
	switch cs {
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

// RequiresRecovery returns true if the severity triggers selector recovery
func (cs ChangeSeverity) RequiresRecovery() bool {
	return cs == SeverityCritical
}

// PatternType represents a classified failure pattern
type PatternType string

const (
	PatternRecurringError   PatternType = "RECURRING_ERROR"
	PatternRateLimiting     PatternType = "RATE_LIMITING"
	PatternStructuralChange PatternType = "STRUCTURAL_CHANGE"
)

// ValidPatternTypes returns all valid pattern type values
func ValidPatternTypes() []PatternType {
	return []PatternType{
		PatternRecurringError, PatternRateLimiting, PatternStructuralChange,
	}
}

// IsValid checks if the pattern type is valid
func (pt PatternType) IsValid() bool {
	for _, valid := range ValidPatternTypes() {
		if pt == valid {
			return true
		}
	}
	return false
}

// String returns the string representation of the pattern type
func (pt PatternType) String() string {
	return string(pt)
}

// GetDescription returns a human-readable description of the pattern type
func (pt PatternType) GetDescription() string {
	switch pt {
	case PatternRecurringError:
		return "Same failure repeating across executions"
	case PatternRateLimiting:
		return "Failures consistent with request throttling"
	case PatternStructuralChange:
		return "Failures aligned with a detected page structure change"
	default:
		return "Unknown pattern"
	}
}

// CheckOutcome represents the result of one monitoring pass over a page
type CheckOutcome string

const (
	OutcomeBaselined   CheckOutcome = "baselined"
	OutcomeUnchanged   CheckOutcome = "unchanged"
	OutcomeRebaselined CheckOutcome = "rebaselined"
	OutcomeRecovered   CheckOutcome = "recovered"
	OutcomeEscalated   CheckOutcome = "escalated"
	OutcomeSkipped     CheckOutcome = "skipped"
	OutcomeConflict    CheckOutcome = "conflict"
	OutcomeFetchFailed CheckOutcome = "fetch_failed"
	OutcomeError       CheckOutcome = "error"
)

// ValidCheckOutcomes returns all valid check outcome values
func ValidCheckOutcomes() []CheckOutcome {
	return []CheckOutcome{
		OutcomeBaselined, OutcomeUnchanged, OutcomeRebaselined,
		OutcomeRecovered, OutcomeEscalated, OutcomeSkipped,
		OutcomeConflict, OutcomeFetchFailed, OutcomeError,
	}
}

// IsValid checks if the check outcome is valid
func (co CheckOutcome) IsValid() bool {
	for _, valid := range ValidCheckOutcomes() {
		if co == valid {
			return true
		}
	}
	return false
}

// String returns the string representation of the check outcome
func (co CheckOutcome) String() string {
	return string(co)
}

// NeedsAttention returns true if the outcome calls for operator review
func (co CheckOutcome) NeedsAttention() bool {
	switch co {
	case OutcomeEscalated, OutcomeFetchFailed, OutcomeError:
		return true
	default:
		return false
	}
}

// NotificationKind represents the event class of an outbound notification
type NotificationKind string

const (
	KindChangeDetected NotificationKind = "CHANGE_DETECTED"
	KindRecovered      NotificationKind = "RECOVERED"
	KindEscalated      NotificationKind = "ESCALATED"
)

// ValidNotificationKinds returns all valid notification kind values
func ValidNotificationKinds() []NotificationKind {
	return []NotificationKind{
		KindChangeDetected, KindRecovered, KindEscalated,
	}
}

// IsValid checks if the notification kind is valid
func (nk NotificationKind) IsValid() bool {
	for _, valid := range ValidNotificationKinds() {
		if nk == valid {
			return true
		}
	}
	return false
}

// String returns the string representation of the notification kind
func (nk NotificationKind) String() string {
	return string(nk)
}

// MapperType represents the semantic mapper backend used for recovery
type MapperType string

const (
	MapperHeuristic MapperType = "heuristic"
	MapperOpenAI    MapperType = "openai"
)

// ValidMapperTypes returns all valid mapper type values
func ValidMapperTypes() []MapperType {
	return []MapperType{MapperHeuristic, MapperOpenAI}
}

// IsValid checks if the mapper type is valid
func (mt MapperType) IsValid() bool {
	for _, valid := range ValidMapperTypes() {
		if mt == valid {
			return true
		}
	}
	return false
}

// String returns the string representation of the mapper type
func (mt MapperType) String() string {
	return string(mt)
}

// ExportFormat represents a report export destination
type ExportFormat string

const (
	FormatJSON       ExportFormat = "json"
	FormatCSV        ExportFormat = "csv"
	FormatExcel      ExportFormat = "excel"
	FormatMongoDB    ExportFormat = "mongodb"
	FormatMySQL      ExportFormat = "mysql"
	FormatPostgreSQL ExportFormat = "postgresql"
)

// ValidExportFormats returns all valid export format values
func ValidExportFormats() []ExportFormat {
	return []ExportFormat{
		FormatJSON, FormatCSV, FormatExcel,
		FormatMongoDB, FormatMySQL, FormatPostgreSQL,
	}
}

// IsValid checks if the export format is valid
func (ef ExportFormat) IsValid() bool {
	for _, valid := range ValidExportFormats() {
		if ef == valid {
			return true
		}
	}
	return false
}

// String returns the string representation of the export format
func (ef ExportFormat) String() string {
	return string(ef)
}

// IsDatabase returns true if the format archives to a database rather
// than writing a file
func (ef ExportFormat) IsDatabase() bool {
	switch ef {
	case FormatMongoDB, FormatMySQL, FormatPostgreSQL:
		return true
	default:
		return false
	}
}

// LogLevel represents different logging levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ValidLogLevels returns all valid log level values
func ValidLogLevels() []LogLevel {
	return []LogLevel{
		LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError,
	}
}

// IsValid checks if the log level is valid
func (ll LogLevel) IsValid() bool {
	for _, valid := range ValidLogLevels() {
		if ll == valid {
			return true
		}
	}
	return false
}

// String returns the string representation of the log level
func (ll LogLevel) String() string {
	return string(ll)
}

// GetNumericLevel returns the numeric level for comparison
func (ll LogLevel) GetNumericLevel() int {
	switch ll {
	case LogLevelDebug:
		return 0
	case LogLevelInfo:
		return 1
	case LogLevelWarn:
		return 2
	case LogLevelError:
		return 3
	default:
		return -1
	}
}

// Duration wraps time.Duration with custom JSON marshaling
type Duration time.Duration

// MarshalJSON implements json.Marshaler interface
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler interface
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration format: %s", s)
	}

	*d = Duration(parsed)
	return nil
}

// String returns the string representation of the duration
func (d Duration) String() string {
	return time.Duration(d).String()
}

// ToDuration converts to standard time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

// NewDuration creates a Duration from time.Duration
func NewDuration(td time.Duration) Duration {
	return Duration(td)
}

// URL represents a URL with validation and JSON marshaling support
type URL struct {
	*url.URL
}

// MarshalJSON implements json.Marshaler interface
func (u URL) MarshalJSON() ([]byte, error) {
	if u.URL == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(u.URL.String())
}

// UnmarshalJSON implements json.Unmarshaler interface
func (u *URL) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	if s == "" {
		u.URL = nil
		return nil
	}

	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL format: %s", s)
	}

	u.URL = parsed
	return nil
}

// String returns the string representation of the URL
func (u URL) String() string {
	if u.URL == nil {
		return ""
	}
	return u.URL.String()
}

// IsValid checks if the URL is valid and has required components
func (u URL) IsValid() bool {
	if u.URL == nil {
		return false
	}
	return u.URL.Scheme != "" && u.URL.Host != ""
}

// NewURL creates a new URL from string
func NewURL(s string) (*URL, error) {
	if s == "" {
		return &URL{}, nil
	}

	parsed, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %s", s)
	}

	return &URL{URL: parsed}, nil
}

// MustNewURL creates a new URL from string, panicking on error
func MustNewURL(s string) *URL {
	u, err := NewURL(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Selector represents a compiled CSS selector with JSON support
type Selector struct {
	Group   cascadia.SelectorGroup
	Pattern string `json:"pattern"`
}

// MarshalJSON implements json.Marshaler interface
func (s Selector) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Pattern)
}

// UnmarshalJSON implements json.Unmarshaler interface
func (s *Selector) UnmarshalJSON(data []byte) error {
	var pattern string
	if err := json.Unmarshal(data, &pattern); err != nil {
		return err
	}

	compiled, err := cascadia.ParseGroup(pattern)
	if err != nil {
		return fmt.Errorf("invalid CSS selector: %s", pattern)
	}

	s.Group = compiled
	s.Pattern = pattern
	return nil
}

// String returns the selector pattern string
func (s Selector) String() string {
	return s.Pattern
}

// IsValid checks if the selector is compiled and valid
func (s Selector) IsValid() bool {
	return s.Group != nil && s.Pattern != ""
}

// NewSelector creates a new Selector from a CSS selector string
func NewSelector(pattern string) (*Selector, error) {
	if pattern == "" {
		return nil, fmt.Errorf("CSS selector cannot be empty")
	}

	compiled, err := cascadia.ParseGroup(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid CSS selector: %s", pattern)
	}

	return &Selector{
		Group:   compiled,
		Pattern: pattern,
	}, nil
}

// MustNewSelector creates a new Selector from a pattern, panicking on error
func MustNewSelector(pattern string) *Selector {
	s, err := NewSelector(pattern)
	if err != nil {
		panic(err)
	}
	return s
}
