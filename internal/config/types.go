// internal/config/types.go

// Package config provides configuration types and loading for ScrapeSentry.
// It defines the watch targets, detection heuristics, recovery settings, and
// operational options for the failure-detection and recovery service.
package config

import (
	"time"
)

// Config represents the root configuration for the monitoring service.
type Config struct {
	// Storage configures the authoritative SQLite store
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Watch lists the pages to track and how often to check them
	Watch WatchConfig `yaml:"watch" json:"watch"`

	// Fetch tunes page retrieval
	Fetch FetchConfig `yaml:"fetch" json:"fetch"`

	// Analyzer tunes failure-pattern detection heuristics
	Analyzer AnalyzerConfig `yaml:"analyzer" json:"analyzer"`

	// Recovery configures automatic selector repair
	Recovery RecoveryConfig `yaml:"recovery" json:"recovery"`

	// Notify configures notification sinks
	Notify NotifyConfig `yaml:"notify" json:"notify"`

	// Export configures stats and history reporting
	Export ExportConfig `yaml:"export" json:"export"`

	// Server configures the REST API
	Server ServerConfig `yaml:"server" json:"server"`

	// Monitoring configures the metrics endpoint
	Monitoring MonitoringConfig `yaml:"monitoring" json:"monitoring"`

	// Logging configures log verbosity
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// StorageConfig describes the backing store for executions, baselines,
// change history, and adopted selector mappings.
type StorageConfig struct {
	// Driver is the database/sql driver name; only sqlite3 is supported
	Driver string `yaml:"driver" json:"driver"`

	// Path is the SQLite database file path
	Path string `yaml:"path" json:"path"`

	// RetentionDays bounds how long execution records are kept
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
}

// WatchConfig lists tracked targets and scheduling intervals.
type WatchConfig struct {
	// IntervalMinutes is the delay between structure checks per target
	IntervalMinutes int `yaml:"interval_minutes" json:"interval_minutes"`

	// AnalysisIntervalMinutes is the delay between pattern-analysis passes
	AnalysisIntervalMinutes int `yaml:"analysis_interval_minutes" json:"analysis_interval_minutes"`

	// Targets are the pages to fingerprint and watch
	Targets []Target `yaml:"targets" json:"targets"`
}

// Interval returns the structure-check interval as a duration.
func (w WatchConfig) Interval() time.Duration {
	return time.Duration(w.IntervalMinutes) * time.Minute
}

// AnalysisInterval returns the analysis-pass interval as a duration.
func (w WatchConfig) AnalysisInterval() time.Duration {
	return time.Duration(w.AnalysisIntervalMinutes) * time.Minute
}

// Target binds one scraper to the page it depends on and the selectors
// whose health is tracked there.
type Target struct {
	// Name is the scraper's name as it appears in execution records
	Name string `yaml:"name" json:"name"`

	// URL is the page to fingerprint
	URL string `yaml:"url" json:"url"`

	// Selectors are the extraction rules to track on the page
	Selectors []SelectorConfig `yaml:"selectors" json:"selectors"`
}

// TrackedSelectors returns just the CSS selector strings for the target.
func (t Target) TrackedSelectors() []string {
	out := make([]string, 0, len(t.Selectors))
	for _, s := range t.Selectors {
		out = append(out, s.Selector)
	}
	return out
}

// SelectorConfig describes one tracked selector and how candidate
// replacements for it are validated during recovery.
type SelectorConfig struct {
	// Field names the datum the selector extracts (e.g. "nav")
	Field string `yaml:"field" json:"field"`

	// Selector is the CSS selector
	Selector string `yaml:"selector" json:"selector"`

	// Repeated marks selectors expected to match one or more elements;
	// singular selectors must match exactly one
	Repeated bool `yaml:"repeated,omitempty" json:"repeated,omitempty"`

	// Semantics is a short human description handed to the semantic
	// mapper when proposing replacements (e.g. "net asset value in USD")
	Semantics string `yaml:"semantics,omitempty" json:"semantics,omitempty"`

	// Validation gates candidate adoption during recovery
	Validation ValidationRule `yaml:"validation,omitempty" json:"validation,omitempty"`
}

// ValidationRule constrains the value a selector extracts.
type ValidationRule struct {
	// Type is "number" or "text"
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// Min and Max bound numeric values when Type is number
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// Pattern is a regular expression the raw text must match
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// NonEmpty rejects blank extractions
	NonEmpty bool `yaml:"non_empty,omitempty" json:"non_empty,omitempty"`
}

// FetchConfig tunes page retrieval.
type FetchConfig struct {
	// TimeoutSeconds bounds a single fetch attempt
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`

	// MaxRetries bounds retries after a transient failure
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// RateLimit is the sustained requests per second per host
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// Burst is the per-host burst size
	Burst int `yaml:"burst" json:"burst"`

	// UserAgents are rotated across requests when set
	UserAgents []string `yaml:"user_agents,omitempty" json:"user_agents,omitempty"`

	// Browser enables chromedp-rendered fetching for JS-heavy pages
	Browser BrowserConfig `yaml:"browser,omitempty" json:"browser,omitempty"`
}

// Timeout returns the per-attempt fetch timeout as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// BrowserConfig controls the optional headless-browser fetcher.
type BrowserConfig struct {
	// Enabled switches fetching to a rendered browser session
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Headless runs the browser without a display; defaults to true
	Headless *bool `yaml:"headless,omitempty" json:"headless,omitempty"`

	// WaitSeconds is extra settle time after page load
	WaitSeconds int `yaml:"wait_seconds,omitempty" json:"wait_seconds,omitempty"`
}

// IsHeadless resolves the Headless option with its default.
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// AnalyzerConfig exposes pattern-detection heuristics as tunables. The
// defaults are sensible starting points, not calibrated contracts.
type AnalyzerConfig struct {
	// MinOccurrences is the minimum group size that forms a pattern
	MinOccurrences int `yaml:"min_occurrences" json:"min_occurrences"`

	// LookbackDays is the analysis window
	LookbackDays int `yaml:"lookback_days" json:"lookback_days"`

	// ExpectedThreshold scales confidence: min(1, weighted/threshold)
	ExpectedThreshold float64 `yaml:"expected_threshold" json:"expected_threshold"`

	// HalfLifeHours controls recency decay of older occurrences
	HalfLifeHours int `yaml:"half_life_hours" json:"half_life_hours"`
}

// Lookback returns the analysis window as a duration.
func (a AnalyzerConfig) Lookback() time.Duration {
	return time.Duration(a.LookbackDays) * 24 * time.Hour
}

// HalfLife returns the recency-decay half-life as a duration.
func (a AnalyzerConfig) HalfLife() time.Duration {
	return time.Duration(a.HalfLifeHours) * time.Hour
}

// RecoveryConfig controls automatic selector repair.
type RecoveryConfig struct {
	// Enabled turns the propose/validate/adopt loop on
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Mapper selects the semantic mapper: "heuristic" or "openai"
	Mapper string `yaml:"mapper" json:"mapper"`

	// MaxCandidates caps proposals per broken selector
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates"`

	// OpenAI configures the LLM-backed mapper
	OpenAI OpenAIConfig `yaml:"openai,omitempty" json:"openai,omitempty"`
}

// OpenAIConfig configures the optional LLM mapper. Its output is advisory
// and passes the same validation gate as any other candidate source.
type OpenAIConfig struct {
	// Model is the chat-completion model name
	Model string `yaml:"model" json:"model"`

	// APIKey authenticates against the API; supports ${ENV} expansion
	APIKey string `yaml:"api_key" json:"-"`

	// BaseURL overrides the API endpoint for compatible gateways
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// TimeoutSeconds bounds one mapping call
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// NotifyConfig lists notification sinks. Delivery is fire-and-forget; sink
// failures are logged, never propagated.
type NotifyConfig struct {
	Sinks []SinkConfig `yaml:"sinks" json:"sinks"`
}

// SinkConfig describes one notification sink.
type SinkConfig struct {
	// Type is "log" or "webhook"
	Type string `yaml:"type" json:"type"`

	// URL is the webhook endpoint when Type is webhook
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// TimeoutSeconds bounds one delivery attempt
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// ExportConfig selects where stats reports and history archives go.
type ExportConfig struct {
	// Format is json, csv, excel, mongodb, mysql, or postgresql
	Format string `yaml:"format" json:"format"`

	// File is the output path for file formats
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	// Database configures the database formats
	Database DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty"`
}

// DatabaseConfig points an exporter at an external database.
type DatabaseConfig struct {
	// DSN is the driver-specific connection string
	DSN string `yaml:"dsn" json:"-"`

	// Table is the destination table or collection name
	Table string `yaml:"table,omitempty" json:"table,omitempty"`

	// Database is the database name for MongoDB
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
}

// ServerConfig configures the REST API.
type ServerConfig struct {
	// Listen is the bind address, e.g. ":8080"
	Listen string `yaml:"listen" json:"listen"`

	// AuthToken, when set, requires Bearer authentication on /api routes
	AuthToken string `yaml:"auth_token,omitempty" json:"-"`

	// RateLimit throttles API clients
	RateLimit APIRateLimit `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
}

// APIRateLimit throttles inbound API requests.
type APIRateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// MonitoringConfig configures operational visibility.
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled starts the metrics listener
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen is the metrics bind address, e.g. ":9090"
	Listen string `yaml:"listen" json:"listen"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error
	Level string `yaml:"level" json:"level"`
}
