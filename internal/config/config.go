// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/valpere/ScrapeSentry/pkg/types"
)

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration filename cannot be empty")
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %v", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. Environment variable
// references (${VAR}) are expanded before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("configuration data cannot be empty")
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %v", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from an io.Reader
func LoadFromReader(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read from reader: %v", err)
	}

	return LoadFromBytes(data)
}

// SaveToFile saves configuration to a YAML file
func SaveToFile(cfg *Config, filename string) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %v", err)
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %v", dir, err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write configuration file: %v", err)
	}

	return nil
}

// applyDefaults fills zero-valued settings with working defaults.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite3"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "scrapesentry.db"
	}
	if cfg.Storage.RetentionDays <= 0 {
		cfg.Storage.RetentionDays = 30
	}

	if cfg.Watch.IntervalMinutes <= 0 {
		cfg.Watch.IntervalMinutes = 15
	}
	if cfg.Watch.AnalysisIntervalMinutes <= 0 {
		cfg.Watch.AnalysisIntervalMinutes = 60
	}

	if cfg.Fetch.TimeoutSeconds <= 0 {
		cfg.Fetch.TimeoutSeconds = 30
	}
	if cfg.Fetch.MaxRetries < 0 {
		cfg.Fetch.MaxRetries = 0
	} else if cfg.Fetch.MaxRetries == 0 {
		cfg.Fetch.MaxRetries = 2
	}
	if cfg.Fetch.RateLimit <= 0 {
		cfg.Fetch.RateLimit = 1.0
	}
	if cfg.Fetch.Burst <= 0 {
		cfg.Fetch.Burst = 1
	}
	if len(cfg.Fetch.UserAgents) == 0 {
		cfg.Fetch.UserAgents = []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		}
	}

	if cfg.Analyzer.MinOccurrences <= 0 {
		cfg.Analyzer.MinOccurrences = 3
	}
	if cfg.Analyzer.LookbackDays <= 0 {
		cfg.Analyzer.LookbackDays = 7
	}
	if cfg.Analyzer.ExpectedThreshold <= 0 {
		cfg.Analyzer.ExpectedThreshold = 3.0
	}
	if cfg.Analyzer.HalfLifeHours <= 0 {
		cfg.Analyzer.HalfLifeHours = 72
	}

	if cfg.Recovery.Mapper == "" {
		cfg.Recovery.Mapper = "heuristic"
	}
	if cfg.Recovery.MaxCandidates <= 0 {
		cfg.Recovery.MaxCandidates = 5
	}
	if cfg.Recovery.OpenAI.Model == "" {
		cfg.Recovery.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.Recovery.OpenAI.TimeoutSeconds <= 0 {
		cfg.Recovery.OpenAI.TimeoutSeconds = 30
	}

	if len(cfg.Notify.Sinks) == 0 {
		cfg.Notify.Sinks = []SinkConfig{{Type: "log"}}
	}
	for i := range cfg.Notify.Sinks {
		if cfg.Notify.Sinks[i].TimeoutSeconds <= 0 {
			cfg.Notify.Sinks[i].TimeoutSeconds = 10
		}
	}

	// An empty export format means exports are disabled. File formats
	// still get a file-name fallback.
	if cfg.Export.Format != "" && cfg.Export.File == "" &&
		!types.ExportFormat(cfg.Export.Format).IsDatabase() {
		cfg.Export.File = "scrapesentry-report.json"
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.RateLimit.RequestsPerSecond <= 0 {
		cfg.Server.RateLimit.RequestsPerSecond = 10
	}
	if cfg.Server.RateLimit.Burst <= 0 {
		cfg.Server.RateLimit.Burst = 20
	}

	if cfg.Monitoring.Metrics.Listen == "" {
		cfg.Monitoring.Metrics.Listen = ":9090"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks the configuration for contradictions and missing
// required settings. It reports the first problem found.
func (c *Config) Validate() error {
	if c.Storage.Driver != "sqlite3" {
		return fmt.Errorf("storage.driver: unsupported driver %q (only sqlite3)", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path: cannot be empty")
	}

	for i, target := range c.Watch.Targets {
		if target.Name == "" {
			return fmt.Errorf("watch.targets[%d].name: cannot be empty", i)
		}
		if target.URL == "" {
			return fmt.Errorf("watch.targets[%d].url: cannot be empty", i)
		}
		if len(target.Selectors) == 0 {
			return fmt.Errorf("watch.targets[%d].selectors: at least one selector required", i)
		}
		for j, sel := range target.Selectors {
			if sel.Selector == "" {
				return fmt.Errorf("watch.targets[%d].selectors[%d].selector: cannot be empty", i, j)
			}
			if sel.Field == "" {
				return fmt.Errorf("watch.targets[%d].selectors[%d].field: cannot be empty", i, j)
			}
			if err := sel.Validation.check(); err != nil {
				return fmt.Errorf("watch.targets[%d].selectors[%d].validation: %v", i, j, err)
			}
		}
	}

	if !types.MapperType(c.Recovery.Mapper).IsValid() {
		return fmt.Errorf("recovery.mapper: unknown mapper %q", c.Recovery.Mapper)
	}

	for i, sink := range c.Notify.Sinks {
		switch sink.Type {
		case "log":
		case "webhook":
			if sink.URL == "" {
				return fmt.Errorf("notify.sinks[%d].url: required for webhook sinks", i)
			}
		default:
			return fmt.Errorf("notify.sinks[%d].type: unknown sink type %q", i, sink.Type)
		}
	}

	if c.Export.Format != "" {
		exportFormat := types.ExportFormat(c.Export.Format)
		if !exportFormat.IsValid() {
			return fmt.Errorf("export.format: unknown format %q", c.Export.Format)
		}
		if exportFormat.IsDatabase() && c.Export.Database.DSN == "" {
			return fmt.Errorf("export.database.dsn: required for %s export", c.Export.Format)
		}
	}

	if !types.LogLevel(c.Logging.Level).IsValid() {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}

	return nil
}

// check validates a single validation rule.
func (v ValidationRule) check() error {
	switch v.Type {
	case "", "number", "text":
	default:
		return fmt.Errorf("unknown type %q", v.Type)
	}
	if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
		return fmt.Errorf("min (%v) exceeds max (%v)", *v.Min, *v.Max)
	}
	if v.Pattern != "" {
		if _, err := regexp.Compile(v.Pattern); err != nil {
			return fmt.Errorf("invalid pattern: %v", err)
		}
	}
	return nil
}

// GenerateTemplate returns a commented starter configuration.
func GenerateTemplate() string {
	return `# ScrapeSentry configuration

storage:
  driver: sqlite3
  path: scrapesentry.db
  retention_days: 30

watch:
  interval_minutes: 15
  analysis_interval_minutes: 60
  targets:
    - name: bdc_discount
      url: https://example.com/funds/bdc
      selectors:
        - field: nav
          selector: ".nav-value"
          semantics: "net asset value per share in USD"
          validation:
            type: number
            min: 1
            max: 1000
        - field: holdings
          selector: ".holding-row"
          repeated: true
          semantics: "one table row per portfolio holding"
          validation:
            type: text
            non_empty: true

fetch:
  timeout_seconds: 30
  max_retries: 2
  rate_limit: 1.0
  burst: 1
  browser:
    enabled: false

analyzer:
  min_occurrences: 3
  lookback_days: 7
  expected_threshold: 3.0
  half_life_hours: 72

recovery:
  enabled: true
  mapper: heuristic
  max_candidates: 5
  # openai:
  #   model: gpt-4o-mini
  #   api_key: ${OPENAI_API_KEY}

notify:
  sinks:
    - type: log
    # - type: webhook
    #   url: https://hooks.example.com/scrapesentry
    #   timeout_seconds: 10

export:
  format: json
  file: scrapesentry-report.json

server:
  listen: ":8080"
  rate_limit:
    requests_per_second: 10
    burst: 20

monitoring:
  metrics:
    enabled: true
    listen: ":9090"

logging:
  level: info
`
}
