// internal/config/config_test.go
package config

import (
	"os"
	"strings"
	"testing"
)

func TestLoadFromBytes(t *testing.T) {
	configYAML := `
watch:
  targets:
    - name: bdc_discount
      url: https://example.com/funds
      selectors:
        - field: nav
          selector: ".nav-value"
          validation:
            type: number
            min: 1
            max: 1000
`

	cfg, err := LoadFromBytes([]byte(configYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}

	if len(cfg.Watch.Targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(cfg.Watch.Targets))
	}
	target := cfg.Watch.Targets[0]
	if target.Name != "bdc_discount" {
		t.Errorf("expected target name 'bdc_discount', got %q", target.Name)
	}
	if got := target.TrackedSelectors(); len(got) != 1 || got[0] != ".nav-value" {
		t.Errorf("unexpected tracked selectors: %v", got)
	}
}

func TestLoadFromBytesAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("watch:\n  targets: []\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}

	if cfg.Storage.Driver != "sqlite3" {
		t.Errorf("expected default driver sqlite3, got %q", cfg.Storage.Driver)
	}
	if cfg.Analyzer.MinOccurrences != 3 {
		t.Errorf("expected default min_occurrences 3, got %d", cfg.Analyzer.MinOccurrences)
	}
	if cfg.Analyzer.LookbackDays != 7 {
		t.Errorf("expected default lookback_days 7, got %d", cfg.Analyzer.LookbackDays)
	}
	if cfg.Fetch.MaxRetries != 2 {
		t.Errorf("expected default max_retries 2, got %d", cfg.Fetch.MaxRetries)
	}
	if cfg.Fetch.TimeoutSeconds != 30 {
		t.Errorf("expected default timeout 30s, got %d", cfg.Fetch.TimeoutSeconds)
	}
	if len(cfg.Notify.Sinks) != 1 || cfg.Notify.Sinks[0].Type != "log" {
		t.Errorf("expected default log sink, got %+v", cfg.Notify.Sinks)
	}
	if cfg.Recovery.Mapper != "heuristic" {
		t.Errorf("expected default mapper heuristic, got %q", cfg.Recovery.Mapper)
	}
}

func TestLoadFromBytesExpandsEnvironment(t *testing.T) {
	os.Setenv("SENTRY_TEST_DB_PATH", "/tmp/sentry-test.db")
	defer os.Unsetenv("SENTRY_TEST_DB_PATH")

	cfg, err := LoadFromBytes([]byte("storage:\n  path: ${SENTRY_TEST_DB_PATH}\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	if cfg.Storage.Path != "/tmp/sentry-test.db" {
		t.Errorf("expected expanded path, got %q", cfg.Storage.Path)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "target without url",
			yaml: `
watch:
  targets:
    - name: broken
      selectors:
        - field: x
          selector: ".x"
`,
			wantErr: "url",
		},
		{
			name: "target without selectors",
			yaml: `
watch:
  targets:
    - name: broken
      url: https://example.com
`,
			wantErr: "selectors",
		},
		{
			name: "min above max",
			yaml: `
watch:
  targets:
    - name: broken
      url: https://example.com
      selectors:
        - field: x
          selector: ".x"
          validation:
            type: number
            min: 10
            max: 1
`,
			wantErr: "min",
		},
		{
			name:    "unknown mapper",
			yaml:    "recovery:\n  mapper: psychic\n",
			wantErr: "mapper",
		},
		{
			name:    "unknown export format",
			yaml:    "export:\n  format: parquet\n",
			wantErr: "format",
		},
		{
			name:    "webhook sink without url",
			yaml:    "notify:\n  sinks:\n    - type: webhook\n",
			wantErr: "url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "sentry_config_*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(GenerateTemplate()); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	cfg, err := LoadFromFile(tmpFile.Name())
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if len(cfg.Watch.Targets) == 0 {
		t.Error("template should declare at least one target")
	}
}

func TestGenerateTemplateIsLoadable(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(GenerateTemplate()))
	if err != nil {
		t.Fatalf("generated template should load cleanly: %v", err)
	}
	if !cfg.Recovery.Enabled {
		t.Error("template should enable recovery")
	}
	if cfg.Watch.Targets[0].Name != "bdc_discount" {
		t.Errorf("unexpected template target: %q", cfg.Watch.Targets[0].Name)
	}
}
