// cmd/scrapesentry/main_test.go
package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valpere/ScrapeSentry/internal/config"
)

func TestCLIVersion(t *testing.T) {
	// Set test values
	version = "test-version"
	buildTime = "2025-06-23"
	gitCommit = "abc123"

	output := captureOutput(func() {
		printVersion()
	})

	if !strings.Contains(output, "test-version") {
		t.Errorf("version output should contain version, got: %s", output)
	}
	if !strings.Contains(output, "2025-06-23") {
		t.Errorf("version output should contain build time, got: %s", output)
	}
	if !strings.Contains(output, "abc123") {
		t.Errorf("version output should contain git commit, got: %s", output)
	}
}

func TestCLIHelp(t *testing.T) {
	output := captureOutput(func() {
		printUsage()
	})

	commands := []string{"validate", "template", "watch", "analyze", "stats", "reset", "version", "help"}
	for _, cmd := range commands {
		if !strings.Contains(output, cmd) {
			t.Errorf("help output should contain command %q, got: %s", cmd, output)
		}
	}
}

func TestTemplateRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(config.GenerateTemplate()), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("generated template should validate, got: %v", err)
	}
	if len(cfg.Watch.Targets) == 0 {
		t.Error("template should carry an example target")
	}
}

func TestRunValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(config.GenerateTemplate()), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	output := captureOutput(func() {
		if err := runValidate(path); err != nil {
			t.Errorf("runValidate() error = %v", err)
		}
	})
	if !strings.Contains(output, "is valid") {
		t.Errorf("validate output = %q, want success message", output)
	}
}

func TestRunValidateRejectsBrokenConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	broken := strings.Replace(config.GenerateTemplate(), "driver: sqlite3", "driver: oracle", 1)
	if err := os.WriteFile(path, []byte(broken), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := runValidate(path); err == nil {
		t.Error("runValidate() should reject an unsupported storage driver")
	}
}

func TestRunValidateRejectsUnparsableSelector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	broken := strings.Replace(config.GenerateTemplate(),
		`selector: ".nav-value"`, `selector: "[unclosed"`, 1)
	if err := os.WriteFile(path, []byte(broken), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	err := runValidate(path)
	if err == nil {
		t.Fatal("runValidate() should reject a selector that does not compile")
	}
	if !strings.Contains(err.Error(), "failed to compile") {
		t.Errorf("error = %v, want a compile failure", err)
	}
}

func TestFlagValue(t *testing.T) {
	args := []string{"--days", "14", "--other"}
	if got, ok := flagValue(args, "--days"); !ok || got != "14" {
		t.Errorf("flagValue(--days) = %q, %v", got, ok)
	}
	if _, ok := flagValue(args, "--other"); ok {
		t.Error("flagValue should require a following value")
	}
	if _, ok := flagValue(args, "--missing"); ok {
		t.Error("flagValue should miss absent flags")
	}
}

// captureOutput captures stdout during function execution
func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		outC <- buf.String()
	}()

	f()
	w.Close()
	os.Stdout = old
	out := <-outC

	return out
}
