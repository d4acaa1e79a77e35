// pkg/types/types_test.go
package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestPageState(t *testing.T) {
	tests := []struct {
		name       string
		state      PageState
		isValid    bool
		isTerminal bool
	}{
		{"baselined state", StateBaselined, true, false},
		{"changed state", StateChanged, true, false},
		{"recovered state", StateRecovered, true, false},
		{"escalated state", StateEscalated, true, true},
		{"invalid state", PageState("PARKED"), false, false},
		{"empty state", PageState(""), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.isValid {
				t.Errorf("PageState.IsValid() = %v, want %v", got, tt.isValid)
			}
			if got := tt.state.IsTerminal(); got != tt.isTerminal {
				t.Errorf("PageState.IsTerminal() = %v, want %v", got, tt.isTerminal)
			}
		})
	}

	validStates := ValidPageStates()
	expectedCount := 4
	if len(validStates) != expectedCount {
		t.Errorf("ValidPageStates() returned %d states, expected %d", len(validStates), expectedCount)
	}

	for _, state := range validStates {
		if !state.IsValid() {
			t.Errorf("ValidPageStates() returned invalid state: %s", state)
		}
		if state.GetDescription() == "Unknown page state" {
			t.Errorf("valid state %s has no description", state)
		}
	}
}

func TestChangeSeverity(t *testing.T) {
	tests := []struct {
		name     string
		severity ChangeSeverity
		isValid  bool
		level    int
		recovers bool
	}{
		{"low severity", SeverityLow, true, 1, false},
		{"medium severity", SeverityMedium, true, 2, false},
		{"high severity", SeverityHigh, true, 3, false},
		{"critical severity", SeverityCritical, true, 4, true},
		{"invalid severity", ChangeSeverity("SEVERE"), false, 0, false},
		{"lowercase severity", ChangeSeverity("low"), false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.severity.IsValid(); got != tt.isValid {
				t.Errorf("ChangeSeverity.IsValid() = %v, want %v", got, tt.isValid)
			}
			if got := tt.severity.GetNumericLevel(); got != tt.level {
				t.Errorf("ChangeSeverity.GetNumericLevel() = %v, want %v", got, tt.level)
			}
			if got := tt.severity.RequiresRecovery(); got != tt.recovers {
				t.Errorf("ChangeSeverity.RequiresRecovery() = %v, want %v", got, tt.recovers)
			}
		})
	}

	if SeverityCritical.GetNumericLevel() <= SeverityLow.GetNumericLevel() {
		t.Error("severity levels must order CRITICAL above LOW")
	}
}

func TestPatternType(t *testing.T) {
	tests := []struct {
		name        string
		patternType PatternType
		isValid     bool
		description string
	}{
		{"recurring error", PatternRecurringError, true, "Same failure repeating across executions"},
		{"rate limiting", PatternRateLimiting, true, "Failures consistent with request throttling"},
		{"structural change", PatternStructuralChange, true, "Failures aligned with a detected page structure change"},
		{"invalid pattern", PatternType("FLAKY"), false, "Unknown pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.patternType.IsValid(); got != tt.isValid {
				t.Errorf("PatternType.IsValid() = %v, want %v", got, tt.isValid)
			}
			if got := tt.patternType.GetDescription(); got != tt.description {
				t.Errorf("PatternType.GetDescription() = %v, want %v", got, tt.description)
			}
		})
	}
}

func TestCheckOutcome(t *testing.T) {
	tests := []struct {
		name      string
		outcome   CheckOutcome
		isValid   bool
		attention bool
	}{
		{"baselined", OutcomeBaselined, true, false},
		{"unchanged", OutcomeUnchanged, true, false},
		{"rebaselined", OutcomeRebaselined, true, false},
		{"recovered", OutcomeRecovered, true, false},
		{"escalated", OutcomeEscalated, true, true},
		{"skipped", OutcomeSkipped, true, false},
		{"conflict", OutcomeConflict, true, false},
		{"fetch failed", OutcomeFetchFailed, true, true},
		{"error", OutcomeError, true, true},
		{"invalid outcome", CheckOutcome("retried"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.IsValid(); got != tt.isValid {
				t.Errorf("CheckOutcome.IsValid() = %v, want %v", got, tt.isValid)
			}
			if got := tt.outcome.NeedsAttention(); got != tt.attention {
				t.Errorf("CheckOutcome.NeedsAttention() = %v, want %v", got, tt.attention)
			}
		})
	}

	if len(ValidCheckOutcomes()) != 9 {
		t.Errorf("ValidCheckOutcomes() returned %d outcomes, expected 9", len(ValidCheckOutcomes()))
	}
}

func TestExportFormat(t *testing.T) {
	tests := []struct {
		name       string
		format     ExportFormat
		isValid    bool
		isDatabase bool
	}{
		{"json format", FormatJSON, true, false},
		{"csv format", FormatCSV, true, false},
		{"excel format", FormatExcel, true, false},
		{"mongodb format", FormatMongoDB, true, true},
		{"mysql format", FormatMySQL, true, true},
		{"postgresql format", FormatPostgreSQL, true, true},
		{"invalid format", ExportFormat("parquet"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.IsValid(); got != tt.isValid {
				t.Errorf("ExportFormat.IsValid() = %v, want %v", got, tt.isValid)
			}
			if got := tt.format.IsDatabase(); got != tt.isDatabase {
				t.Errorf("ExportFormat.IsDatabase() = %v, want %v", got, tt.isDatabase)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		jsonStr  string
	}{
		{"1 second", time.Second, `"1s"`},
		{"30 seconds", 30 * time.Second, `"30s"`},
		{"5 minutes", 5 * time.Minute, `"5m0s"`},
		{"2 hours", 2 * time.Hour, `"2h0m0s"`},
		{"zero duration", 0, `"0s"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDuration(tt.duration)

			jsonData, err := json.Marshal(d)
			if err != nil {
				t.Fatalf("Duration.MarshalJSON() error = %v", err)
			}
			if string(jsonData) != tt.jsonStr {
				t.Errorf("Duration.MarshalJSON() = %s, want %s", jsonData, tt.jsonStr)
			}

			var unmarshaled Duration
			err = json.Unmarshal(jsonData, &unmarshaled)
			if err != nil {
				t.Fatalf("Duration.UnmarshalJSON() error = %v", err)
			}
			if unmarshaled.ToDuration() != tt.duration {
				t.Errorf("Duration.UnmarshalJSON() = %v, want %v", unmarshaled.ToDuration(), tt.duration)
			}

			if got := d.String(); got != tt.duration.String() {
				t.Errorf("Duration.String() = %v, want %v", got, tt.duration.String())
			}
		})
	}

	t.Run("invalid duration", func(t *testing.T) {
		var d Duration
		err := json.Unmarshal([]byte(`"invalid"`), &d)
		if err == nil {
			t.Error("Duration.UnmarshalJSON() should return error for invalid duration")
		}
	})
}

func TestURL(t *testing.T) {
	tests := []struct {
		name    string
		urlStr  string
		isValid bool
	}{
		{"valid https url", "https://example.com", true},
		{"valid url with path", "https://bdcs.example.com/funds/arcc", true},
		{"valid url with query", "https://example.com?tab=nav", true},
		{"url without scheme", "example.com", false},
		{"url without host", "https://", false},
		{"empty url", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewURL(tt.urlStr)
			if err != nil {
				t.Fatalf("NewURL() error = %v", err)
			}

			if got := u.IsValid(); got != tt.isValid {
				t.Errorf("URL.IsValid() = %v, want %v for %q", got, tt.isValid, tt.urlStr)
			}

			jsonData, err := json.Marshal(u)
			if err != nil {
				t.Fatalf("URL.MarshalJSON() error = %v", err)
			}

			var unmarshaled URL
			err = json.Unmarshal(jsonData, &unmarshaled)
			if err != nil {
				t.Fatalf("URL.UnmarshalJSON() error = %v", err)
			}

			if unmarshaled.String() != u.String() {
				t.Errorf("URL JSON roundtrip failed: got %v, want %v", unmarshaled.String(), u.String())
			}
		})
	}

	t.Run("MustNewURL panic", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("MustNewURL() should panic for invalid URL")
			}
		}()
		MustNewURL("://invalid-url")
	})

	t.Run("MustNewURL success", func(t *testing.T) {
		u := MustNewURL("https://example.com")
		if !u.IsValid() {
			t.Error("MustNewURL() should create valid URL")
		}
	})
}

func TestSelector(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"class selector", ".nav-value", false},
		{"nested selector", "table#main .holding-row", false},
		{"child combinator", "div.summary > span.price", false},
		{"attribute selector", `a[href^="/funds/"]`, false},
		{"selector group", "h1, h2.title", false},
		{"unclosed attribute", "[unclosed", true},
		{"empty selector", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSelector(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSelector(%q) error = %v, wantErr %v", tt.pattern, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if !s.IsValid() {
				t.Errorf("NewSelector(%q) produced invalid selector", tt.pattern)
			}
			if s.String() != tt.pattern {
				t.Errorf("Selector.String() = %q, want %q", s.String(), tt.pattern)
			}

			jsonData, err := json.Marshal(s)
			if err != nil {
				t.Fatalf("Selector.MarshalJSON() error = %v", err)
			}

			var unmarshaled Selector
			if err := json.Unmarshal(jsonData, &unmarshaled); err != nil {
				t.Fatalf("Selector.UnmarshalJSON() error = %v", err)
			}
			if unmarshaled.Pattern != tt.pattern {
				t.Errorf("Selector JSON roundtrip = %q, want %q", unmarshaled.Pattern, tt.pattern)
			}
			if !unmarshaled.IsValid() {
				t.Error("unmarshaled selector should be compiled")
			}
		})
	}

	t.Run("unmarshal invalid selector", func(t *testing.T) {
		var s Selector
		if err := json.Unmarshal([]byte(`"[broken"`), &s); err == nil {
			t.Error("Selector.UnmarshalJSON() should return error for invalid selector")
		}
	})

	t.Run("MustNewSelector panic", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("MustNewSelector() should panic for invalid selector")
			}
		}()
		MustNewSelector("[broken")
	})
}

func TestJSONMarshaling(t *testing.T) {
	testData := struct {
		Duration Duration         `json:"duration"`
		URL      *URL             `json:"url"`
		State    PageState        `json:"state"`
		Severity ChangeSeverity   `json:"severity"`
		Pattern  PatternType      `json:"pattern"`
		Outcome  CheckOutcome     `json:"outcome"`
		Kind     NotificationKind `json:"kind"`
		Mapper   MapperType       `json:"mapper"`
		Format   ExportFormat     `json:"format"`
		LogLevel LogLevel         `json:"log_level"`
		Selector *Selector        `json:"selector"`
	}{
		Duration: NewDuration(5 * time.Minute),
		URL:      MustNewURL("https://example.com"),
		State:    StateRecovered,
		Severity: SeverityCritical,
		Pattern:  PatternStructuralChange,
		Outcome:  OutcomeRecovered,
		Kind:     KindRecovered,
		Mapper:   MapperHeuristic,
		Format:   FormatJSON,
		LogLevel: LogLevelInfo,
		Selector: MustNewSelector(".nav-value"),
	}

	jsonData, err := json.Marshal(testData)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	jsonStr := string(jsonData)
	expectedSubstrings := []string{
		`"duration":"5m0s"`,
		`"url":"https://example.com"`,
		`"state":"RECOVERED"`,
		`"severity":"CRITICAL"`,
		`"pattern":"STRUCTURAL_CHANGE"`,
		`"outcome":"recovered"`,
		`"kind":"RECOVERED"`,
		`"mapper":"heuristic"`,
		`"format":"json"`,
		`"log_level":"info"`,
		`"selector":".nav-value"`,
	}

	for _, expected := range expectedSubstrings {
		if !strings.Contains(jsonStr, expected) {
			t.Errorf("JSON output should contain %q, got: %s", expected, jsonStr)
		}
	}
}

func BenchmarkDurationMarshal(b *testing.B) {
	d := NewDuration(5 * time.Minute)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		json.Marshal(d)
	}
}

func BenchmarkPageStateValidation(b *testing.B) {
	state := StateBaselined
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		state.IsValid()
	}
}
