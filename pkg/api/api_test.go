// pkg/api/api_test.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/valpere/ScrapeSentry/pkg/types"
)

func TestNewClientValidatesBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"http url", "http://localhost:8080", false},
		{"https url", "https://sentry.example.com", false},
		{"trailing slash", "http://localhost:8080/", false},
		{"missing scheme", "localhost:8080", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.baseURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient(%q) error = %v, wantErr %v", tt.baseURL, err, tt.wantErr)
			}
		})
	}
}

func TestClientExecutions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/executions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("scraper"); got != "bdc_discount" {
			t.Errorf("scraper query = %q, want bdc_discount", got)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit query = %q, want 5", got)
		}
		json.NewEncoder(w).Encode(ExecutionsResponse{
			Executions: []ExecutionRecord{
				{ID: 1, ScraperName: "bdc_discount", Success: true, DurationMs: 1200},
				{ID: 2, ScraperName: "bdc_discount", Success: false, ErrorType: "selector_not_found"},
			},
			Count: 2,
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	records, err := client.Executions(context.Background(), ExecutionFilter{
		ScraperName: "bdc_discount",
		Limit:       5,
	})
	if err != nil {
		t.Fatalf("Executions() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Executions() returned %d records, want 2", len(records))
	}
	if records[1].ErrorType != "selector_not_found" {
		t.Errorf("record error type = %q, want selector_not_found", records[1].ErrorType)
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("Authorization header = %q, want Bearer s3cret", got)
		}
		json.NewEncoder(w).Encode(EscalationsResponse{})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	client.WithAuthToken("s3cret")

	if _, err := client.Escalations(context.Background()); err != nil {
		t.Fatalf("Escalations() error = %v", err)
	}
}

func TestClientRecordExecution(t *testing.T) {
	var received ExecutionRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	rec := ExecutionRecord{
		ScraperName:  "bdc_discount",
		StartedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt:   time.Date(2025, 6, 1, 12, 0, 2, 0, time.UTC),
		Success:      false,
		ErrorType:    "selector_not_found",
		ErrorMessage: "selector .nav-value matched no elements",
		DurationMs:   2000,
	}
	if err := client.RecordExecution(context.Background(), rec); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}
	if received.ScraperName != "bdc_discount" || received.ErrorMessage != rec.ErrorMessage {
		t.Errorf("server received %+v, want %+v", received, rec)
	}
}

func TestClientSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "storage unavailable", Code: "STORAGE"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.Patterns(context.Background(), 10)
	if err == nil {
		t.Fatal("Patterns() should surface the server error")
	}
	if !strings.Contains(err.Error(), "storage unavailable") {
		t.Errorf("error %q should carry the server message", err)
	}
}

func TestClientChangesRejectsBadSeverity(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(ChangesResponse{})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.Changes(context.Background(), ChangeFilter{Severity: "SEVERE"})
	if err == nil {
		t.Fatal("Changes() should reject an unknown severity")
	}
	if calls != 0 {
		t.Errorf("invalid filter should fail before any request, server saw %d", calls)
	}

	if _, err := client.Changes(context.Background(), ChangeFilter{Severity: types.SeverityCritical}); err != nil {
		t.Fatalf("Changes() with valid severity error = %v", err)
	}
	if calls != 1 {
		t.Errorf("valid filter should reach the server once, saw %d", calls)
	}
}

func TestClientResetBaseline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/baselines/reset" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ResetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding reset request: %v", err)
		}
		json.NewEncoder(w).Encode(ResetResponse{
			URL:           req.URL,
			State:         types.StateBaselined,
			StructureHash: "abc123",
			Selectors:     2,
			ResetAt:       time.Now().UTC(),
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	resp, err := client.ResetBaseline(context.Background(), "https://bdcs.example.com/funds/arcc")
	if err != nil {
		t.Fatalf("ResetBaseline() error = %v", err)
	}
	if resp.URL != "https://bdcs.example.com/funds/arcc" {
		t.Errorf("reset URL = %q", resp.URL)
	}
	if resp.State != types.StateBaselined {
		t.Errorf("reset state = %s, want BASELINED", resp.State)
	}
}

func TestClientHealthToleratesUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(HealthStatus{
			Status: "unhealthy",
			Checks: []HealthCheck{{Name: "storage", Status: "unhealthy", Error: "disk full"}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v, want report even when unhealthy", err)
	}
	if health.Status != "unhealthy" {
		t.Errorf("health status = %q, want unhealthy", health.Status)
	}
	if len(health.Checks) != 1 || health.Checks[0].Error != "disk full" {
		t.Errorf("health checks = %+v", health.Checks)
	}
}
