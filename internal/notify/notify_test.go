// internal/notify/notify_test.go

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
)

type recordingSink struct {
	mu       sync.Mutex
	received []Notification
	err      error
	delay    time.Duration
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(ctx context.Context, n Notification) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, n)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestPublishReachesEverySink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	d := NewDispatcherWithSinks(a, b)

	d.Publish(Notification{
		Kind:     KindChangeDetected,
		URL:      "https://funds.example.com/bdc",
		Severity: internal.SeverityCritical,
		Message:  "structure changed",
	})
	d.Close()

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("sink deliveries = %d, %d, want 1 each", a.count(), b.count())
	}
	if a.received[0].OccurredAt.IsZero() {
		t.Error("Publish should stamp OccurredAt when unset")
	}
}

func TestPublishSwallowsSinkFailures(t *testing.T) {
	failing := &recordingSink{err: errors.New("endpoint down")}
	healthy := &recordingSink{}
	d := NewDispatcherWithSinks(failing, healthy)

	// Publish has no error return; a failing sink must not affect others.
	d.Publish(Notification{Kind: KindEscalated, URL: "https://x", Message: "stuck"})
	d.Close()

	if healthy.count() != 1 {
		t.Errorf("healthy sink deliveries = %d, want 1", healthy.count())
	}
}

func TestPublishDoesNotBlockOnSlowSink(t *testing.T) {
	slow := &recordingSink{delay: 300 * time.Millisecond}
	d := NewDispatcherWithSinks(slow)

	start := time.Now()
	d.Publish(Notification{Kind: KindRecovered, URL: "https://x", Message: "repaired"})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Publish blocked %v on a slow sink", elapsed)
	}

	d.Close()
	if slow.count() != 1 {
		t.Errorf("slow sink deliveries after Close = %d, want 1", slow.count())
	}
}

func TestWebhookSinkPostsJSON(t *testing.T) {
	var body []byte
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	sink := NewWebhookSink(config.SinkConfig{Type: "webhook", URL: server.URL, TimeoutSeconds: 5})
	err := sink.Deliver(context.Background(), Notification{
		Kind:                KindEscalated,
		URL:                 "https://funds.example.com/bdc",
		Severity:            internal.SeverityCritical,
		Message:             "no candidate validated",
		BrokenSelectors:     []string{".nav-value"},
		RequiresManualReset: true,
		OccurredAt:          time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", contentType)
	}
	var decoded Notification
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.Kind != KindEscalated {
		t.Errorf("Kind = %s, want %s", decoded.Kind, KindEscalated)
	}
	if !decoded.RequiresManualReset {
		t.Error("RequiresManualReset should survive the round trip")
	}
	if len(decoded.BrokenSelectors) != 1 || decoded.BrokenSelectors[0] != ".nav-value" {
		t.Errorf("BrokenSelectors = %v", decoded.BrokenSelectors)
	}
}

func TestWebhookSinkRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink := NewWebhookSink(config.SinkConfig{Type: "webhook", URL: server.URL})
	if err := sink.Deliver(context.Background(), Notification{Kind: KindRecovered, Message: "x"}); err == nil {
		t.Error("Deliver() should fail on a non-2xx response")
	}
}

func TestNewDispatcherFromConfig(t *testing.T) {
	d, err := NewDispatcher(config.NotifyConfig{Sinks: []config.SinkConfig{
		{Type: "log"},
		{Type: "webhook", URL: "https://hooks.example.com/sentry"},
	}})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	if len(d.sinks) != 2 {
		t.Errorf("dispatcher has %d sinks, want 2", len(d.sinks))
	}

	if _, err := NewDispatcher(config.NotifyConfig{Sinks: []config.SinkConfig{{Type: "carrier-pigeon"}}}); err == nil {
		t.Error("NewDispatcher() should reject an unknown sink type")
	}
}
