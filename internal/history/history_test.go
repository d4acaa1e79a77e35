// internal/history/history_test.go

package history

import (
	"context"
	"testing"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/storage"
	"github.com/valpere/ScrapeSentry/internal/utils"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *storage.Store, *fixedClock) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	clock := &fixedClock{now: testNow}
	return New(db).WithClock(clock), db, clock
}

func event(url string, severity internal.ChangeSeverity, detectedAt time.Time, broken ...string) *internal.StructureChangeEvent {
	return &internal.StructureChangeEvent{
		URL:             url,
		PreviousHash:    "aaa",
		CurrentHash:     "bbb",
		Severity:        severity,
		BrokenSelectors: broken,
		DetectedAt:      detectedAt,
	}
}

func TestAppendAssignsIDsAndQueryOrders(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	later := event("https://a.example.com", internal.SeverityLow, testNow.Add(-1*time.Hour))
	earlier := event("https://a.example.com", internal.SeverityCritical, testNow.Add(-3*time.Hour), ".nav-value")
	middle := event("https://b.example.com", internal.SeverityMedium, testNow.Add(-2*time.Hour))

	for _, e := range []*internal.StructureChangeEvent{later, earlier, middle} {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if e.ID == 0 {
			t.Error("Append() should assign an ID")
		}
	}

	events, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Query() returned %d events, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].DetectedAt.Before(events[i-1].DetectedAt) {
			t.Errorf("events out of order: %v before %v", events[i].DetectedAt, events[i-1].DetectedAt)
		}
	}
	if events[0].Severity != internal.SeverityCritical {
		t.Errorf("first event severity = %s, want %s", events[0].Severity, internal.SeverityCritical)
	}
	if len(events[0].BrokenSelectors) != 1 || events[0].BrokenSelectors[0] != ".nav-value" {
		t.Errorf("BrokenSelectors = %v, want [.nav-value]", events[0].BrokenSelectors)
	}
}

func TestAppendRejectsUnknownSeverity(t *testing.T) {
	store, _, _ := newTestStore(t)
	err := store.Append(context.Background(), event("https://a", internal.ChangeSeverity("DRAMATIC"), testNow))
	if err == nil {
		t.Fatal("Append() should reject an unknown severity")
	}
	if utils.CodeOf(err) != utils.ErrCodeInternal {
		t.Errorf("error code = %q, want %q", utils.CodeOf(err), utils.ErrCodeInternal)
	}
}

func TestQueryFilters(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	seed := []*internal.StructureChangeEvent{
		event("https://a.example.com", internal.SeverityCritical, testNow.Add(-30*time.Hour)),
		event("https://a.example.com", internal.SeverityLow, testNow.Add(-10*time.Hour)),
		event("https://b.example.com", internal.SeverityCritical, testNow.Add(-5*time.Hour)),
	}
	for _, e := range seed {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	byURL, err := store.Query(ctx, QueryOptions{URL: "https://b.example.com"})
	if err != nil {
		t.Fatalf("Query(url) error = %v", err)
	}
	if len(byURL) != 1 || byURL[0].URL != "https://b.example.com" {
		t.Errorf("Query(url) = %+v, want the single b.example.com event", byURL)
	}

	since := testNow.Add(-12 * time.Hour)
	recent, err := store.Query(ctx, QueryOptions{Since: since})
	if err != nil {
		t.Fatalf("Query(since) error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Query(since) returned %d events, want 2", len(recent))
	}
	for _, e := range recent {
		if e.DetectedAt.Before(since) {
			t.Errorf("event at %v predates since %v", e.DetectedAt, since)
		}
	}

	critical, err := store.Query(ctx, QueryOptions{Severity: internal.SeverityCritical})
	if err != nil {
		t.Fatalf("Query(severity) error = %v", err)
	}
	if len(critical) != 2 {
		t.Errorf("Query(severity) returned %d events, want 2", len(critical))
	}

	limited, err := store.Query(ctx, QueryOptions{Limit: 1})
	if err != nil {
		t.Fatalf("Query(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Query(limit) returned %d events, want 1", len(limited))
	}

	if _, err := store.Query(ctx, QueryOptions{Severity: internal.ChangeSeverity("SHRUG")}); err == nil {
		t.Error("Query() should reject an unknown severity filter")
	}
}

func seedBaseline(t *testing.T, db *storage.Store, url, state string) {
	t.Helper()
	_, err := db.DB().Exec(`
		INSERT INTO baselines (url, structure_hash, fetched_at, accepted_at, state, signatures, raw_size)
		VALUES (?, 'h0', ?, ?, ?, '{}', 0)`,
		url, testNow, testNow, state)
	if err != nil {
		t.Fatalf("seed baseline: %v", err)
	}
}

func TestOpenEventsReturnsLatestPerOutOfBaselineURL(t *testing.T) {
	store, db, _ := newTestStore(t)
	ctx := context.Background()

	seedBaseline(t, db, "https://changed.example.com", "CHANGED")
	seedBaseline(t, db, "https://fine.example.com", "BASELINED")
	seedBaseline(t, db, "https://stuck.example.com", "ESCALATED")

	older := event("https://changed.example.com", internal.SeverityMedium, testNow.Add(-4*time.Hour))
	newer := event("https://changed.example.com", internal.SeverityCritical, testNow.Add(-1*time.Hour), ".price")
	fine := event("https://fine.example.com", internal.SeverityLow, testNow.Add(-2*time.Hour))
	stuck := event("https://stuck.example.com", internal.SeverityCritical, testNow.Add(-3*time.Hour), ".title")
	for _, e := range []*internal.StructureChangeEvent{older, newer, fine, stuck} {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	open, err := store.OpenEvents(ctx)
	if err != nil {
		t.Fatalf("OpenEvents() error = %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("OpenEvents() returned %d events, want 2", len(open))
	}

	byURL := make(map[string]internal.StructureChangeEvent)
	for _, e := range open {
		byURL[e.URL] = e
	}
	if got, ok := byURL["https://changed.example.com"]; !ok || got.ID != newer.ID {
		t.Errorf("open event for changed URL = %+v, want the latest (id %d)", got, newer.ID)
	}
	if _, ok := byURL["https://stuck.example.com"]; !ok {
		t.Error("escalated URL missing from OpenEvents()")
	}
	if _, ok := byURL["https://fine.example.com"]; ok {
		t.Error("baselined URL should not appear in OpenEvents()")
	}
}

func TestRecordPatternsKeepsLatestPassSeparate(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	firstPass := []internal.FailurePattern{
		{ID: "p1", PatternType: internal.PatternRecurringError, ScraperName: "bdc", Signature: "type: timeout",
			Occurrences: 3, Confidence: 0.8, FirstSeen: testNow.Add(-48 * time.Hour), LastSeen: testNow.Add(-2 * time.Hour)},
		{ID: "p2", PatternType: internal.PatternRateLimiting, ScraperName: "bdc", Signature: "http # too many requests",
			Occurrences: 5, Confidence: 1.0, FirstSeen: testNow.Add(-24 * time.Hour), LastSeen: testNow.Add(-1 * time.Hour)},
	}
	if err := store.RecordPatterns(ctx, firstPass); err != nil {
		t.Fatalf("RecordPatterns() error = %v", err)
	}

	clock.now = clock.now.Add(time.Hour)
	secondPass := []internal.FailurePattern{
		{ID: "p2", PatternType: internal.PatternRateLimiting, ScraperName: "bdc", Signature: "http # too many requests",
			Occurrences: 7, Confidence: 1.0, FirstSeen: testNow.Add(-24 * time.Hour), LastSeen: testNow},
	}
	if err := store.RecordPatterns(ctx, secondPass); err != nil {
		t.Fatalf("RecordPatterns() error = %v", err)
	}

	patterns, err := store.Patterns(ctx, 0)
	if err != nil {
		t.Fatalf("Patterns() error = %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("Patterns() returned %d, want only the latest pass", len(patterns))
	}
	if patterns[0].Occurrences != 7 {
		t.Errorf("Occurrences = %d, want 7 from the latest pass", patterns[0].Occurrences)
	}
	if patterns[0].PatternType != internal.PatternRateLimiting {
		t.Errorf("PatternType = %s, want %s", patterns[0].PatternType, internal.PatternRateLimiting)
	}
}

func TestPatternsPreservesReportingOrder(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	pass := []internal.FailurePattern{
		{ID: "low", PatternType: internal.PatternRecurringError, ScraperName: "a", Signature: "s1",
			Occurrences: 9, Confidence: 0.5, FirstSeen: testNow.Add(-10 * time.Hour), LastSeen: testNow},
		{ID: "high-few", PatternType: internal.PatternRecurringError, ScraperName: "a", Signature: "s2",
			Occurrences: 3, Confidence: 1.0, FirstSeen: testNow.Add(-5 * time.Hour), LastSeen: testNow},
		{ID: "high-many", PatternType: internal.PatternRecurringError, ScraperName: "a", Signature: "s3",
			Occurrences: 6, Confidence: 1.0, FirstSeen: testNow.Add(-2 * time.Hour), LastSeen: testNow},
	}
	if err := store.RecordPatterns(ctx, pass); err != nil {
		t.Fatalf("RecordPatterns() error = %v", err)
	}

	patterns, err := store.Patterns(ctx, 0)
	if err != nil {
		t.Fatalf("Patterns() error = %v", err)
	}
	want := []string{"high-many", "high-few", "low"}
	if len(patterns) != len(want) {
		t.Fatalf("Patterns() returned %d, want %d", len(patterns), len(want))
	}
	for i, id := range want {
		if patterns[i].ID != id {
			t.Errorf("patterns[%d].ID = %s, want %s", i, patterns[i].ID, id)
		}
	}
}

func TestStatsAggregatesWindow(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	inWindow := []*internal.StructureChangeEvent{
		event("https://a.example.com", internal.SeverityCritical, testNow.Add(-24*time.Hour)),
		event("https://a.example.com", internal.SeverityLow, testNow.Add(-24*time.Hour)),
		event("https://b.example.com", internal.SeverityCritical, testNow.Add(-48*time.Hour)),
	}
	outOfWindow := event("https://a.example.com", internal.SeverityHigh, testNow.AddDate(0, 0, -40))
	for _, e := range append(inWindow, outOfWindow) {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if err := store.RecordPatterns(ctx, []internal.FailurePattern{
		{ID: "p1", PatternType: internal.PatternRecurringError, ScraperName: "a", Signature: "s",
			Occurrences: 3, Confidence: 0.9, FirstSeen: testNow.Add(-20 * time.Hour), LastSeen: testNow},
		{ID: "p2", PatternType: internal.PatternRateLimiting, ScraperName: "a", Signature: "s2",
			Occurrences: 4, Confidence: 1.0, FirstSeen: testNow.Add(-20 * time.Hour), LastSeen: testNow},
	}); err != nil {
		t.Fatalf("RecordPatterns() error = %v", err)
	}

	stats, err := store.Stats(ctx, 7)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	if stats.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3 (the 40-day-old event is outside the window)", stats.TotalEvents)
	}
	if stats.BySeverity["CRITICAL"] != 2 {
		t.Errorf("BySeverity[CRITICAL] = %d, want 2", stats.BySeverity["CRITICAL"])
	}
	if stats.BySeverity["LOW"] != 1 {
		t.Errorf("BySeverity[LOW] = %d, want 1", stats.BySeverity["LOW"])
	}
	if stats.ByURL["https://a.example.com"] != 2 {
		t.Errorf("ByURL[a] = %d, want 2", stats.ByURL["https://a.example.com"])
	}
	if stats.ByPatternType["RECURRING_ERROR"] != 1 || stats.ByPatternType["RATE_LIMITING"] != 1 {
		t.Errorf("ByPatternType = %v, want one of each", stats.ByPatternType)
	}
	if len(stats.ByDay) != 2 {
		t.Fatalf("ByDay = %v, want 2 day buckets", stats.ByDay)
	}
	if stats.ByDay[0].Day != "2025-06-08" || stats.ByDay[0].Count != 1 {
		t.Errorf("ByDay[0] = %+v, want 2025-06-08 count 1", stats.ByDay[0])
	}
	if stats.ByDay[1].Day != "2025-06-09" || stats.ByDay[1].Count != 2 {
		t.Errorf("ByDay[1] = %+v, want 2025-06-09 count 2", stats.ByDay[1])
	}
}

func TestPruneDropsOldRows(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	old := event("https://a.example.com", internal.SeverityLow, testNow.AddDate(0, 0, -60))
	recent := event("https://a.example.com", internal.SeverityLow, testNow.Add(-time.Hour))
	for _, e := range []*internal.StructureChangeEvent{old, recent} {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	pruned, err := store.Prune(ctx, testNow.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("Prune() = %d, want 1", pruned)
	}

	remaining, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != recent.ID {
		t.Errorf("remaining = %+v, want only the recent event", remaining)
	}
}
