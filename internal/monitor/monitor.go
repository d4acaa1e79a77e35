// internal/monitor/monitor.go

// Package monitor drives the watch loop: it schedules structure checks,
// walks each page through the BASELINED/CHANGED/RECOVERED/ESCALATED
// lifecycle, runs failure-pattern analysis, and prunes aged evidence.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/analyzer"
	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/fetch"
	"github.com/valpere/ScrapeSentry/internal/history"
	"github.com/valpere/ScrapeSentry/internal/monitoring"
	"github.com/valpere/ScrapeSentry/internal/notify"
	"github.com/valpere/ScrapeSentry/internal/recorder"
	"github.com/valpere/ScrapeSentry/internal/recovery"
	"github.com/valpere/ScrapeSentry/internal/storage"
	"github.com/valpere/ScrapeSentry/internal/structure"
	"github.com/valpere/ScrapeSentry/internal/utils"
	"github.com/valpere/ScrapeSentry/pkg/types"
)

// Check outcomes as reported in logs and metrics labels.
const (
	OutcomeBaselined   = types.OutcomeBaselined
	OutcomeUnchanged   = types.OutcomeUnchanged
	OutcomeRebaselined = types.OutcomeRebaselined
	OutcomeRecovered   = types.OutcomeRecovered
	OutcomeEscalated   = types.OutcomeEscalated
	OutcomeSkipped     = types.OutcomeSkipped
	OutcomeConflict    = types.OutcomeConflict
	OutcomeFetchFailed = types.OutcomeFetchFailed
	OutcomeError       = types.OutcomeError
)

// Notifier is the outbound-notification capability the monitor uses.
// Publishing never blocks the check loop.
type Notifier interface {
	Publish(n notify.Notification)
}

// Options overrides collaborator construction, primarily for tests and
// for callers that share a dispatcher or metrics registry.
type Options struct {
	Fetcher  fetch.Fetcher
	Mapper   recovery.SemanticMapper
	Notifier Notifier
	Metrics  *monitoring.Metrics
	Clock    utils.Clock
}

// Monitor owns the per-target check sequence and the periodic analysis
// and retention passes. One Monitor serves one configuration.
type Monitor struct {
	cfg       *config.Config
	store     *storage.Store
	fetcher   fetch.Fetcher
	structure *structure.Engine
	recovery  *recovery.Engine
	recorder  *recorder.Recorder
	history   *history.Store
	analyzer  *analyzer.Analyzer
	notifier  Notifier
	metrics   *monitoring.Metrics
	clock     utils.Clock
	logger    utils.Logger
}

// New wires a Monitor from the configuration. Collaborators left nil in
// opts are built from cfg; a nil opts uses defaults for everything.
func New(cfg *config.Config, store *storage.Store, opts *Options) (*Monitor, error) {
	if cfg == nil {
		return nil, utils.NewError(utils.ErrCodeConfig, "configuration is required").Build()
	}
	if store == nil {
		return nil, utils.NewError(utils.ErrCodeConfig, "storage is required").Build()
	}
	if opts == nil {
		opts = &Options{}
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewFetcher(cfg.Fetch)
	}

	mapper := opts.Mapper
	if mapper == nil {
		var err error
		mapper, err = recovery.NewMapper(cfg.Recovery)
		if err != nil {
			return nil, err
		}
	}

	clock := opts.Clock
	if clock == nil {
		clock = utils.SystemClock()
	}

	targets := make(map[string]string, len(cfg.Watch.Targets))
	for _, t := range cfg.Watch.Targets {
		targets[t.Name] = t.URL
	}

	return &Monitor{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		structure: structure.New(store, fetcher).WithClock(clock),
		recovery:  recovery.NewEngine(store, mapper, cfg.Recovery.MaxCandidates).WithClock(clock),
		recorder:  recorder.New(store),
		history:   history.New(store).WithClock(clock),
		analyzer:  analyzer.New(cfg.Analyzer, targets).WithClock(clock),
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		clock:     clock,
		logger:    utils.NewComponentLogger("monitor"),
	}, nil
}

// Recorder exposes the execution recorder for API and CLI callers.
func (m *Monitor) Recorder() *recorder.Recorder { return m.recorder }

// History exposes the change-history store for API and CLI callers.
func (m *Monitor) History() *history.Store { return m.history }

// Structure exposes the structure engine for API and CLI callers.
func (m *Monitor) Structure() *structure.Engine { return m.structure }

// Recovery exposes the recovery engine for API and CLI callers.
func (m *Monitor) Recovery() *recovery.Engine { return m.recovery }

// CheckOutcome summarizes one target check.
type CheckOutcome struct {
	Target   string                  `json:"target"`
	URL      string                  `json:"url"`
	Outcome  types.CheckOutcome      `json:"outcome"`
	Severity internal.ChangeSeverity `json:"severity,omitempty"`
	Broken   []string                `json:"broken_selectors,omitempty"`
	Adopted  map[string]string       `json:"adopted_selectors,omitempty"`
	Duration time.Duration           `json:"duration"`
	Err      error                   `json:"-"`
}

// CheckTarget runs the full check sequence for one target: fetch,
// fingerprint, compare against the accepted baseline, and recover or
// escalate on a critical change. The whole sequence holds the URL's
// exclusive section, so two checks of the same page never interleave.
// The returned outcome is always non-nil, even on error.
func (m *Monitor) CheckTarget(ctx context.Context, target config.Target) (*CheckOutcome, error) {
	out := &CheckOutcome{Target: target.Name, URL: target.URL}
	start := m.clock.Now()

	err := m.structure.Exclusive(target.URL, func() error {
		return m.checkLocked(ctx, target, out)
	})

	out.Duration = m.clock.Now().Sub(start)
	out.Err = err
	if err != nil && out.Outcome == "" {
		out.Outcome = OutcomeError
	}
	m.metrics.RecordCheck(target.URL, out.Outcome.String(), out.Duration)

	m.logger.WithFields(map[string]interface{}{
		"target":  target.Name,
		"url":     target.URL,
		"outcome": out.Outcome,
	}).Debug("check finished")
	return out, err
}

func (m *Monitor) checkLocked(ctx context.Context, target config.Target, out *CheckOutcome) error {
	baseline, err := m.structure.Baseline(ctx, target.URL)
	if err != nil {
		return err
	}
	if baseline != nil && baseline.State == internal.PageStateEscalated {
		// Parked for manual attention; nothing to do until reset.
		out.Outcome = OutcomeSkipped
		return nil
	}

	effective, configured, err := m.effectiveTarget(ctx, target)
	if err != nil {
		return err
	}

	page, err := m.fetcher.Fetch(ctx, target.URL)
	if err != nil {
		// Fetch failures are not structure changes: no event, no state
		// transition, retry on the next pass.
		out.Outcome = OutcomeFetchFailed
		return err
	}

	curr, err := structure.BuildSnapshot(target.URL, page.HTML, page.FetchedAt, effective.TrackedSelectors())
	if err != nil {
		return err
	}

	if baseline == nil {
		if err := m.structure.AcceptBaseline(ctx, curr, ""); err != nil {
			return m.absorbConflict(err, out)
		}
		m.metrics.RecordBaselineAccept()
		out.Outcome = OutcomeBaselined
		return nil
	}

	event := structure.Compare(&baseline.Snapshot, curr)
	if event == nil {
		if baseline.State == internal.PageStateRecovered {
			// One clean pass after adoption closes the recovery.
			if err := m.structure.SetState(ctx, target.URL, internal.PageStateBaselined); err != nil {
				return err
			}
		}
		out.Outcome = OutcomeUnchanged
		return nil
	}

	// Evidence before signal: the event lands in history before anyone
	// is notified or any state moves.
	if err := m.history.Append(ctx, event); err != nil {
		return err
	}
	m.metrics.RecordChangeEvent(target.URL, string(event.Severity))
	out.Severity = event.Severity
	out.Broken = event.BrokenSelectors

	m.publish(notify.Notification{
		Kind:            notify.KindChangeDetected,
		URL:             target.URL,
		Severity:        event.Severity,
		Message:         fmt.Sprintf("structure drift (%s) detected on %s", event.Severity, target.URL),
		BrokenSelectors: event.BrokenSelectors,
		OccurredAt:      event.DetectedAt,
	})

	if event.Severity != internal.SeverityCritical {
		// Every tracked selector still matches, so the drift is absorbed
		// by advancing the baseline to the current structure.
		if err := m.structure.AcceptBaseline(ctx, curr, baseline.Snapshot.StructureHash); err != nil {
			return m.absorbConflict(err, out)
		}
		m.metrics.RecordBaselineAccept()
		out.Outcome = OutcomeRebaselined
		return nil
	}

	return m.recoverCritical(ctx, effective, configured, baseline, event, page.HTML, curr.FetchedAt, out)
}

// recoverCritical runs the propose/validate/adopt sequence for a critical
// change and escalates when it cannot repair every broken selector.
func (m *Monitor) recoverCritical(ctx context.Context, effective config.Target, configured map[string]string, baseline *internal.Baseline, event *internal.StructureChangeEvent, html string, fetchedAt time.Time, out *CheckOutcome) error {
	if err := m.structure.SetState(ctx, effective.URL, internal.PageStateChanged); err != nil {
		return err
	}

	if !m.cfg.Recovery.Enabled {
		out.Outcome = OutcomeEscalated
		return m.escalate(ctx, effective.URL, event.BrokenSelectors, "selector recovery is disabled")
	}

	res, err := m.recovery.Attempt(ctx, effective, event, baseline, html)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		m.logger.WithField("url", effective.URL).Errorf("recovery attempt failed: %v", err)
		m.metrics.RecordRecoveryAttempt(effective.URL, "error", 0, 0)
		out.Outcome = OutcomeEscalated
		return m.escalate(ctx, effective.URL, event.BrokenSelectors, "semantic mapper unavailable")
	}

	proposed := 0
	for _, candidates := range res.Candidates {
		proposed += len(candidates)
	}

	if !res.FullyRecovered() {
		m.metrics.RecordRecoveryAttempt(effective.URL, "escalated", proposed, len(res.Adopted))
		out.Outcome = OutcomeEscalated
		return m.escalate(ctx, effective.URL, res.Exhausted, "no proposed selector survived validation")
	}

	// Re-fingerprint the same markup with the repaired selector set so the
	// adopted baseline tracks the replacements, then advance baseline and
	// mappings together. Mappings are keyed by the configured original
	// selector, so a second repair overwrites rather than chains.
	repaired := effective
	repaired.Selectors = make([]config.SelectorConfig, len(effective.Selectors))
	copy(repaired.Selectors, effective.Selectors)
	for i := range repaired.Selectors {
		if candidate, ok := res.Adopted[repaired.Selectors[i].Selector]; ok {
			repaired.Selectors[i].Selector = candidate.CandidateSelector
		}
	}

	adoptedByOriginal := make(map[string]internal.SelectorCandidate, len(res.Adopted))
	adoptedNames := make(map[string]string, len(res.Adopted))
	for broken, candidate := range res.Adopted {
		original := configured[broken]
		if original == "" {
			original = broken
		}
		adoptedByOriginal[original] = candidate
		adoptedNames[original] = candidate.CandidateSelector
	}

	adopted, err := structure.BuildSnapshot(effective.URL, html, fetchedAt, repaired.TrackedSelectors())
	if err != nil {
		return err
	}

	if err := m.recovery.Adopt(ctx, adopted, baseline.Snapshot.StructureHash, adoptedByOriginal); err != nil {
		return m.absorbConflict(err, out)
	}
	m.metrics.RecordBaselineAccept()
	m.metrics.RecordRecoveryAttempt(effective.URL, "recovered", proposed, len(res.Adopted))

	m.publish(notify.Notification{
		Kind:             notify.KindRecovered,
		URL:              effective.URL,
		Severity:         event.Severity,
		Message:          fmt.Sprintf("recovered %d selector(s) on %s", len(adoptedNames), effective.URL),
		AdoptedSelectors: adoptedNames,
		OccurredAt:       m.clock.Now().UTC(),
	})
	out.Outcome = OutcomeRecovered
	out.Adopted = adoptedNames
	return nil
}

// escalate parks the page for manual attention and publishes exactly one
// escalation notification.
func (m *Monitor) escalate(ctx context.Context, pageURL string, broken []string, reason string) error {
	if err := m.structure.SetState(ctx, pageURL, internal.PageStateEscalated); err != nil {
		return err
	}

	m.publish(notify.Notification{
		Kind:                notify.KindEscalated,
		URL:                 pageURL,
		Severity:            internal.SeverityCritical,
		Message:             fmt.Sprintf("escalating %s: %s", pageURL, reason),
		BrokenSelectors:     broken,
		RequiresManualReset: true,
		OccurredAt:          m.clock.Now().UTC(),
	})

	m.logger.WithFields(map[string]interface{}{
		"url":    pageURL,
		"reason": reason,
	}).Error("page escalated for manual attention")
	return nil
}

// effectiveTarget substitutes adopted replacements into the configured
// target and returns, alongside it, the map from effective selector back
// to the configured original.
func (m *Monitor) effectiveTarget(ctx context.Context, target config.Target) (config.Target, map[string]string, error) {
	mappings, err := m.recovery.Mappings(ctx, target.URL)
	if err != nil {
		return target, nil, err
	}
	current := make(map[string]string, len(mappings))
	for _, mp := range mappings {
		current[mp.OriginalSelector] = mp.CurrentSelector
	}

	effective := target
	effective.Selectors = make([]config.SelectorConfig, len(target.Selectors))
	copy(effective.Selectors, target.Selectors)

	configured := make(map[string]string, len(effective.Selectors))
	for i := range effective.Selectors {
		original := effective.Selectors[i].Selector
		if replacement, ok := current[original]; ok {
			effective.Selectors[i].Selector = replacement
			configured[replacement] = original
		} else {
			configured[original] = original
		}
	}
	return effective, configured, nil
}

// absorbConflict turns a lost baseline race into a conflict outcome; the
// next pass re-reads the winner and re-decides. Anything else propagates.
func (m *Monitor) absorbConflict(err error, out *CheckOutcome) error {
	if utils.CodeOf(err) != utils.ErrCodeBaselineConflict {
		return err
	}
	m.metrics.RecordBaselineConflict()
	m.logger.WithField("url", out.URL).Warn("baseline changed underneath this check, will re-read next pass")
	out.Outcome = OutcomeConflict
	return nil
}

// RunOnce checks every configured target concurrently and refreshes the
// pass-level gauges. Per-target failures are logged and reported in the
// outcomes, never fatal to the pass.
func (m *Monitor) RunOnce(ctx context.Context) []CheckOutcome {
	targets := m.cfg.Watch.Targets
	outcomes := make([]CheckOutcome, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target config.Target) {
			defer wg.Done()
			out, err := m.CheckTarget(ctx, target)
			if err != nil {
				m.logger.WithFields(map[string]interface{}{
					"target": target.Name,
					"url":    target.URL,
				}).Errorf("check failed: %v", err)
			}
			outcomes[i] = *out
		}(i, target)
	}
	wg.Wait()

	if escalated, err := m.structure.Escalations(ctx); err == nil {
		m.metrics.SetEscalationsActive(len(escalated))
	}
	m.metrics.SetDroppedRecords(m.recorder.DroppedWrites())
	return outcomes
}

// RunAnalysis mines the recent execution history for failure patterns,
// persists the findings, and returns them.
func (m *Monitor) RunAnalysis(ctx context.Context) ([]internal.FailurePattern, error) {
	since := m.clock.Now().Add(-m.cfg.Analyzer.Lookback())
	cursor, err := m.recorder.Query(ctx, recorder.QueryOptions{Since: since})
	if err != nil {
		return nil, err
	}
	records, err := cursor.All()
	if err != nil {
		return nil, err
	}

	open, err := m.history.OpenEvents(ctx)
	if err != nil {
		return nil, err
	}

	patterns, err := m.analyzer.Analyze(ctx, records, open)
	if err != nil {
		return nil, err
	}
	if err := m.history.RecordPatterns(ctx, patterns); err != nil {
		return nil, err
	}

	// Seed every type so a pattern that disappears resets its gauge.
	byType := map[string]int{
		string(internal.PatternRecurringError):   0,
		string(internal.PatternStructuralChange): 0,
		string(internal.PatternRateLimiting):     0,
	}
	for _, p := range patterns {
		byType[string(p.PatternType)]++
	}
	m.metrics.RecordAnalysisRun(byType)
	return patterns, nil
}

// PruneRetention deletes execution records and change events older than
// the configured retention window. Baselines and adopted mappings are
// never pruned. Each table is pruned even when the other fails; failures
// are aggregated.
func (m *Monitor) PruneRetention(ctx context.Context) error {
	days := m.cfg.Storage.RetentionDays
	if days <= 0 {
		return nil
	}
	cutoff := m.clock.Now().UTC().AddDate(0, 0, -days)

	var errs utils.MultiError
	executions, err := m.recorder.Prune(ctx, cutoff)
	errs.Append(err)
	events, err := m.history.Prune(ctx, cutoff)
	errs.Append(err)

	if executions > 0 || events > 0 {
		m.logger.Infof("retention pass removed %d executions, %d change events", executions, events)
	}
	return errs.ErrorOrNil()
}

// ResetBaseline is the manual escape hatch for an escalated page: it
// discards every adopted mapping, re-fingerprints the page with the
// originally configured selectors, and installs the result as the new
// baseline in BASELINED state.
func (m *Monitor) ResetBaseline(ctx context.Context, pageURL string) (*internal.StructureSnapshot, error) {
	target, ok := m.targetFor(pageURL)
	if !ok {
		return nil, utils.NewError(utils.ErrCodeConfig, "url is not a configured watch target").
			WithContext("url", pageURL).
			Build()
	}

	var snap *internal.StructureSnapshot
	err := m.structure.Exclusive(pageURL, func() error {
		if err := m.recovery.ClearMappings(ctx, pageURL); err != nil {
			return err
		}
		s, err := m.structure.Snapshot(ctx, pageURL, target.TrackedSelectors())
		if err != nil {
			return err
		}
		if err := m.structure.ReplaceBaseline(ctx, s); err != nil {
			return err
		}
		snap = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithField("url", pageURL).Info("baseline reset to configured selectors")
	return snap, nil
}

// Run blocks, alternating structure checks, analysis passes, and a daily
// retention pass until the context is cancelled. The first check pass
// starts immediately.
func (m *Monitor) Run(ctx context.Context) error {
	checkTicker := time.NewTicker(m.cfg.Watch.Interval())
	defer checkTicker.Stop()
	analysisTicker := time.NewTicker(m.cfg.Watch.AnalysisInterval())
	defer analysisTicker.Stop()
	pruneTicker := time.NewTicker(24 * time.Hour)
	defer pruneTicker.Stop()

	m.logger.WithFields(map[string]interface{}{
		"targets":  len(m.cfg.Watch.Targets),
		"interval": m.cfg.Watch.Interval().String(),
	}).Info("watch loop started")
	m.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("watch loop stopped")
			return ctx.Err()
		case <-checkTicker.C:
			m.RunOnce(ctx)
		case <-analysisTicker.C:
			if _, err := m.RunAnalysis(ctx); err != nil {
				m.logger.Errorf("analysis pass failed: %v", err)
			}
		case <-pruneTicker.C:
			if err := m.PruneRetention(ctx); err != nil {
				m.logger.Errorf("retention pass failed: %v", err)
			}
		}
	}
}

func (m *Monitor) targetFor(pageURL string) (config.Target, bool) {
	for _, t := range m.cfg.Watch.Targets {
		if t.URL == pageURL {
			return t, true
		}
	}
	return config.Target{}, false
}

func (m *Monitor) publish(n notify.Notification) {
	if m.notifier == nil {
		return
	}
	m.notifier.Publish(n)
	m.metrics.RecordNotification(string(n.Kind))
}
