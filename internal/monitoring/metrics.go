// internal/monitoring/metrics.go

// Package monitoring exposes Prometheus metrics and health checks for
// the watch loop and its storage.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus series the monitor reports. A nil
// *Metrics is a valid no-op receiver, so callers never have to guard
// for metrics being disabled.
type Metrics struct {
	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec

	changeEvents     *prometheus.CounterVec
	baselineAccepts  prometheus.Counter
	baselineConflict prometheus.Counter

	recoveryAttempts    *prometheus.CounterVec
	candidatesProposed  prometheus.Counter
	candidatesValidated prometheus.Counter

	escalationsActive prometheus.Gauge
	droppedRecords    prometheus.Gauge

	analysisRuns  prometheus.Counter
	patternsFound *prometheus.GaugeVec

	notificationsTotal *prometheus.CounterVec
}

// NewMetrics registers the metric set in the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers the metric set in a caller-provided
// registry. Tests use this to avoid duplicate registration.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	const namespace = "scrapesentry"

	return &Metrics{
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Structure checks performed, by target URL and outcome",
			},
			[]string{"url", "outcome"},
		),
		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Duration of one structure check including fetch",
				Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"url"},
		),
		changeEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "change_events_total",
				Help:      "Structure change events recorded, by severity",
			},
			[]string{"url", "severity"},
		),
		baselineAccepts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "baseline_accepts_total",
				Help:      "Baselines accepted or re-accepted",
			},
		),
		baselineConflict: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "baseline_conflicts_total",
				Help:      "Baseline compare-and-swap conflicts (lost races)",
			},
		),
		recoveryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_attempts_total",
				Help:      "Selector recovery attempts, by outcome",
			},
			[]string{"url", "outcome"},
		),
		candidatesProposed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_candidates_proposed_total",
				Help:      "Candidates that survived the mapper output gate",
			},
		),
		candidatesValidated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_candidates_validated_total",
				Help:      "Candidates that passed content validation",
			},
		),
		escalationsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "escalations_active",
				Help:      "URLs currently escalated and waiting for manual reset",
			},
		),
		droppedRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "execution_records_dropped",
				Help:      "Execution records dropped because best-effort recording failed",
			},
		),
		analysisRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analysis_runs_total",
				Help:      "Failure-pattern analysis passes completed",
			},
		),
		patternsFound: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "patterns_found",
				Help:      "Patterns reported by the latest analysis pass, by type",
			},
			[]string{"pattern_type"},
		),
		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications published, by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordCheck counts one structure check and its duration.
func (m *Metrics) RecordCheck(url, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(url, outcome).Inc()
	m.checkDuration.WithLabelValues(url).Observe(duration.Seconds())
}

// RecordChangeEvent counts one recorded change event.
func (m *Metrics) RecordChangeEvent(url, severity string) {
	if m == nil {
		return
	}
	m.changeEvents.WithLabelValues(url, severity).Inc()
}

// RecordBaselineAccept counts one successful baseline write.
func (m *Metrics) RecordBaselineAccept() {
	if m == nil {
		return
	}
	m.baselineAccepts.Inc()
}

// RecordBaselineConflict counts one lost compare-and-swap race.
func (m *Metrics) RecordBaselineConflict() {
	if m == nil {
		return
	}
	m.baselineConflict.Inc()
}

// RecordRecoveryAttempt counts one recovery attempt with its outcome
// and the candidate tallies behind it.
func (m *Metrics) RecordRecoveryAttempt(url, outcome string, proposed, validated int) {
	if m == nil {
		return
	}
	m.recoveryAttempts.WithLabelValues(url, outcome).Inc()
	m.candidatesProposed.Add(float64(proposed))
	m.candidatesValidated.Add(float64(validated))
}

// SetEscalationsActive publishes the current escalated-URL count.
func (m *Metrics) SetEscalationsActive(n int) {
	if m == nil {
		return
	}
	m.escalationsActive.Set(float64(n))
}

// SetDroppedRecords publishes the recorder's dropped-write counter.
func (m *Metrics) SetDroppedRecords(n uint64) {
	if m == nil {
		return
	}
	m.droppedRecords.Set(float64(n))
}

// RecordAnalysisRun publishes the latest pass's per-type pattern counts.
func (m *Metrics) RecordAnalysisRun(byType map[string]int) {
	if m == nil {
		return
	}
	m.analysisRuns.Inc()
	for patternType, count := range byType {
		m.patternsFound.WithLabelValues(patternType).Set(float64(count))
	}
}

// RecordNotification counts one published notification.
func (m *Metrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(kind).Inc()
}

// Handler returns the Prometheus scrape endpoint for the default
// registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
