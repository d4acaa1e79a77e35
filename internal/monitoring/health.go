// internal/monitoring/health.go

package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// HealthStatus classifies a component's health.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// CheckFunc probes one component. A nil return means healthy; any error
// marks the component unhealthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is one component's latest probe outcome.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SystemHealth is the aggregate health report served over HTTP.
type SystemHealth struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Checks    []CheckResult `json:"checks"`

	Goroutines int    `json:"goroutines"`
	HeapBytes  uint64 `json:"heap_bytes"`
}

// Health runs registered component checks on demand and serves the
// aggregate over the usual /health, /ready, /live trio.
type Health struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	started time.Time
}

// NewHealth creates an empty health registry.
func NewHealth() *Health {
	return &Health{
		checks:  make(map[string]CheckFunc),
		timeout: 5 * time.Second,
		started: time.Now(),
	}
}

// Register adds or replaces a named component check.
func (h *Health) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Evaluate runs every registered check and aggregates the outcome. One
// failing check degrades the system; all checks failing marks it
// unhealthy.
func (h *Health) Evaluate(ctx context.Context) SystemHealth {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	funcs := make([]CheckFunc, len(names))
	for i, name := range names {
		funcs[i] = h.checks[name]
	}
	h.mu.RUnlock()

	results := make([]CheckResult, len(names))
	failed := 0
	for i, check := range funcs {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		start := time.Now()
		err := check(checkCtx)
		cancel()

		results[i] = CheckResult{
			Name:     names[i],
			Status:   HealthStatusHealthy,
			Duration: time.Since(start),
		}
		if err != nil {
			results[i].Status = HealthStatusUnhealthy
			results[i].Error = err.Error()
			failed++
		}
	}

	status := HealthStatusHealthy
	switch {
	case len(results) > 0 && failed == len(results):
		status = HealthStatusUnhealthy
	case failed > 0:
		status = HealthStatusDegraded
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return SystemHealth{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Checks:     results,
		Goroutines: runtime.NumGoroutine(),
		HeapBytes:  mem.HeapAlloc,
	}
}

// HealthHandler serves the full health report. Degraded still answers
// 200; only unhealthy turns into 503.
func (h *Health) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.Evaluate(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler answers 200 only when every check passes.
func (h *Health) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.Evaluate(r.Context())
		if health.Status != HealthStatusHealthy {
			http.Error(w, string(health.Status), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// LiveHandler answers 200 whenever the process can serve HTTP at all.
func (h *Health) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}
