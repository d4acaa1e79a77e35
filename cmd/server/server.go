// cmd/server/server.go
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/export"
	"github.com/valpere/ScrapeSentry/internal/history"
	"github.com/valpere/ScrapeSentry/internal/monitor"
	"github.com/valpere/ScrapeSentry/internal/monitoring"
	"github.com/valpere/ScrapeSentry/internal/recorder"
	"github.com/valpere/ScrapeSentry/internal/recovery"
	"github.com/valpere/ScrapeSentry/internal/storage"
	"github.com/valpere/ScrapeSentry/internal/utils"
	"github.com/valpere/ScrapeSentry/pkg/api"
	"github.com/valpere/ScrapeSentry/pkg/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Server wires the monitor and its stores to the REST surface.
type Server struct {
	cfg     *config.Config
	store   *storage.Store
	mon     *monitor.Monitor
	health  *monitoring.Health
	limiter *rate.Limiter
	logger  utils.Logger
}

// NewServer builds the API server around an existing monitor.
func NewServer(cfg *config.Config, store *storage.Store, mon *monitor.Monitor) *Server {
	health := monitoring.NewHealth()
	health.Register("storage", store.Ping)

	s := &Server{
		cfg:    cfg,
		store:  store,
		mon:    mon,
		health: health,
		logger: utils.NewComponentLogger("server"),
	}

	if rps := cfg.Server.RateLimit.RequestsPerSecond; rps > 0 {
		burst := cfg.Server.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return s
}

// Routes assembles the full handler tree. Probe and metrics endpoints
// stay outside the authenticated API subtree so orchestrators can reach
// them without credentials.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/health", s.health.HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.health.ReadyHandler()).Methods(http.MethodGet)
	r.HandleFunc("/live", s.health.LiveHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", monitoring.Handler()).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(s.rateLimitMiddleware)
	if s.cfg.Server.AuthToken != "" {
		apiRouter.Use(s.authMiddleware)
	}

	apiRouter.HandleFunc("/executions", s.handleListExecutions).Methods(http.MethodGet)
	apiRouter.HandleFunc("/executions", s.handleRecordExecution).Methods(http.MethodPost)
	apiRouter.HandleFunc("/changes", s.handleListChanges).Methods(http.MethodGet)
	apiRouter.HandleFunc("/patterns", s.handleListPatterns).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/baselines", s.handleListBaselines).Methods(http.MethodGet)
	apiRouter.HandleFunc("/baselines/reset", s.handleResetBaseline).Methods(http.MethodPost)
	apiRouter.HandleFunc("/escalations", s.handleListEscalations).Methods(http.MethodGet)
	apiRouter.HandleFunc("/mappings", s.handleListMappings).Methods(http.MethodGet)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Debugf("request served in %s", time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token != s.cfg.Server.AuthToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, utils.ErrCodeValidationFailure, err.Error())
		return
	}

	opts := recorder.QueryOptions{
		ScraperName: r.URL.Query().Get("scraper"),
		Limit:       capLimit(limit),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, utils.ErrCodeValidationFailure,
				"since must be an RFC3339 timestamp")
			return
		}
		opts.Since = since
	}

	cursor, err := s.mon.Recorder().Query(r.Context(), opts)
	if err != nil {
		s.storageError(w, err)
		return
	}
	records, err := cursor.All()
	if err != nil {
		s.storageError(w, err)
		return
	}

	out := api.ExecutionsResponse{Executions: make([]api.ExecutionRecord, 0, len(records))}
	for _, rec := range records {
		out.Executions = append(out.Executions, toAPIExecution(rec))
	}
	out.Count = len(out.Executions)
	s.writeJSON(w, http.StatusOK, out)
}

// handleRecordExecution ingests one scraper run. The write is best
// effort, so the handler acknowledges before the row is durable.
func (s *Server) handleRecordExecution(w http.ResponseWriter, r *http.Request) {
	var rec api.ExecutionRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.writeError(w, http.StatusBadRequest, utils.ErrCodeValidationFailure, "invalid JSON body")
		return
	}
	if rec.ScraperName == "" {
		s.writeError(w, http.StatusBadRequest, utils.ErrCodeValidationFailure, "scraper_name is required")
		return
	}

	now := time.Now().UTC()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = now
	}
	if rec.DurationMs == 0 && rec.FinishedAt.After(rec.StartedAt) {
		rec.DurationMs = rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
	}

	s.mon.Recorder().Record(r.Context(), internal.ExecutionRecord{
		ScraperName:  rec.ScraperName,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		Success:      rec.Success,
		ErrorType:    rec.ErrorType,
		ErrorMessage: rec.ErrorMessage,
		DurationMs:   rec.DurationMs,
	})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	severity := r.URL.Query().Get("severity")
	if severity != "" && !types.ChangeSeverity(severity).IsValid() {
		s.writeError(w, http.StatusBadRequest, utils.ErrCodeValidationFailure,
			fmt.Sprintf("unknown severity %q", severity))
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, utils.ErrCodeValidationFailure, err.Error())
		return
	}

	events, err := s.mon.History().Query(r.Context(), history.QueryOptions{
		URL:      r.URL.Query().Get("url"),
		Severity: internal.ChangeSeverity(severity),
		Limit:    capLimit(limit),
	})
	if err != nil {
		s.storageError(w, err)
		return
	}

	out := api.ChangesResponse{Events: make([]api.ChangeEvent, 0, len(events))}
	for _, ev := range events {
		out.Events = append(out.Events, toAPIChangeEvent(ev))
	}
	out.Count = len(out.Events)
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, utils.ErrCodeValidationFailure, err.Error())
		return
	}

	patterns, err := s.mon.History().Patterns(r.Context(), capLimit(limit))
	if err != nil {
		s.storageError(w, err)
		return
	}

	out := api.PatternsResponse{Patterns: make([]api.FailurePattern, 0, len(patterns))}
	for _, p := range patterns {
		out.Patterns = append(out.Patterns, toAPIPattern(p))
	}
	out.Count = len(out.Patterns)
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 30)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, utils.ErrCodeValidationFailure, err.Error())
		return
	}

	report, err := export.Build(r.Context(), s.mon.History(), export.BuildOptions{WindowDays: days})
	if err != nil {
		s.storageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toAPIReport(report))
}

func (s *Server) handleListBaselines(w http.ResponseWriter, r *http.Request) {
	baselines, err := s.mon.Structure().Baselines(r.Context())
	if err != nil {
		s.storageError(w, err)
		return
	}

	out := api.BaselinesResponse{Baselines: make([]api.BaselineSummary, 0, len(baselines))}
	for _, b := range baselines {
		out.Baselines = append(out.Baselines, toAPIBaseline(b))
	}
	out.Count = len(out.Baselines)
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	escalations, err := s.mon.Structure().Escalations(r.Context())
	if err != nil {
		s.storageError(w, err)
		return
	}
	if escalations == nil {
		escalations = []string{}
	}
	s.writeJSON(w, http.StatusOK, api.EscalationsResponse{
		Escalations: escalations,
		Count:       len(escalations),
	})
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	urls := []string{r.URL.Query().Get("url")}
	if urls[0] == "" {
		urls = urls[:0]
		for _, t := range s.cfg.Watch.Targets {
			urls = append(urls, t.URL)
		}
	}

	out := api.MappingsResponse{Mappings: []api.SelectorMapping{}}
	for _, pageURL := range urls {
		mappings, err := s.mon.Recovery().Mappings(r.Context(), pageURL)
		if err != nil {
			s.storageError(w, err)
			return
		}
		for _, m := range mappings {
			out.Mappings = append(out.Mappings, toAPIMapping(m))
		}
	}
	out.Count = len(out.Mappings)
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResetBaseline(w http.ResponseWriter, r *http.Request) {
	var req api.ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, utils.ErrCodeValidationFailure, "invalid JSON body")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, utils.ErrCodeValidationFailure, "url is required")
		return
	}

	snap, err := s.mon.ResetBaseline(r.Context(), req.URL)
	if err != nil {
		if utils.CodeOf(err) == utils.ErrCodeConfig {
			s.writeError(w, http.StatusNotFound, utils.ErrCodeConfig,
				"url is not a configured watch target")
			return
		}
		s.storageError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, api.ResetResponse{
		URL:           snap.URL,
		State:         types.StateBaselined,
		StructureHash: snap.StructureHash,
		Selectors:     len(snap.ElementSignatures),
		ResetAt:       snap.FetchedAt,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorf("encoding response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code utils.ErrorCode, msg string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: msg, Code: string(code)})
}

// storageError answers 500 without echoing backend details to clients.
func (s *Server) storageError(w http.ResponseWriter, err error) {
	s.logger.Errorf("request failed: %v", err)
	s.writeError(w, http.StatusInternalServerError, utils.CodeOf(err), "internal storage failure")
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	if n == 0 {
		return def, nil
	}
	return n, nil
}

func capLimit(limit int) int {
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func toAPIExecution(rec internal.ExecutionRecord) api.ExecutionRecord {
	return api.ExecutionRecord{
		ID:           rec.ID,
		ScraperName:  rec.ScraperName,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		Success:      rec.Success,
		ErrorType:    rec.ErrorType,
		ErrorMessage: rec.ErrorMessage,
		DurationMs:   rec.DurationMs,
	}
}

func toAPIChangeEvent(ev internal.StructureChangeEvent) api.ChangeEvent {
	return api.ChangeEvent{
		ID:              ev.ID,
		URL:             ev.URL,
		PreviousHash:    ev.PreviousHash,
		CurrentHash:     ev.CurrentHash,
		Severity:        types.ChangeSeverity(ev.Severity),
		BrokenSelectors: ev.BrokenSelectors,
		DetectedAt:      ev.DetectedAt,
	}
}

func toAPIPattern(p internal.FailurePattern) api.FailurePattern {
	return api.FailurePattern{
		ID:           p.ID,
		PatternType:  types.PatternType(p.PatternType),
		ScraperName:  p.ScraperName,
		Signature:    p.Signature,
		Occurrences:  p.Occurrences,
		Confidence:   p.Confidence,
		FirstSeen:    p.FirstSeen,
		LastSeen:     p.LastSeen,
		SuggestedFix: p.SuggestedFix,
	}
}

func toAPIBaseline(b internal.Baseline) api.BaselineSummary {
	return api.BaselineSummary{
		URL:           b.Snapshot.URL,
		State:         types.PageState(b.State),
		StructureHash: b.Snapshot.StructureHash,
		Selectors:     len(b.Snapshot.ElementSignatures),
		FetchedAt:     b.Snapshot.FetchedAt,
		AcceptedAt:    b.AcceptedAt,
	}
}

func toAPIMapping(m recovery.Mapping) api.SelectorMapping {
	return api.SelectorMapping{
		URL:              m.URL,
		OriginalSelector: m.OriginalSelector,
		CurrentSelector:  m.CurrentSelector,
		Confidence:       m.Confidence,
		AdoptedAt:        m.AdoptedAt,
	}
}

func toAPIStats(st *internal.HistoryStats) *api.HistoryStats {
	if st == nil {
		return nil
	}
	out := &api.HistoryStats{
		WindowDays:    st.WindowDays,
		Since:         st.Since,
		TotalEvents:   st.TotalEvents,
		BySeverity:    make(map[types.ChangeSeverity]int64, len(st.BySeverity)),
		ByURL:         st.ByURL,
		ByPatternType: make(map[types.PatternType]int64, len(st.ByPatternType)),
		ByDay:         make([]api.DayCount, 0, len(st.ByDay)),
	}
	for sev, n := range st.BySeverity {
		out.BySeverity[types.ChangeSeverity(sev)] = n
	}
	for pt, n := range st.ByPatternType {
		out.ByPatternType[types.PatternType(pt)] = n
	}
	for _, d := range st.ByDay {
		out.ByDay = append(out.ByDay, api.DayCount{Day: d.Day, Count: d.Count})
	}
	return out
}

func toAPIReport(rep *export.Report) *api.StatsReport {
	out := &api.StatsReport{
		GeneratedAt: rep.GeneratedAt,
		Stats:       toAPIStats(rep.Stats),
		Events:      make([]api.ChangeEvent, 0, len(rep.Events)),
		Patterns:    make([]api.FailurePattern, 0, len(rep.Patterns)),
	}
	for _, ev := range rep.Events {
		out.Events = append(out.Events, toAPIChangeEvent(ev))
	}
	for _, p := range rep.Patterns {
		out.Patterns = append(out.Patterns, toAPIPattern(p))
	}
	return out
}
