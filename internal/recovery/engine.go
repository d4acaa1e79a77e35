// internal/recovery/engine.go

package recovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/storage"
	"github.com/valpere/ScrapeSentry/internal/utils"
	"github.com/valpere/ScrapeSentry/pkg/types"
)

var logger = utils.NewComponentLogger("recovery")

// maxSelectorLength rejects pathological proposals before parsing.
const maxSelectorLength = 200

// MappingRequest is everything a mapper gets to work with for one broken
// selector.
type MappingRequest struct {
	// URL of the page being repaired
	URL string
	// BrokenSelector is the tracked selector that stopped matching
	BrokenSelector string
	// Semantics describes what the selector extracted, from configuration
	Semantics string
	// Baseline is the selector's signature from the accepted baseline
	Baseline internal.ElementSignature
	// HTML is the current page markup
	HTML string
	// MaxCandidates caps how many proposals the mapper should return
	MaxCandidates int
}

// SemanticMapper proposes replacement selectors. Implementations are
// untrusted: every proposal passes GateCandidates and content validation
// before adoption.
type SemanticMapper interface {
	ProposeSelectors(ctx context.Context, req MappingRequest) ([]internal.SelectorCandidate, error)
}

// NewMapper builds the mapper the configuration selects.
func NewMapper(cfg config.RecoveryConfig) (SemanticMapper, error) {
	switch types.MapperType(cfg.Mapper) {
	case "", types.MapperHeuristic:
		return NewHeuristicMapper(), nil
	case types.MapperOpenAI:
		return NewOpenAIMapper(cfg.OpenAI)
	default:
		return nil, utils.NewError(utils.ErrCodeConfig, "unknown mapper").
			WithContext("mapper", cfg.Mapper).
			Build()
	}
}

// Result reports one recovery attempt. Recovery succeeds only when every
// broken selector found a validated replacement; anything short of that
// leaves the page for escalation.
type Result struct {
	// Candidates holds every gated proposal per broken selector, with
	// Validated and ValidationError filled in as far as checking got.
	Candidates map[string][]internal.SelectorCandidate
	// Adopted maps each repaired selector to its validated winner.
	Adopted map[string]internal.SelectorCandidate
	// Exhausted lists broken selectors no candidate could satisfy.
	Exhausted []string
}

// FullyRecovered reports whether every broken selector was repaired.
func (r *Result) FullyRecovered() bool {
	return len(r.Exhausted) == 0 && len(r.Adopted) > 0
}

// Engine runs the propose-gate-validate loop and persists adopted
// mappings.
type Engine struct {
	store         *storage.Store
	mapper        SemanticMapper
	clock         utils.Clock
	maxCandidates int
}

// NewEngine creates a recovery Engine.
func NewEngine(store *storage.Store, mapper SemanticMapper, maxCandidates int) *Engine {
	if maxCandidates <= 0 {
		maxCandidates = 5
	}
	return &Engine{
		store:         store,
		mapper:        mapper,
		clock:         utils.SystemClock(),
		maxCandidates: maxCandidates,
	}
}

// WithClock substitutes the time source, primarily for tests.
func (e *Engine) WithClock(clock utils.Clock) *Engine {
	e.clock = clock
	return e
}

// Attempt tries to repair every broken selector in the event against the
// current page markup. A mapper outage aborts the whole attempt; the
// caller escalates on that error just as it does on exhaustion. A page
// already escalated is refused outright: it stays parked until an
// operator resets its baseline.
func (e *Engine) Attempt(ctx context.Context, target config.Target, event *internal.StructureChangeEvent, baseline *internal.Baseline, currentHTML string) (*Result, error) {
	if baseline.State == internal.PageStateEscalated {
		return nil, utils.NewError(utils.ErrCodeEscalationRequired, "page is parked for manual reset").
			WithContext("url", target.URL).
			Build()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(currentHTML))
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeInternal, "parse current page").WithCause(err).Build()
	}

	validator := NewValidator(target)
	semantics := make(map[string]string, len(target.Selectors))
	for _, sc := range target.Selectors {
		semantics[sc.Selector] = sc.Semantics
	}

	result := &Result{
		Candidates: make(map[string][]internal.SelectorCandidate),
		Adopted:    make(map[string]internal.SelectorCandidate),
	}

	for _, broken := range event.BrokenSelectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		proposals, err := e.mapper.ProposeSelectors(ctx, MappingRequest{
			URL:            event.URL,
			BrokenSelector: broken,
			Semantics:      semantics[broken],
			Baseline:       baseline.Snapshot.ElementSignatures[broken],
			HTML:           currentHTML,
			MaxCandidates:  e.maxCandidates,
		})
		if err != nil {
			return nil, utils.WrapError(err, utils.ErrCodeMapperUnavailable, "propose selectors")
		}

		gated := GateCandidates(proposals, broken, e.maxCandidates)
		repaired := false
		for i := range gated {
			if err := validator.ValidateCandidate(doc, broken, gated[i].CandidateSelector); err != nil {
				gated[i].ValidationError = err.Error()
				continue
			}
			gated[i].Validated = true
			result.Adopted[broken] = gated[i]
			repaired = true
			break
		}
		result.Candidates[broken] = gated
		if !repaired {
			result.Exhausted = append(result.Exhausted, broken)
		}
	}

	logger.WithFields(map[string]interface{}{
		"url":       event.URL,
		"broken":    len(event.BrokenSelectors),
		"adopted":   len(result.Adopted),
		"exhausted": len(result.Exhausted),
	}).Info("recovery attempt finished")
	return result, nil
}

// GateCandidates is the trust boundary for mapper output. It drops
// anything that is empty, oversized, unparsable as a CSS selector, or a
// duplicate, clamps confidences into [0,1], and returns at most max
// candidates ordered by confidence.
func GateCandidates(proposals []internal.SelectorCandidate, originalSelector string, max int) []internal.SelectorCandidate {
	seen := make(map[string]bool, len(proposals))
	gated := make([]internal.SelectorCandidate, 0, len(proposals))

	for _, c := range proposals {
		selector := strings.TrimSpace(c.CandidateSelector)
		if selector == "" || len(selector) > maxSelectorLength || strings.ContainsAny(selector, "\n\r") {
			continue
		}
		if _, err := cascadia.ParseGroup(selector); err != nil {
			continue
		}
		if seen[selector] {
			continue
		}
		seen[selector] = true

		c.CandidateSelector = selector
		c.OriginalSelector = originalSelector
		c.Validated = false
		c.ValidationError = ""
		if c.Confidence < 0 {
			c.Confidence = 0
		}
		if c.Confidence > 1 {
			c.Confidence = 1
		}
		gated = append(gated, c)
	}

	sort.SliceStable(gated, func(i, j int) bool {
		return gated[i].Confidence > gated[j].Confidence
	})
	if max > 0 && len(gated) > max {
		gated = gated[:max]
	}
	return gated
}

// Mapping is one adopted selector replacement.
type Mapping struct {
	URL              string    `json:"url"`
	OriginalSelector string    `json:"original_selector"`
	CurrentSelector  string    `json:"current_selector"`
	Confidence       float64   `json:"confidence"`
	AdoptedAt        time.Time `json:"adopted_at"`
}

// Adopt installs the recovered snapshot as the new baseline and writes
// the selector mappings that repaired it, in one transaction: either the
// page advances to RECOVERED with its mappings recorded, or nothing
// changes. The baseline row is only touched while it still carries
// previousHash; losing that race surfaces as BASELINE_CONFLICT. Adoption
// refuses any candidate that never passed validation.
func (e *Engine) Adopt(ctx context.Context, snap *internal.StructureSnapshot, previousHash string, adopted map[string]internal.SelectorCandidate) error {
	for original, candidate := range adopted {
		if !candidate.Validated {
			return utils.NewError(utils.ErrCodeValidationFailure, "refusing to adopt unvalidated candidate").
				WithContext("url", snap.URL).
				WithContext("selector", original).
				Build()
		}
	}

	signatures, err := json.Marshal(snap.ElementSignatures)
	if err != nil {
		return utils.NewError(utils.ErrCodeInternal, "encode signatures").WithCause(err).Build()
	}
	now := e.clock.Now().UTC()

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE baselines
			SET structure_hash = ?, fetched_at = ?, accepted_at = ?, state = ?, signatures = ?, raw_size = ?
			WHERE url = ? AND structure_hash = ?`,
			snap.StructureHash, snap.FetchedAt.UTC(), now,
			string(internal.PageStateRecovered), string(signatures), snap.RawSize,
			snap.URL, previousHash)
		if err != nil {
			return utils.NewStorageError("adopt recovered baseline", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return utils.NewStorageError("adopt recovered baseline", err)
		}
		if affected == 0 {
			return utils.NewError(utils.ErrCodeBaselineConflict, "baseline changed since it was read").
				WithContext("url", snap.URL).
				Build()
		}

		for original, candidate := range adopted {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO selector_mappings (url, original_selector, current_selector, confidence, adopted_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(url, original_selector) DO UPDATE SET
					current_selector = excluded.current_selector,
					confidence = excluded.confidence,
					adopted_at = excluded.adopted_at`,
				snap.URL, original, candidate.CandidateSelector, candidate.Confidence, now); err != nil {
				return utils.NewStorageError("save selector mapping", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"url":      snap.URL,
		"mappings": len(adopted),
	}).Info("recovered baseline adopted")
	return nil
}

// SaveMappings persists the adopted replacements for a URL. Re-adoption
// of the same original selector overwrites the previous mapping.
func (e *Engine) SaveMappings(ctx context.Context, pageURL string, adopted map[string]internal.SelectorCandidate) error {
	if len(adopted) == 0 {
		return nil
	}
	adoptedAt := e.clock.Now().UTC()

	for original, candidate := range adopted {
		_, err := e.store.DB().ExecContext(ctx, `
			INSERT INTO selector_mappings (url, original_selector, current_selector, confidence, adopted_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(url, original_selector) DO UPDATE SET
				current_selector = excluded.current_selector,
				confidence = excluded.confidence,
				adopted_at = excluded.adopted_at`,
			pageURL, original, candidate.CandidateSelector, candidate.Confidence, adoptedAt)
		if err != nil {
			return utils.NewStorageError("save selector mapping", err)
		}
	}
	return nil
}

// ClearMappings removes every adopted mapping for a URL, returning its
// tracked selectors to the configured originals. Manual baseline reset
// calls this before re-snapshotting the page.
func (e *Engine) ClearMappings(ctx context.Context, pageURL string) error {
	if _, err := e.store.DB().ExecContext(ctx,
		`DELETE FROM selector_mappings WHERE url = ?`, pageURL); err != nil {
		return utils.NewStorageError("clear selector mappings", err)
	}
	return nil
}

// Mappings lists the adopted replacements for a URL, or for every URL
// when pageURL is empty.
func (e *Engine) Mappings(ctx context.Context, pageURL string) ([]Mapping, error) {
	query := `
		SELECT url, original_selector, current_selector, confidence, adopted_at
		FROM selector_mappings`
	var args []interface{}
	if pageURL != "" {
		query += " WHERE url = ?"
		args = append(args, pageURL)
	}
	query += " ORDER BY url, original_selector"

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewStorageError("query selector mappings", err)
	}
	defer rows.Close()

	var mappings []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.URL, &m.OriginalSelector, &m.CurrentSelector, &m.Confidence, &m.AdoptedAt); err != nil {
			return nil, utils.NewStorageError("scan selector mapping", err)
		}
		m.AdoptedAt = m.AdoptedAt.UTC()
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewStorageError("query selector mappings", err)
	}
	return mappings, nil
}
