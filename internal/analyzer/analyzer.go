// internal/analyzer/analyzer.go

// Package analyzer derives classified failure patterns from a window of
// execution records.
package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/utils"
)

// Analyzer groups failing executions by normalized error signature and
// classifies each group. Every analysis pass starts from scratch on the
// records it is handed; patterns are never carried over or mutated.
type Analyzer struct {
	cfg     config.AnalyzerConfig
	targets map[string]string
	clock   utils.Clock
	logger  utils.Logger
}

// New creates an Analyzer. targets maps scraper names to the URL each
// scraper depends on, used to correlate failures with open structure
// changes; it may be nil when no pages are tracked.
func New(cfg config.AnalyzerConfig, targets map[string]string) *Analyzer {
	return &Analyzer{
		cfg:     cfg,
		targets: targets,
		clock:   utils.SystemClock(),
		logger:  utils.NewComponentLogger("analyzer"),
	}
}

// WithClock substitutes the clock, for deterministic tests.
func (a *Analyzer) WithClock(clock utils.Clock) *Analyzer {
	a.clock = clock
	return a
}

type group struct {
	scraperName string
	signature   string
	occurrences int
	weight      float64
	firstSeen   time.Time
	lastSeen    time.Time
}

// Analyze derives failure patterns from the given records. openChanges
// are structure-change events still awaiting recovery or escalation;
// failures of a scraper whose tracked URL has an open change in-window
// classify as STRUCTURAL_CHANGE.
//
// Results are ordered by confidence descending, then occurrences
// descending, then earliest first seen.
func (a *Analyzer) Analyze(ctx context.Context, records []internal.ExecutionRecord, openChanges []internal.StructureChangeEvent) ([]internal.FailurePattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := a.clock.Now()
	cutoff := now.Add(-a.cfg.Lookback())
	halfLife := a.cfg.HalfLife()

	groups := make(map[string]*group)
	for _, rec := range records {
		if rec.Success {
			continue
		}
		if rec.StartedAt.Before(cutoff) {
			continue
		}

		sig := NormalizeSignature(rec.ErrorType, rec.ErrorMessage)
		key := rec.ScraperName + "\x00" + sig
		g, ok := groups[key]
		if !ok {
			g = &group{
				scraperName: rec.ScraperName,
				signature:   sig,
				firstSeen:   rec.StartedAt,
				lastSeen:    rec.StartedAt,
			}
			groups[key] = g
		}

		g.occurrences++
		g.weight += decayWeight(now.Sub(rec.StartedAt), halfLife)
		if rec.StartedAt.Before(g.firstSeen) {
			g.firstSeen = rec.StartedAt
		}
		if rec.StartedAt.After(g.lastSeen) {
			g.lastSeen = rec.StartedAt
		}
	}

	changedURLs := openChangeURLs(openChanges, cutoff)

	patterns := make([]internal.FailurePattern, 0, len(groups))
	for _, g := range groups {
		if g.occurrences < a.cfg.MinOccurrences {
			continue
		}

		confidence := g.weight / a.cfg.ExpectedThreshold
		if confidence > 1.0 {
			confidence = 1.0
		}

		pt := a.classify(g, changedURLs)
		patterns = append(patterns, internal.FailurePattern{
			ID:           patternID(g.scraperName, g.signature),
			PatternType:  pt,
			ScraperName:  g.scraperName,
			Signature:    g.signature,
			Occurrences:  g.occurrences,
			Confidence:   confidence,
			FirstSeen:    g.firstSeen,
			LastSeen:     g.lastSeen,
			SuggestedFix: suggestedFix(pt, g.scraperName, g.signature, g.occurrences),
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Confidence != patterns[j].Confidence {
			return patterns[i].Confidence > patterns[j].Confidence
		}
		if patterns[i].Occurrences != patterns[j].Occurrences {
			return patterns[i].Occurrences > patterns[j].Occurrences
		}
		return patterns[i].FirstSeen.Before(patterns[j].FirstSeen)
	})

	a.logger.Debugf("analysis pass over %d records produced %d patterns", len(records), len(patterns))
	return patterns, nil
}

// classify applies the priority order: structural change first (it is the
// most actionable), then rate limiting, then recurring error.
func (a *Analyzer) classify(g *group, changedURLs map[string]bool) internal.PatternType {
	if url, ok := a.targets[g.scraperName]; ok && changedURLs[url] {
		return internal.PatternStructuralChange
	}
	if isRateLimitSignature(g.signature) {
		return internal.PatternRateLimiting
	}
	return internal.PatternRecurringError
}

// decayWeight halves an occurrence's contribution for every half-life of
// age, so stale failures cannot keep a pattern's confidence inflated.
func decayWeight(age, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1.0
	}
	if age < 0 {
		age = 0
	}
	return math.Pow(0.5, age.Hours()/halfLife.Hours())
}

func openChangeURLs(events []internal.StructureChangeEvent, cutoff time.Time) map[string]bool {
	urls := make(map[string]bool, len(events))
	for _, ev := range events {
		if ev.DetectedAt.Before(cutoff) {
			continue
		}
		urls[ev.URL] = true
	}
	return urls
}

func patternID(scraperName, signature string) string {
	sum := sha256.Sum256([]byte(scraperName + "\x00" + signature))
	return hex.EncodeToString(sum[:])[:16]
}

func suggestedFix(pt internal.PatternType, scraperName, signature string, occurrences int) string {
	switch pt {
	case internal.PatternStructuralChange:
		return fmt.Sprintf(
			"Target page for %s changed structure. Review the open change event; re-baseline after the selectors are repaired.",
			scraperName)
	case internal.PatternRateLimiting:
		return fmt.Sprintf(
			"%s is being throttled. Lower its request rate, add delay between runs, or rotate user agents.",
			scraperName)
	case internal.PatternRecurringError:
		return fmt.Sprintf(
			"%s failed %d times with %q. Check target availability and the scraper's selectors.",
			scraperName, occurrences, signature)
	default:
		return ""
	}
}
