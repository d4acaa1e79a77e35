// internal/recovery/heuristic.go

package recovery

import (
	"context"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/utils"
)

// similarPrefixLen is the shared-prefix length from which two class
// names count as related (nav-value / nav-val2, price / price-usd).
const similarPrefixLen = 4

// HeuristicMapper proposes replacement selectors without calling out
// anywhere. It anchors on two signals: elements whose text matches the
// baseline's sample, and class names that resemble the broken one.
type HeuristicMapper struct {
	logger utils.Logger
}

// NewHeuristicMapper creates the offline mapper.
func NewHeuristicMapper() *HeuristicMapper {
	return &HeuristicMapper{logger: utils.NewComponentLogger("heuristic-mapper")}
}

// ProposeSelectors implements SemanticMapper.
func (m *HeuristicMapper) ProposeSelectors(ctx context.Context, req MappingRequest) ([]internal.SelectorCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(req.HTML))
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeMapperUnavailable, "parse page").WithCause(err).Build()
	}

	best := make(map[string]internal.SelectorCandidate)
	propose := func(selector string, confidence float64, explanation string) {
		if selector == "" || selector == req.BrokenSelector {
			return
		}
		if existing, ok := best[selector]; ok && existing.Confidence >= confidence {
			return
		}
		best[selector] = internal.SelectorCandidate{
			OriginalSelector:  req.BrokenSelector,
			CandidateSelector: selector,
			Confidence:        confidence,
			Explanation:       explanation,
		}
	}

	sample := strings.Join(strings.Fields(req.Baseline.SampleText), " ")
	brokenToken := classToken(req.BrokenSelector)

	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		if sample != "" {
			text := strings.Join(strings.Fields(s.Text()), " ")
			leaf := s.Children().Length() == 0
			switch {
			case text == sample && leaf:
				propose(selectorFor(s), 0.9, "element text matches the baseline sample")
			case text == sample:
				// a wrapper around the matching element; useful but looser
				propose(selectorFor(s), 0.75, "element text matches the baseline sample")
			case leaf && strings.Contains(text, sample):
				propose(selectorFor(s), 0.65, "element text contains the baseline sample")
			}
		}

		if brokenToken == "" {
			return
		}
		for _, class := range classList(s) {
			if class == brokenToken {
				continue
			}
			switch {
			case strings.Contains(class, brokenToken) || strings.Contains(brokenToken, class):
				propose("."+class, 0.6, "class name contains the broken selector's class")
			case commonPrefix(class, brokenToken) >= similarPrefixLen:
				propose("."+class, 0.5, "class name shares a prefix with the broken selector's class")
			}
		}
	})

	candidates := make([]internal.SelectorCandidate, 0, len(best))
	for _, c := range best {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].CandidateSelector < candidates[j].CandidateSelector
	})
	if req.MaxCandidates > 0 && len(candidates) > req.MaxCandidates {
		candidates = candidates[:req.MaxCandidates]
	}

	m.logger.WithFields(map[string]interface{}{
		"selector":   req.BrokenSelector,
		"candidates": len(candidates),
	}).Debug("heuristic proposals ready")
	return candidates, nil
}

// selectorFor derives a usable selector for an element: its id when it
// has one, otherwise tag plus classes, qualified by the parent when the
// element itself is anonymous.
func selectorFor(s *goquery.Selection) string {
	if id, ok := s.Attr("id"); ok && id != "" {
		return "#" + id
	}

	tag := goquery.NodeName(s)
	classes := classList(s)
	if len(classes) > 0 {
		return tag + "." + strings.Join(classes, ".")
	}

	parent := s.Parent()
	if parent.Length() > 0 {
		if id, ok := parent.Attr("id"); ok && id != "" {
			return "#" + id + " > " + tag
		}
		if pc := classList(parent); len(pc) > 0 {
			return "." + pc[0] + " > " + tag
		}
	}
	return ""
}

func classList(s *goquery.Selection) []string {
	raw, ok := s.Attr("class")
	if !ok {
		return nil
	}
	return strings.Fields(raw)
}

// classToken extracts the class name a simple selector hinges on
// (".nav-value" or "span.nav-value" yield "nav-value").
func classToken(selector string) string {
	idx := strings.LastIndex(selector, ".")
	if idx < 0 {
		return ""
	}
	token := selector[idx+1:]
	if strings.ContainsAny(token, " >+~:[") {
		return ""
	}
	return token
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
