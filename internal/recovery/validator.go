// internal/recovery/validator.go

// Package recovery proposes replacement selectors for pages whose
// tracked selectors stopped matching, validates the proposals against
// the live page, and records the ones that get adopted.
package recovery

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/utils"
)

// checkedMatches caps how many repeated matches get content-validated.
const checkedMatches = 25

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

type fieldRule struct {
	cfg     config.SelectorConfig
	pattern *regexp.Regexp
}

// Validator checks candidate selectors against the cardinality and
// content rules configured for the selector they would replace.
type Validator struct {
	rules map[string]fieldRule
}

// NewValidator builds a Validator from the target's selector rules.
// Patterns were already compiled once by config validation; a rule that
// fails to compile here is simply dropped.
func NewValidator(target config.Target) *Validator {
	rules := make(map[string]fieldRule, len(target.Selectors))
	for _, sc := range target.Selectors {
		rule := fieldRule{cfg: sc}
		if p := sc.Validation.Pattern; p != "" {
			compiled, err := regexp.Compile(p)
			if err != nil {
				continue
			}
			rule.pattern = compiled
		}
		rules[sc.Selector] = rule
	}
	return &Validator{rules: rules}
}

// ValidateCandidate decides whether candidateSelector could stand in for
// originalSelector on the given document. Cardinality comes first: a
// singular selector must match exactly one element, a repeated one at
// least one. Content checks then run against the matched text.
func (v *Validator) ValidateCandidate(doc *goquery.Document, originalSelector, candidateSelector string) error {
	rule, ok := v.rules[originalSelector]
	if !ok {
		return utils.NewError(utils.ErrCodeInternal, "no rule for selector").
			WithContext("selector", originalSelector).
			Build()
	}

	matches := doc.Find(candidateSelector)
	count := matches.Length()

	if rule.cfg.Repeated {
		if count < 1 {
			return validationFailure(candidateSelector, "matches nothing")
		}
	} else if count != 1 {
		return validationFailure(candidateSelector, fmt.Sprintf("matches %d elements, want exactly 1", count))
	}

	var contentErr error
	matches.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= checkedMatches {
			return false
		}
		if err := rule.checkContent(s.Text()); err != nil {
			contentErr = err
			return false
		}
		return true
	})
	if contentErr != nil {
		return validationFailure(candidateSelector, contentErr.Error())
	}
	return nil
}

// checkContent applies the configured content rule to one extracted value.
func (r fieldRule) checkContent(raw string) error {
	text := strings.Join(strings.Fields(raw), " ")
	rule := r.cfg.Validation

	if rule.NonEmpty && text == "" {
		return fmt.Errorf("extracted value is empty")
	}
	if r.pattern != nil && !r.pattern.MatchString(text) {
		return fmt.Errorf("value %q does not match pattern %q", text, rule.Pattern)
	}
	if rule.Type == "number" {
		value, err := parseNumber(text)
		if err != nil {
			return fmt.Errorf("value %q is not numeric", text)
		}
		if rule.Min != nil && value < *rule.Min {
			return fmt.Errorf("value %g below minimum %g", value, *rule.Min)
		}
		if rule.Max != nil && value > *rule.Max {
			return fmt.Errorf("value %g above maximum %g", value, *rule.Max)
		}
	}
	return nil
}

// parseNumber extracts a float from text that may carry currency symbols,
// thousands separators, or percent signs.
func parseNumber(text string) (float64, error) {
	cleaned := nonNumeric.ReplaceAllString(text, "")
	if cleaned == "" {
		return 0, fmt.Errorf("no digits in %q", text)
	}
	return strconv.ParseFloat(cleaned, 64)
}

func validationFailure(selector, reason string) error {
	return utils.NewError(utils.ErrCodeValidationFailure, reason).
		WithContext("candidate", selector).
		Build()
}
