// internal/analyzer/signature.go

package analyzer

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Volatile token patterns, applied in order. Timestamps must run before
// the bare date/clock patterns so partial replacements cannot leave
// fragments behind. The trailing digit-run pattern starts at four
// digits, so three-digit HTTP status codes survive; rate-limit
// classification needs them.
var volatilePatterns = []*regexp.Regexp{
	// ISO-ish timestamps with optional fraction and zone; input is already
	// lowercased, so the T and Z separators need the case-insensitive flag
	regexp.MustCompile(`(?i)\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`),
	// bare dates and clock times
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`\d{2}:\d{2}:\d{2}(?:\.\d+)?`),
	// UUIDs
	regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`),
	// long hex identifiers (request ids, hashes)
	regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`),
	// labeled offsets and positions
	regexp.MustCompile(`(?i)\b(?:at|offset|position|byte|line|column|col|row)[ =:]+\d+\b`),
	// IP addresses with optional port
	regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?::\d+)?\b`),
	// remaining long digit runs (ids, epochs, sizes)
	regexp.MustCompile(`\d{4,}`),
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeSignature reduces an error to a stable signature: Unicode
// compatibility folding, lowercasing, volatile tokens (timestamps, ids,
// offsets, addresses) replaced with '#', and whitespace collapsed. Two
// failures with the same signature are treated as the same underlying
// problem.
func NormalizeSignature(errorType, message string) string {
	s := norm.NFKC.String(message)
	s = strings.ToLower(s)
	for _, re := range volatilePatterns {
		s = re.ReplaceAllString(s, "#")
	}
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if errorType != "" {
		prefix := strings.ToLower(strings.TrimSpace(norm.NFKC.String(errorType)))
		if s == "" {
			return prefix
		}
		return prefix + ": " + s
	}
	return s
}

// Throttling markers checked against normalized signatures.
var rateLimitMarkers = []string{
	"429",
	"403",
	"too many requests",
	"rate limit",
	"ratelimit",
	"throttl",
}

// isRateLimitSignature reports whether a signature carries throttling
// markers (HTTP 429/403, "too many requests" and friends).
func isRateLimitSignature(signature string) bool {
	for _, marker := range rateLimitMarkers {
		if strings.Contains(signature, marker) {
			return true
		}
	}
	return false
}
