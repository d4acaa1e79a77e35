// internal/structure/fingerprint.go

// Package structure captures page-structure snapshots, compares them
// against accepted baselines, and classifies how severe a drift is.
package structure

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/ScrapeSentry/internal"
)

const sampleTextLimit = 80

// BuildSnapshot parses the page once and derives the structural hash plus
// one signature per tracked selector.
//
// The hash covers element tags and sorted attribute names only. Attribute
// values, text content, and whitespace are excluded, so rotating session
// ids, CSRF tokens, or refreshed copy do not change the fingerprint while
// layout edits do.
func BuildSnapshot(pageURL, htmlContent string, fetchedAt time.Time, trackedSelectors []string) (*internal.StructureSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	signatures := make(map[string]internal.ElementSignature, len(trackedSelectors))
	for _, selector := range trackedSelectors {
		signatures[selector] = signatureFor(doc, selector)
	}

	return &internal.StructureSnapshot{
		URL:               pageURL,
		FetchedAt:         fetchedAt.UTC(),
		StructureHash:     documentHash(doc),
		ElementSignatures: signatures,
		RawSize:           len(htmlContent),
	}, nil
}

// documentHash folds the whole element tree into one hex digest.
func documentHash(doc *goquery.Document) string {
	h := sha256.New()
	doc.Children().Each(func(_ int, s *goquery.Selection) {
		writeSubtree(h, s, 0)
	})
	return hex.EncodeToString(h.Sum(nil))
}

// signatureFor summarizes every match of one selector: how many there
// are, what the first one says, and a hash of the matched subtrees so a
// reshuffle inside the selection is visible even when counts hold.
func signatureFor(doc *goquery.Document, selector string) internal.ElementSignature {
	matches := doc.Find(selector)

	sig := internal.ElementSignature{Count: matches.Length()}
	if sig.Count == 0 {
		return sig
	}

	sig.SampleText = truncate(collapseWhitespace(matches.First().Text()), sampleTextLimit)

	h := sha256.New()
	matches.Each(func(_ int, s *goquery.Selection) {
		writeSubtree(h, s, 0)
	})
	sig.PathHash = hex.EncodeToString(h.Sum(nil))

	return sig
}

// writeSubtree streams one element and its descendants into the hash in
// document order. Depth is part of the record so flattening a wrapper
// produces a different digest than removing it.
func writeSubtree(h hash.Hash, s *goquery.Selection, depth int) {
	fmt.Fprintf(h, "%d:%s:%s\n", depth, goquery.NodeName(s), strings.Join(attributeNames(s), ","))
	s.Children().Each(func(_ int, child *goquery.Selection) {
		writeSubtree(h, child, depth+1)
	})
}

// attributeNames returns the sorted attribute names of the selection's
// first node. Values never enter the fingerprint.
func attributeNames(s *goquery.Selection) []string {
	if len(s.Nodes) == 0 {
		return nil
	}
	node := s.Get(0)
	names := make([]string, 0, len(node.Attr))
	for _, attr := range node.Attr {
		names = append(names, strings.ToLower(attr.Key))
	}
	sort.Strings(names)
	return names
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
