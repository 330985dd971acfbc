// Package searchindex implements the search index (C5): term visibility
// classification, automatic token extraction, the two-layer public/private
// store, the indexing-protection claim map, and the capability-gated
// search-strategy router.
package searchindex

import (
	"regexp"
	"strings"

	"github.com/coreledger/privledger/pkg/ledger"
)

// MinTermLength is the unconditional minimum length for a manually supplied
// or extracted search term; shorter tokens are accepted only when they match
// one of the universal patterns below.
const MinTermLength = 4

// universalPatterns are applied, in addition to manual terms, always to the
// public layer unless a caller marks a matching term private.
var universalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(19|20)\d{2}\b`),                  // year 1900-2099
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),              // ISO date
	regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`),       // email
	regexp.MustCompile(`\bhttps?://[^\s]+\b`),                // URL
	regexp.MustCompile(`\b[A-Z]{3}\b`),                       // currency code
	regexp.MustCompile(`\b[\w-]+\.[A-Za-z]{2,4}\b`),          // filename extension
	regexp.MustCompile(`\b[A-Z]{3,5}\b`),                     // acronym
	regexp.MustCompile(`\b[A-Z]+-?[0-9A-Z-]+\b`),             // code, e.g. PO-12345
	regexp.MustCompile(`\b\d{3,}(\.\d+)?\b`),                 // decimal number >= 3 digits
}

// ExtractAutomaticTerms scans text and returns every token matched by a
// universal pattern, lowercased and deduplicated, in first-seen order.
func ExtractAutomaticTerms(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, re := range universalPatterns {
		for _, match := range re.FindAllString(text, -1) {
			norm := strings.ToLower(match)
			if seen[norm] {
				continue
			}
			seen[norm] = true
			out = append(out, norm)
		}
	}
	return out
}

// IsValidSearchTerm reports whether term may be used to query the index:
// length >= MinTermLength unconditionally, or any length if it matches a
// universal pattern. An empty or whitespace-only term is never valid as a
// query term (callers should treat that as "empty result set", not an
// error — see Store.Search).
func IsValidSearchTerm(term string) bool {
	trimmed := strings.TrimSpace(term)
	if trimmed == "" {
		return false
	}
	if len([]rune(trimmed)) >= MinTermLength {
		return true
	}
	for _, re := range universalPatterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// ClassifyTerms splits manualTerms plus the automatically extracted tokens
// of data into public and private sets according to vis, normalizing every
// term to lowercase. Automatic tokens default to public regardless of vis's
// overall default, since only a manual override can move an extracted token
// to the private layer.
func ClassifyTerms(data string, manualTerms []string, vis ledger.TermVisibilityMap) (public []string, private []string) {
	publicSet := make(map[string]bool)
	privateSet := make(map[string]bool)

	addManual := func(term string) {
		norm := strings.ToLower(strings.TrimSpace(term))
		if norm == "" {
			return
		}
		if vis.VisibilityOf(norm) == ledger.VisibilityPrivate {
			privateSet[norm] = true
		} else {
			publicSet[norm] = true
		}
	}
	for _, t := range manualTerms {
		addManual(t)
	}

	for _, t := range ExtractAutomaticTerms(data) {
		if privateSet[t] || publicSet[t] {
			continue
		}
		if override, ok := vis.Overrides[t]; ok && override == ledger.VisibilityPrivate {
			privateSet[t] = true
			continue
		}
		publicSet[t] = true
	}

	public = setToSortedSlice(publicSet)
	private = setToSortedSlice(privateSet)
	return public, private
}

func setToSortedSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	// Deterministic ordering keeps serialized term lists reproducible across
	// runs, which matters for export/import round-tripping (spec §6).
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
