package searchindex

import (
	"reflect"
	"testing"

	"github.com/coreledger/privledger/pkg/ledger"
)

func TestIsValidSearchTerm(t *testing.T) {
	cases := []struct {
		name string
		term string
		want bool
	}{
		{"empty", "", false},
		{"whitespace", "   ", false},
		{"too short, not universal", "abc", false},
		{"exactly min length", "abcd", true},
		{"year", "1999", true},
		{"currency code", "USD", true},
		{"acronym", "NASA", true},
		{"short code", "PO-1", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsValidSearchTerm(c.term); got != c.want {
				t.Errorf("IsValidSearchTerm(%q) = %v, want %v", c.term, got, c.want)
			}
		})
	}
}

func TestExtractAutomaticTerms(t *testing.T) {
	text := "Invoice PO-88421 dated 2024-03-01 for 1500.00 USD, contact ops@example.com, see https://example.com/doc"
	terms := ExtractAutomaticTerms(text)

	want := map[string]bool{
		"2024-03-01":        true,
		"usd":                true,
		"ops@example.com":    true,
		"https://example.com/doc": true,
	}
	got := make(map[string]bool, len(terms))
	for _, term := range terms {
		got[term] = true
	}
	for term := range want {
		if !got[term] {
			t.Errorf("expected extracted term %q, got %v", term, terms)
		}
	}
}

func TestExtractAutomaticTerms_empty(t *testing.T) {
	if got := ExtractAutomaticTerms(""); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}

func TestClassifyTerms_manualOverridesAndDefault(t *testing.T) {
	vis := ledger.TermVisibilityMap{
		Default:   ledger.VisibilityPublic,
		Overrides: map[string]ledger.TermVisibility{"secret": ledger.VisibilityPrivate},
	}
	public, private := ClassifyTerms("year 2024 report", []string{"secret", "Report"}, vis)

	if !contains(private, "secret") {
		t.Errorf("expected %q in private set, got %v", "secret", private)
	}
	if !contains(public, "report") {
		t.Errorf("expected %q in public set, got %v", "report", public)
	}
	if !contains(public, "2024") {
		t.Errorf("expected automatically extracted year in public set, got %v", public)
	}
}

func TestClassifyTerms_deterministicOrdering(t *testing.T) {
	vis := ledger.TermVisibilityMap{Default: ledger.VisibilityPublic}
	p1, _ := ClassifyTerms("", []string{"zeta", "alpha", "mid"}, vis)
	p2, _ := ClassifyTerms("", []string{"mid", "zeta", "alpha"}, vis)
	if !reflect.DeepEqual(p1, p2) {
		t.Errorf("expected classification order to be independent of input order: %v vs %v", p1, p2)
	}
	if len(p1) != 3 || p1[0] != "alpha" || p1[2] != "zeta" {
		t.Errorf("expected sorted output, got %v", p1)
	}
}

func contains(set []string, term string) bool {
	for _, s := range set {
		if s == term {
			return true
		}
	}
	return false
}
