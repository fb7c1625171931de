package app

import (
	"strings"
	"unicode"

	"pinintel/internal/domain"
)

// QueryContext normalizes everything downstream consumers need to build
// search queries and titles. Computed once per resolution so the generic /
// address / short-brand heuristics live here instead of being re-derived at
// every call site.
type QueryContext struct {
	Name         string
	Locality     string
	CategoryLeaf string
	Hint         string

	GenericHint      bool
	GenericName      bool
	LooksLikeAddress bool // name contains a digit plus a street-type token
	RiskyShortBrand  bool // ≤4 chars, all uppercase
}

func BuildQueryContext(p domain.Place, hint string) QueryContext {
	qc := QueryContext{
		Name:         strings.TrimSpace(p.Name),
		Locality:     strings.TrimSpace(p.Locality),
		CategoryLeaf: categoryLeaf(p.Category),
		Hint:         strings.TrimSpace(hint),
	}
	qc.GenericHint = IsGenericText(qc.Hint)
	qc.GenericName = IsGenericText(qc.Name)
	qc.LooksLikeAddress = LooksLikeAddress(qc.Name)
	qc.RiskyShortBrand = IsRiskyShortBrand(qc.Name)
	return qc
}

// categoryLeaf returns the last segment of a hierarchical category, e.g.
// "catering.restaurant" -> "restaurant".
func categoryLeaf(category string) string {
	if category == "" {
		return ""
	}
	parts := strings.Split(category, ".")
	leaf := parts[len(parts)-1]
	return strings.ReplaceAll(leaf, "_", " ")
}

var genericSentinels = map[string]bool{
	"location":        true,
	"unknown place":   true,
	"pinned location": true,
	"nature spot":     true,
}

// IsGenericText reports whether free text is too vague to use as a search
// term: empty, a known sentinel, or a "place near X" style pattern.
func IsGenericText(s string) bool {
	low := strings.ToLower(strings.TrimSpace(s))
	if low == "" {
		return true
	}
	if genericSentinels[low] {
		return true
	}
	if strings.HasPrefix(low, "place near ") || strings.HasPrefix(low, "place in ") {
		return true
	}
	// "<category> near <locality>"
	if i := strings.Index(low, " near "); i > 0 && i+6 < len(low) {
		return true
	}
	return false
}

var streetTokens = []string{
	"street", "road", "avenue", "ave", "lane", "boulevard", "blvd",
	"drive", "dr.", "court", "highway", "hwy", "route", "rue", "calle",
}

// LooksLikeAddress reports whether a name reads as a raw street address:
// it must contain a digit and a street-type token.
func LooksLikeAddress(s string) bool {
	low := strings.ToLower(s)
	hasDigit := strings.IndexFunc(low, unicode.IsDigit) >= 0
	if !hasDigit {
		return false
	}
	for _, tok := range streetTokens {
		if containsToken(low, tok) {
			return true
		}
	}
	return false
}

func containsToken(low, tok string) bool {
	idx := 0
	for {
		i := strings.Index(low[idx:], tok)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordChar(rune(low[i-1]))
		end := i + len(tok)
		after := end >= len(low) || !isWordChar(rune(low[end]))
		if before && after {
			return true
		}
		idx = i + len(tok)
	}
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// IsRiskyShortBrand guards against ultra-common short acronyms pulling
// wrong-branch stock photography.
func IsRiskyShortBrand(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 4 {
		return false
	}
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

// PrimaryNameToken returns the first word of a name longer than 3 runes,
// lowercased; used for official-website title validation.
func PrimaryNameToken(name string) string {
	for _, w := range strings.Fields(strings.ToLower(name)) {
		w = strings.Trim(w, ".,'\"()-")
		if len([]rune(w)) > 3 {
			return w
		}
	}
	fields := strings.Fields(strings.ToLower(name))
	if len(fields) > 0 {
		return strings.Trim(fields[0], ".,'\"()-")
	}
	return ""
}
