package app

import (
	"strings"

	"pinintel/internal/domain"
)

// Synthesize derives the card title and description from the resolved place,
// optionally enriched by scraped website metadata. Pure function: no adapter
// calls, no side effects.
//
// Title precedence: specific name > category+locality > locality alone >
// coordinate string. The raw formatted address is never used as the
// description; it is noise, not prose.
func Synthesize(p domain.Place, qc QueryContext, meta *domain.PageMeta) (title, description string) {
	title = synthesizeTitle(p, qc)
	description = synthesizeDescription(p, qc, meta, title)
	return title, description
}

func synthesizeTitle(p domain.Place, qc QueryContext) string {
	if qc.Name != "" && !qc.GenericName && !qc.LooksLikeAddress {
		return qc.Name
	}
	if qc.CategoryLeaf != "" && qc.Locality != "" {
		return titleCase(qc.CategoryLeaf) + " in " + qc.Locality
	}
	if qc.Locality != "" {
		return qc.Locality
	}
	return p.Coordinates.String()
}

func synthesizeDescription(p domain.Place, qc QueryContext, meta *domain.PageMeta, title string) string {
	// Scraped copy wins when it exists and does not contradict the place.
	if meta != nil {
		for _, cand := range []string{meta.OGDescription, meta.Description} {
			cand = strings.TrimSpace(cand)
			if cand != "" && !contradicts(cand, meta, title) {
				return cand
			}
		}
	}

	var b strings.Builder
	b.WriteString(title)
	if qc.CategoryLeaf != "" && !strings.EqualFold(title, titleCase(qc.CategoryLeaf)) &&
		!strings.HasPrefix(title, titleCase(qc.CategoryLeaf)+" in ") {
		b.WriteString(" is a ")
		b.WriteString(qc.CategoryLeaf)
	}
	where := joinNonEmpty(", ", qc.Locality, p.Region, p.Country)
	if where != "" && !strings.Contains(title, qc.Locality) {
		b.WriteString(" in ")
		b.WriteString(where)
	} else if where != "" && qc.Locality == "" {
		b.WriteString(" in ")
		b.WriteString(where)
	}
	b.WriteString(".")
	return b.String()
}

// contradicts rejects scraped copy that clearly belongs to a different
// subject: neither the page title nor the copy mentions the place at all.
func contradicts(copyText string, meta *domain.PageMeta, title string) bool {
	tok := PrimaryNameToken(title)
	if tok == "" {
		return false
	}
	hay := strings.ToLower(copyText + " " + meta.Title + " " + meta.OGTitle)
	return !strings.Contains(hay, tok)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func joinNonEmpty(sep string, parts ...string) string {
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, sep)
}
