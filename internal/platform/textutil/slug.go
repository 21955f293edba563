package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var lower = cases.Lower(language.Und)

// Slugify lowercases s, strips diacritics and joins letter/digit runs with single hyphens.
// Non-Latin letters are kept so Arabic category names still produce a usable slug.
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = lower.String(folded)

	var b strings.Builder
	b.Grow(len(folded))
	pendingHyphen := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// FoldKey lowercases s, turns hyphens and underscores into spaces and collapses whitespace. It is the lookup
// key for alias tables and case-insensitive search.
func FoldKey(s string) string {
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return CollapseSpace(lower.String(s))
}
