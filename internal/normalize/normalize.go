// Package normalize provides the name-normalization rule shared by the
// Reference Store's roster cross-check and anywhere else a Person
// directory name needs to be compared loosely against a display name.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var diacriticFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
var fold = cases.Fold() // locale-independent Unicode case folding, not just ASCII lowercasing

// RemoveDiacritics strips diacritical marks from a string (e.g. "José" ->
// "Jose").
func RemoveDiacritics(s string) string {
	result, _, _ := transform.String(diacriticFold, s)
	return result
}

// separatorRune reports whether r stands in for a word boundary in a
// folder or display name: dashes, underscores and dots all show up in
// real-world roster exports where a space would have gone instead.
func separatorRune(r rune) bool {
	return r == '-' || r == '_' || r == '.'
}

// PersonName normalizes a Person directory or roster display name so the
// two can be compared loosely: diacritics stripped, Unicode case-folded,
// dash/underscore/dot separators collapsed to single spaces, and
// leading/trailing/repeated whitespace trimmed.
func PersonName(name string) string {
	name = RemoveDiacritics(name)
	name = fold.String(name)
	name = strings.Map(func(r rune) rune {
		if separatorRune(r) {
			return ' '
		}
		return r
	}, name)
	return strings.Join(strings.Fields(name), " ")
}
