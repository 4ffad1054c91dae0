package sync

import "strings"

// leetSubstitutions is the deliberate, stable digit-to-letter table used for
// fuzzy title matching. Changing it invalidates persisted lookups that rely
// on previously matched titles.
var leetSubstitutions = map[rune]rune{
	'1': 'i',
	'0': 'o',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'8': 'b',
}

// NormalizeTitle lowercases, applies the leetspeak substitution table, and
// strips everything that is not a letter or digit. Idempotent:
// NormalizeTitle(NormalizeTitle(t)) == NormalizeTitle(t).
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if sub, ok := leetSubstitutions[r]; ok {
			r = sub
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TitlesMatch reports whether two titles are equal under normalization.
// Empty normalizations never match anything.
func TitlesMatch(a, b string) bool {
	na := NormalizeTitle(a)
	return na != "" && na == NormalizeTitle(b)
}
