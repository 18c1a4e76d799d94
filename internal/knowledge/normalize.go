package knowledge

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s, folds accents, replaces punctuation with spaces and
// collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var stopwords = map[string]struct{}{
	"a": {}, "o": {}, "as": {}, "os": {}, "um": {}, "uma": {}, "de": {}, "da": {}, "do": {},
	"das": {}, "dos": {}, "e": {}, "em": {}, "no": {}, "na": {}, "para": {}, "por": {},
	"com": {}, "que": {}, "eu": {}, "me": {}, "meu": {}, "minha": {}, "se": {}, "the": {},
	"an": {}, "and": {}, "of": {}, "to": {}, "in": {}, "is": {}, "my": {}, "i": {}, "it": {},
	"how": {}, "for": {}, "on": {},
}

// Tokens returns the normalized, stopword-free tokens of s.
func Tokens(s string) []string {
	fields := strings.Fields(Normalize(s))
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
