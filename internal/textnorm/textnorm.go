// Package textnorm folds device names, brands and model numbers into
// comparable keys and tokens.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"for": true, "with": true, "in": true, "on": true, "my": true, "old": true,
	"this": true, "is": true, "it": true, "some": true, "kind": true, "sort": true,
	"device": true, "thing": true, "unit": true,
}

// Fold case-folds s and strips diacritics.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(strings.TrimSpace(out))
}

// Key reduces s to lowercase alphanumerics so "WRT-54G" and "wrt54g" collide.
func Key(s string) string {
	return nonAlnum.ReplaceAllString(Fold(s), "")
}

// Tokens splits s into folded, de-duplicated tokens with stop words removed.
func Tokens(s string) []string {
	fields := strings.Fields(nonAlnum.ReplaceAllString(Fold(s), " "))
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
