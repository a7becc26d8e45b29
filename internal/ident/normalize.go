package ident

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName canonicalizes a user-entered name for identity keys.
//
// Steps, in order:
//  1. trim surrounding whitespace
//  2. decompose (NFD) and drop combining marks, so "Café" == "Cafe"
//  3. Unicode case fold
//  4. collapse internal whitespace runs to a single space
//  5. recompose (NFC)
//
// The result is stable across platforms and locales. Empty or all-space
// input yields "".
func NormalizeName(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)
	folded, _, err := transform.String(t, trimmed)
	if err != nil {
		// transform only fails on invalid state; fall back to a plain fold
		folded = strings.ToLower(trimmed)
	}

	return strings.Join(strings.Fields(folded), " ")
}

// SameName reports whether two names normalize to the same key.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}
