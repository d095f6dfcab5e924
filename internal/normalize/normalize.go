// Package normalize canonicalizes jurisdiction and school names so that
// naming differences between the roster and the live submission source do
// not fragment groups. Normalized names are used only for matching; display
// names always come from the roster when available, else the live source.
package normalize

import (
	"regexp"
	"strings"
)

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// prefixes and suffixes are the administrative decorations the two sources
// disagree on: "Division of Rizal" vs "Rizal Division" vs "Rizal".
var (
	prefixes = []string{"division of ", "district of "}
	suffixes = []string{" division", " district"}
)

// Name canonicalizes a jurisdiction or school name for matching:
//  1. Lower-cases and trims whitespace
//  2. Collapses internal runs of spaces
//  3. Strips a leading "division of " / "district of "
//  4. Strips a trailing " division" / " district"
//
// The result is a fixpoint, so Name(Name(x)) == Name(x). Empty input
// returns the empty string.
func Name(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	s = multiSpaceRe.ReplaceAllString(s, " ")

	for {
		trimmed := s
		for _, p := range prefixes {
			trimmed = strings.TrimPrefix(trimmed, p)
		}
		for _, suf := range suffixes {
			trimmed = strings.TrimSuffix(trimmed, suf)
		}
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// Equal reports whether two names canonicalize to the same string.
func Equal(a, b string) bool {
	return Name(a) == Name(b)
}
