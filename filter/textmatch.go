package filter

import (
	"strings"

	"golang.org/x/text/cases"
)

// Matches applies the text-match to value.
func (tm TextMatch) Matches(value string) bool {
	needle, hay := tm.fold(tm.Value), tm.fold(value)

	var ok bool
	switch tm.MatchType {
	case MatchEquals:
		ok = hay == needle
	case MatchStartsWith:
		ok = strings.HasPrefix(hay, needle)
	case MatchEndsWith:
		ok = strings.HasSuffix(hay, needle)
	default:
		ok = strings.Contains(hay, needle)
	}
	return ok != tm.Negate
}

func (tm TextMatch) fold(s string) string {
	switch tm.Collation {
	case CollationOctet:
		return s
	case CollationUnicodeCasemap:
		return cases.Fold().String(s)
	default:
		return asciiUpper(s)
	}
}

func asciiUpper(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r - ('a' - 'A')
		}
		return r
	}, s)
}
